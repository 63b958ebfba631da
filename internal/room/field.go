package room

import "fmt"

// Field names a synchronized channel of a room
type Field string

const (
	FieldMetadata Field = "metadata"
	FieldCode     Field = "code"
	FieldOutput   Field = "output"
)

// Fixed LiveOutput messages
const (
	DefaultOutput  = `Click "Run Code" to see output...`
	RunningOutput  = "Running code..."
	NoOutput       = "(No output)"
	FailedToRunMsg = "Failed to run code. Check the console or API status."
)

// LiveFields lists the mutable string fields of a room
var LiveFields = []Field{FieldCode, FieldOutput}

// ParseField validates a field name received from a client
func ParseField(s string) (Field, error) {
	switch f := Field(s); f {
	case FieldMetadata, FieldCode, FieldOutput:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidField, s)
}

// IsLive reports whether the field holds a replaceable string value
func (f Field) IsLive() bool {
	return f == FieldCode || f == FieldOutput
}

// DefaultValue returns the placeholder a live field is initialized with
func DefaultValue(f Field, roomID string, lang Language) string {
	switch f {
	case FieldCode:
		name := string(lang)
		if name == "" {
			name = "your language"
		}
		return fmt.Sprintf("// Welcome to %s!\n// Start coding in %s...", roomID, name)
	case FieldOutput:
		return DefaultOutput
	}
	return ""
}

// A persisted live field value
type FieldValue struct {
	RoomID string
	Field  Field
	Value  string
}
