package session

import (
	"crypto/rand"
	"fmt"
)

// URL-safe alphabet used for room IDs
const idAlphabet = "useandom-26T198340PX75pxJACKVERYMINDBUSHWOLF_GQZbfghjklqvwyzrict"

const DefaultIDLength = 10

// NewRoomID returns a random URL-safe token of the given length. The
// alphabet has 64 symbols so masking a byte keeps the distribution uniform.
func NewRoomID(length int) (string, error) {
	if length <= 0 {
		length = DefaultIDLength
	}
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	for i := range b {
		b[i] = idAlphabet[b[i]&63]
	}
	return string(b), nil
}
