package runner

import (
	"github.com/Debunkem/CodeCollab/internal/room"
)

// Run is the invoker's handle on a dispatched run
type Run struct {
	ID       string
	RoomID   string
	Language room.Language
	By       room.Profile

	source string
	done   chan struct{}
	result Result
}

func newRun(id string, req Request) *Run {
	return &Run{
		ID:       id,
		RoomID:   req.RoomID,
		Language: req.Language,
		By:       req.By,
		source:   req.Source,
		done:     make(chan struct{}),
	}
}

func (r *Run) finish(res Result) {
	r.result = res
	close(r.done)
}

// Done is closed once the final output has been written
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Result is valid after Done is closed
func (r *Run) Result() Result {
	<-r.done
	return r.result
}
