// Package executor talks to the external code-execution service.
package executor

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable covers every way the executor can fail to give a usable
// answer: transport errors, timeouts, non-2xx replies and malformed bodies.
var ErrUnavailable = errors.New("executor unavailable")

type Executor interface {
	Execute(ctx context.Context, req Request) (*Response, error)
}

type File struct {
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}

// Request is the wire format of POST /execute
type Request struct {
	Language       string   `json:"language"`
	Version        string   `json:"version"`
	Files          []File   `json:"files"`
	Stdin          string   `json:"stdin"`
	Args           []string `json:"args"`
	CompileTimeout int      `json:"compile_timeout"`
	RunTimeout     int      `json:"run_timeout"`
}

// Limits are the sandbox timeouts sent with every request
type Limits struct {
	Compile time.Duration
	Run     time.Duration
}

func DefaultLimits() Limits {
	return Limits{Compile: 10 * time.Second, Run: 3 * time.Second}
}

// NewRequest builds a single-file request for rt
func NewRequest(rt Runtime, source string, limits Limits) Request {
	return Request{
		Language:       rt.Language,
		Version:        rt.Version,
		Files:          []File{{Name: rt.FileName, Content: source}},
		Stdin:          "",
		Args:           []string{},
		CompileTimeout: int(limits.Compile.Milliseconds()),
		RunTimeout:     int(limits.Run.Milliseconds()),
	}
}

// ErrorText returns the error stream of the response, preferring the run
// stage and falling back to a failed compile stage.
func (r *Response) ErrorText() string {
	if r.Run != nil && r.Run.Stderr != "" {
		return r.Run.Stderr
	}
	if r.CompileFailed() && r.Compile.Stderr != "" {
		return r.Compile.Stderr
	}
	return ""
}

// CompileFailed reports whether a compile stage ran and exited non-zero
func (r *Response) CompileFailed() bool {
	return r.Compile != nil && (r.Compile.Code == nil || *r.Compile.Code != 0)
}

// Usable reports whether the response carries a result: a run stage, or a
// compile stage that failed and so explains the missing run.
func (r *Response) Usable() bool {
	return r.Run != nil || r.CompileFailed()
}

// Stdout returns the run stage's standard output
func (r *Response) Stdout() string {
	if r.Run == nil {
		return ""
	}
	return r.Run.Stdout
}

type Stage struct {
	Stdout string  `json:"stdout"`
	Stderr string  `json:"stderr"`
	Output string  `json:"output"`
	Code   *int    `json:"code"`
	Signal *string `json:"signal"`
}

type Response struct {
	Language string `json:"language"`
	Version  string `json:"version"`
	Run      *Stage `json:"run"`
	Compile  *Stage `json:"compile,omitempty"`
}
