// Package runner coordinates "run code" requests between a room's live
// output and the external executor.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Debunkem/CodeCollab/internal/executor"
	"github.com/Debunkem/CodeCollab/internal/ratelimit"
	"github.com/Debunkem/CodeCollab/internal/room"
	"github.com/Debunkem/CodeCollab/internal/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var ErrRateLimited = errors.New("too many runs in this room, try again shortly")

const DefaultRequestTimeout = 30 * time.Second

type Outcome string

const (
	Succeeded    Outcome = "succeeded"
	RuntimeError Outcome = "runtime_error"
	Unavailable  Outcome = "unavailable"
)

// Result is what the run wrote to the room's output as its final value
type Result struct {
	Outcome Outcome `json:"outcome"`
	Output  string  `json:"output"`
}

// IsError reports whether the invoker should style the output as an error
func (r Result) IsError() bool {
	return r.Outcome != Succeeded
}

type Request struct {
	RoomID   string
	Source   string
	Language room.Language
	By       room.Profile
}

// Coordinator dispatches runs. Runs in the same room are not serialized; the
// last executor response to arrive owns the output.
type Coordinator struct {
	store    *store.Store
	exec     executor.Executor
	runtimes executor.Runtimes
	limits   executor.Limits
	timeout  time.Duration
	throttle ratelimit.Keyed

	wg sync.WaitGroup
}

type Option func(*Coordinator)

func WithRuntimes(rs executor.Runtimes) Option {
	return func(c *Coordinator) { c.runtimes = rs }
}

func WithLimits(l executor.Limits) Option {
	return func(c *Coordinator) { c.limits = l }
}

// WithRequestTimeout bounds the whole executor round trip
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

// WithThrottle rejects runs once the room exceeds the limiter's budget
func WithThrottle(k ratelimit.Keyed) Option {
	return func(c *Coordinator) { c.throttle = k }
}

func NewCoordinator(s *store.Store, exec executor.Executor, opts ...Option) *Coordinator {
	if s == nil || exec == nil {
		panic("store and executor are required for runner Coordinator")
	}
	c := &Coordinator{
		store:    s,
		exec:     exec,
		runtimes: executor.DefaultRuntimes(),
		limits:   executor.DefaultLimits(),
		timeout:  DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunCode writes the running status to the room's output and dispatches one
// executor request in the background. The returned Run completes once the
// final output has been written; its lifetime is independent of ctx.
func (c *Coordinator) RunCode(ctx context.Context, req Request) (*Run, error) {
	r, err := c.store.Get(req.RoomID)
	if err != nil {
		return nil, err
	}
	if req.Language == "" {
		req.Language = r.Language
	}

	if c.throttle != nil {
		ok, err := c.throttle.Allow(ctx, "run:"+req.RoomID)
		if err != nil {
			// fail open
			logrus.WithError(err).WithField("room_id", req.RoomID).Warn("Run throttle unavailable")
		} else if !ok {
			return nil, ErrRateLimited
		}
	}

	run := newRun(uuid.NewString(), req)
	if err := c.store.WriteField(req.RoomID, room.FieldOutput, room.RunningOutput); err != nil {
		return nil, fmt.Errorf("write running status: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"run_id":   run.ID,
		"room_id":  req.RoomID,
		"user_id":  req.By.ID,
		"language": req.Language,
	}).Info("Run dispatched")

	c.wg.Add(1)
	go c.execute(run)
	return run, nil
}

func (c *Coordinator) execute(run *Run) {
	defer c.wg.Done()

	logCtx := logrus.WithFields(logrus.Fields{
		"run_id":  run.ID,
		"room_id": run.RoomID,
	})

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	rt := c.runtimes.Resolve(run.Language)
	start := time.Now()
	resp, err := c.exec.Execute(ctx, executor.NewRequest(rt, run.source, c.limits))

	var result Result
	switch {
	case err != nil:
		logCtx.WithError(err).Warn("Executor unavailable")
		result = Result{Outcome: Unavailable, Output: room.FailedToRunMsg}
	case resp == nil || !resp.Usable():
		logCtx.Warn("Executor returned no run stage")
		result = Result{Outcome: Unavailable, Output: room.FailedToRunMsg}
	case resp.ErrorText() != "":
		result = Result{Outcome: RuntimeError, Output: resp.ErrorText()}
	case resp.Stdout() == "":
		result = Result{Outcome: Succeeded, Output: room.NoOutput}
	default:
		result = Result{Outcome: Succeeded, Output: resp.Stdout()}
	}

	if err := c.store.WriteField(run.RoomID, room.FieldOutput, result.Output); err != nil {
		logCtx.WithError(err).Error("Failed to write run result")
	}

	logCtx.WithFields(logrus.Fields{
		"outcome": result.Outcome,
		"runtime": rt.Language + " " + rt.Version,
		"elapsed": time.Since(start),
	}).Info("Run finished")

	run.finish(result)
}

// Wait blocks until every dispatched run has written its result
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
