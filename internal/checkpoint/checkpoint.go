// Package checkpoint periodically flushes live field values from the session
// store to durable storage.
package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/Debunkem/CodeCollab/internal/room"
	"github.com/sirupsen/logrus"
)

// Source hands out field values written since the previous flush
type Source interface {
	TakeDirty() []room.FieldValue
	MarkDirty(values []room.FieldValue)
}

type Sink interface {
	SaveFields(ctx context.Context, values []room.FieldValue) error
}

type Config struct {
	Interval     time.Duration
	FlushTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:     5 * time.Second,
		FlushTimeout: 10 * time.Second,
	}
}

type Service struct {
	source Source
	sink   Sink
	config Config
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func New(source Source, sink Sink, config Config) *Service {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.FlushTimeout <= 0 {
		config.FlushTimeout = DefaultConfig().FlushTimeout
	}
	return &Service{
		source: source,
		sink:   sink,
		config: config,
		stop:   make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	logrus.WithField("interval", s.config.Interval).Info("Checkpoint service started")
}

// Stop ends the loop after one last flush
func (s *Service) Stop() {
	s.once.Do(func() {
		close(s.stop)
		s.wg.Wait()
		logrus.Info("Checkpoint service stopped")
	})
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			s.Flush()
			return
		case <-ticker.C:
			s.Flush()
		}
	}
}

// Flush writes every dirty field in one batch. On failure the fields are
// marked dirty again and retried on the next tick.
func (s *Service) Flush() int {
	values := s.source.TakeDirty()
	if len(values) == 0 {
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.FlushTimeout)
	defer cancel()

	if err := s.sink.SaveFields(ctx, values); err != nil {
		s.source.MarkDirty(values)
		logrus.WithError(err).WithField("fields", len(values)).Error("Checkpoint flush failed")
		return 0
	}

	logrus.WithField("fields", len(values)).Debug("Checkpoint flushed")
	return len(values)
}
