package checkpoint

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Debunkem/CodeCollab/internal/db"
	"github.com/Debunkem/CodeCollab/internal/room"
	"github.com/Debunkem/CodeCollab/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakySink struct {
	mu    sync.Mutex
	fail  bool
	saved []room.FieldValue
}

func (f *flakySink) SaveFields(_ context.Context, values []room.FieldValue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("disk full")
	}
	f.saved = append(f.saved, values...)
	return nil
}

func newRoom(id string) *room.Room {
	return room.New(id, room.Spec{
		Name:            "Room " + id,
		Mode:            room.ModeFreeCode,
		Language:        room.LanguageJava,
		Privacy:         room.PrivacyPublic,
		MaxParticipants: 3,
	}, room.Profile{ID: "host", Username: "host"}, time.Now())
}

func TestFlushWritesDirtyFields(t *testing.T) {
	s := store.New()
	require.NoError(t, s.Insert(context.Background(), newRoom("r1")))
	require.NoError(t, s.WriteField("r1", room.FieldCode, "class Main {}"))

	sink := &flakySink{}
	svc := New(s, sink, DefaultConfig())

	assert.Equal(t, 1, svc.Flush())
	assert.Equal(t, 0, svc.Flush(), "nothing changed since the last flush")
	require.Len(t, sink.saved, 1)
	assert.Equal(t, room.FieldValue{RoomID: "r1", Field: room.FieldCode, Value: "class Main {}"}, sink.saved[0])
}

func TestFailedFlushIsRetried(t *testing.T) {
	s := store.New()
	require.NoError(t, s.Insert(context.Background(), newRoom("r1")))
	require.NoError(t, s.WriteField("r1", room.FieldOutput, "42"))

	sink := &flakySink{fail: true}
	svc := New(s, sink, DefaultConfig())

	assert.Equal(t, 0, svc.Flush())

	sink.fail = false
	assert.Equal(t, 1, svc.Flush())
	assert.Equal(t, "42", sink.saved[0].Value)
}

func TestStopFlushesPendingWrites(t *testing.T) {
	s := store.New()
	require.NoError(t, s.Insert(context.Background(), newRoom("r1")))

	sink := &flakySink{}
	svc := New(s, sink, Config{Interval: time.Hour})
	svc.Start()

	require.NoError(t, s.WriteField("r1", room.FieldCode, "final"))
	svc.Stop()
	assert.NotPanics(t, svc.Stop)

	require.Len(t, sink.saved, 1)
	assert.Equal(t, "final", sink.saved[0].Value)
}

func TestTickerFlushesToDatabase(t *testing.T) {
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer database.Close()

	s := store.New(store.WithPersister(database))
	require.NoError(t, s.Insert(context.Background(), newRoom("r1")))
	require.NoError(t, s.WriteField("r1", room.FieldCode, "System.out.println(1);"))

	svc := New(s, database, Config{Interval: 10 * time.Millisecond})
	svc.Start()
	defer svc.Stop()

	assert.Eventually(t, func() bool {
		values, err := database.LoadFields(context.Background())
		return err == nil && len(values) == 1 && values[0].Value == "System.out.println(1);"
	}, 2*time.Second, 10*time.Millisecond)
}
