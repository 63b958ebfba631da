package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Debunkem/CodeCollab/internal/room"
	"github.com/sirupsen/logrus"
)

var ErrDuplicateID = errors.New("room id already exists")

const defaultBufferSize = 64

// Persister is the durable backing of the store. Rooms are written through,
// live fields are flushed in batches by the checkpoint service.
type Persister interface {
	SaveRoom(ctx context.Context, r *room.Room) error
	LoadRooms(ctx context.Context) ([]room.Room, error)
	LoadFields(ctx context.Context) ([]room.FieldValue, error)
}

// Store is the authoritative table of rooms and their live fields
type Store struct {
	mu        sync.RWMutex
	rooms     map[string]*entry
	persister Persister
	buffer    int
}

type entry struct {
	id       string
	language room.Language

	// guards room and subs
	mu   sync.Mutex
	room *room.Room
	subs map[*mailbox[room.Room]]struct{}

	// fixed at creation, never mutated
	fields map[room.Field]*liveField
}

type liveField struct {
	mu    sync.Mutex
	value string
	set   bool
	dirty bool
	subs  map[*mailbox[string]]struct{}
}

type Option func(*Store)

func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithBufferSize sets how many undelivered values a subscriber may lag
// behind before older ones are coalesced away.
func WithBufferSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.buffer = n
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		rooms:  make(map[string]*entry),
		buffer: defaultBufferSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newEntry(r *room.Room) *entry {
	e := &entry{
		id:       r.ID,
		language: r.Language,
		room:     r,
		subs:     make(map[*mailbox[room.Room]]struct{}),
		fields:   make(map[room.Field]*liveField, len(room.LiveFields)),
	}
	for _, f := range room.LiveFields {
		e.fields[f] = &liveField{subs: make(map[*mailbox[string]]struct{})}
	}
	return e
}

// Restore loads persisted rooms and field values. Call before serving.
func (s *Store) Restore(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}

	rooms, err := s.persister.LoadRooms(ctx)
	if err != nil {
		return fmt.Errorf("load rooms: %w", err)
	}
	values, err := s.persister.LoadFields(ctx)
	if err != nil {
		return fmt.Errorf("load fields: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range rooms {
		r := rooms[i]
		s.rooms[r.ID] = newEntry(&r)
	}
	for _, v := range values {
		e, ok := s.rooms[v.RoomID]
		if !ok {
			continue
		}
		lf, ok := e.fields[v.Field]
		if !ok {
			continue
		}
		lf.value = v.Value
		lf.set = true
	}

	logrus.WithFields(logrus.Fields{
		"rooms":  len(rooms),
		"fields": len(values),
	}).Info("Session store restored")
	return nil
}

// Insert adds a new room. The room is visible to readers once Insert returns.
func (s *Store) Insert(ctx context.Context, r *room.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rooms[r.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, r.ID)
	}

	stored := r.Clone()
	if s.persister != nil {
		if err := s.persister.SaveRoom(ctx, &stored); err != nil {
			return fmt.Errorf("persist room %s: %w", r.ID, err)
		}
	}

	s.rooms[r.ID] = newEntry(&stored)
	return nil
}

func (s *Store) lookup(id string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.rooms[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", room.ErrRoomNotFound, id)
	}
	return e, nil
}

func (e *entry) field(f room.Field) (*liveField, error) {
	lf, ok := e.fields[f]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a live field", room.ErrInvalidField, f)
	}
	return lf, nil
}

// Get returns a copy of the room
func (s *Store) Get(id string) (room.Room, error) {
	e, err := s.lookup(id)
	if err != nil {
		return room.Room{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.room.Clone(), nil
}

// List returns rooms accepted by keep, newest first
func (s *Store) List(keep func(*room.Room) bool) []room.Room {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.rooms))
	for _, e := range s.rooms {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	rooms := make([]room.Room, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if keep == nil || keep(e.room) {
			rooms = append(rooms, e.room.Clone())
		}
		e.mu.Unlock()
	}

	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].CreatedAt.After(rooms[j].CreatedAt)
	})
	return rooms
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

// Update applies fn to a working copy of the room under the room lock. When
// fn reports a change the copy is persisted, becomes authoritative and is
// delivered to metadata subscribers.
func (s *Store) Update(ctx context.Context, id string, fn func(r *room.Room) (bool, error)) (room.Room, bool, error) {
	e, err := s.lookup(id)
	if err != nil {
		return room.Room{}, false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	work := e.room.Clone()
	changed, err := fn(&work)
	if err != nil {
		return e.room.Clone(), false, err
	}
	if !changed {
		return work, false, nil
	}

	if s.persister != nil {
		if err := s.persister.SaveRoom(ctx, &work); err != nil {
			return e.room.Clone(), false, fmt.Errorf("persist room %s: %w", id, err)
		}
	}

	e.room = &work
	for mb := range e.subs {
		mb.offer(work.Clone())
	}
	return work.Clone(), true, nil
}

// SubscribeRoom streams room snapshots, starting with the current one. The
// subscription is cancelled when ctx is done.
func (s *Store) SubscribeRoom(ctx context.Context, id string) (*Subscription[room.Room], error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	mb := newMailbox[room.Room](s.buffer)

	e.mu.Lock()
	e.subs[mb] = struct{}{}
	mb.offer(e.room.Clone())
	e.mu.Unlock()

	sub := newSubscription(mb, func() {
		e.mu.Lock()
		delete(e.subs, mb)
		mb.shut()
		e.mu.Unlock()
	})
	context.AfterFunc(ctx, sub.Cancel)
	return sub, nil
}

// SubscribeField streams values of a live field, starting with the current
// one. An absent field is initialized with its default first.
func (s *Store) SubscribeField(ctx context.Context, id string, f room.Field) (*Subscription[string], error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	lf, err := e.field(f)
	if err != nil {
		return nil, err
	}

	mb := newMailbox[string](s.buffer)

	lf.mu.Lock()
	e.ensureInitialized(f, lf)
	lf.subs[mb] = struct{}{}
	mb.offer(lf.value)
	lf.mu.Unlock()

	sub := newSubscription(mb, func() {
		lf.mu.Lock()
		delete(lf.subs, mb)
		mb.shut()
		lf.mu.Unlock()
	})
	context.AfterFunc(ctx, sub.Cancel)
	return sub, nil
}

// must hold lf.mu
func (e *entry) ensureInitialized(f room.Field, lf *liveField) {
	if lf.set {
		return
	}
	lf.value = room.DefaultValue(f, e.id, e.language)
	lf.set = true
	lf.dirty = true
	for mb := range lf.subs {
		mb.offer(lf.value)
	}
}

// ReadField returns the current value of a live field, initializing it to
// its default if absent.
func (s *Store) ReadField(id string, f room.Field) (string, error) {
	e, err := s.lookup(id)
	if err != nil {
		return "", err
	}
	lf, err := e.field(f)
	if err != nil {
		return "", err
	}

	lf.mu.Lock()
	defer lf.mu.Unlock()
	e.ensureInitialized(f, lf)
	return lf.value, nil
}

// WriteField replaces the value of a live field and delivers it to every
// subscriber of that field, including other sessions of the writer.
func (s *Store) WriteField(id string, f room.Field, value string) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	lf, err := e.field(f)
	if err != nil {
		return err
	}

	lf.mu.Lock()
	defer lf.mu.Unlock()

	lf.value = value
	lf.set = true
	lf.dirty = true
	for mb := range lf.subs {
		mb.offer(value)
	}
	return nil
}

// TakeDirty returns every live field written since the last call and clears
// the dirty marks.
func (s *Store) TakeDirty() []room.FieldValue {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.rooms))
	for _, e := range s.rooms {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var dirty []room.FieldValue
	for _, e := range entries {
		for _, f := range room.LiveFields {
			lf := e.fields[f]
			lf.mu.Lock()
			if lf.dirty {
				dirty = append(dirty, room.FieldValue{RoomID: e.id, Field: f, Value: lf.value})
				lf.dirty = false
			}
			lf.mu.Unlock()
		}
	}
	return dirty
}

// MarkDirty flags fields again after a failed flush so the next flush
// picks up their current value.
func (s *Store) MarkDirty(values []room.FieldValue) {
	for _, v := range values {
		e, err := s.lookup(v.RoomID)
		if err != nil {
			continue
		}
		lf, err := e.field(v.Field)
		if err != nil {
			continue
		}
		lf.mu.Lock()
		lf.dirty = true
		lf.mu.Unlock()
	}
}

// Subscribers returns the number of active subscriptions on a room channel
func (s *Store) Subscribers(id string, f room.Field) int {
	e, err := s.lookup(id)
	if err != nil {
		return 0
	}
	if f == room.FieldMetadata {
		e.mu.Lock()
		defer e.mu.Unlock()
		return len(e.subs)
	}
	lf, err := e.field(f)
	if err != nil {
		return 0
	}
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return len(lf.subs)
}
