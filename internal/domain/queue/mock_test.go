package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// -- Store --

type mockStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*Entry
	floor   int
	failErr error
	lists   int
}

func newMockStore() *mockStore {
	return &mockStore{entries: make(map[uuid.UUID]*Entry)}
}

func (m *mockStore) setFail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

func (m *mockStore) put(e *Entry) *Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	m.entries[e.ID] = e.clone()
	return e
}

func (m *mockStore) Insert(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	for _, existing := range m.entries {
		if existing.QueueNumber == e.QueueNumber {
			return fmt.Errorf("insert: %w", ErrConcurrentModification)
		}
	}
	e.UpdatedAt = e.Timestamp
	m.entries[e.ID] = e.clone()
	return nil
}

func (m *mockStore) Get(_ context.Context, id uuid.UUID) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	e, ok := m.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return e.clone(), nil
}

func (m *mockStore) ListActive(ctx context.Context) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists++
	if m.failErr != nil {
		return nil, m.failErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*Entry
	for _, e := range m.entries {
		if e.Status.IsActive() {
			out = append(out, e.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueueNumber < out[j].QueueNumber })
	return out, nil
}

func (m *mockStore) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	e, ok := m.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	if e.Status != from {
		return nil, fmt.Errorf("%w: entry is %s", ErrInvalidTransition, e.Status)
	}
	e.Status = to
	return e.clone(), nil
}

func (m *mockStore) UpdatePriority(_ context.Context, id uuid.UUID, p Priority) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	e.Priority = p
	return e.clone(), nil
}

func (m *mockStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return ErrEntryNotFound
	}
	if e.QueueNumber > m.floor {
		m.floor = e.QueueNumber
	}
	delete(m.entries, id)
	return nil
}

func (m *mockStore) MaxQueueNumber(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return 0, m.failErr
	}
	highest := m.floor
	for _, e := range m.entries {
		if e.QueueNumber > highest {
			highest = e.QueueNumber
		}
	}
	return highest, nil
}

func (m *mockStore) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s Stats
	for _, e := range m.entries {
		switch e.Status {
		case StatusWaiting:
			s.Waiting++
			if e.Priority == PriorityPriority {
				s.PriorityWaiting++
			}
		case StatusCalled:
			s.Called++
		case StatusServing:
			s.Serving++
		}
	}
	return s, nil
}

func (m *mockStore) History(_ context.Context, limit int) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Entry
	for _, e := range m.entries {
		if e.Status == StatusCompleted {
			out = append(out, e.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueueNumber > out[j].QueueNumber })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockStore) PurgeCompletedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, e := range m.entries {
		if e.Status == StatusCompleted && e.UpdatedAt.Before(cutoff) {
			if e.QueueNumber > m.floor {
				m.floor = e.QueueNumber
			}
			delete(m.entries, id)
			n++
		}
	}
	return n, nil
}

// -- Allocator --

type mockAllocator struct {
	mu   sync.Mutex
	last int
}

func (a *mockAllocator) Next(context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.last++
	return a.last, nil
}

func (a *mockAllocator) Seed(_ context.Context, floor int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last < floor {
		a.last = floor
	}
	return nil
}

// -- Patients --

type mockDirectory map[uuid.UUID]*PatientSnapshot

func (d mockDirectory) Lookup(_ context.Context, id uuid.UUID) (*PatientSnapshot, error) {
	p, ok := d[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return p, nil
}

func (d mockDirectory) add(name string, age *int, tags ...string) uuid.UUID {
	id := uuid.New()
	d[id] = &PatientSnapshot{ID: id, DisplayName: name, Age: age, MedicalHistory: tags}
	return id
}

func intPtr(n int) *int { return &n }

// -- Settings --

type mockSettings struct {
	mu   sync.Mutex
	cfg  Settings
	subs []func()
}

func newMockSettings() *mockSettings {
	return &mockSettings{cfg: Settings{
		Rules:           Rules{PriorityForSeniors: true, PriorityForPWD: true, PriorityForPregnant: true},
		AutoRefresh:     false,
		RefreshInterval: 30 * time.Second,
		QueueUpdates:    true,
		SystemAlerts:    true,
		MaxDisplayItems: 10,
	}}
}

func (s *mockSettings) QueueSettings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *mockSettings) Subscribe(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
	return func() {}
}

func (s *mockSettings) update(fn func(*Settings)) {
	s.mu.Lock()
	fn(&s.cfg)
	subs := append([]func(){}, s.subs...)
	s.mu.Unlock()
	for _, f := range subs {
		f()
	}
}

// -- Publisher --

type mockPublisher struct {
	mu            sync.Mutex
	boards        []*Board
	announcements []Announcement
	notifications []Notification
}

func (p *mockPublisher) PublishBoard(b *Board) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.boards = append(p.boards, b)
}

func (p *mockPublisher) PublishAnnouncement(a Announcement) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.announcements = append(p.announcements, a)
}

func (p *mockPublisher) PublishNotification(n Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifications = append(p.notifications, n)
}

func (p *mockPublisher) announced() []Announcement {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Announcement(nil), p.announcements...)
}

func (p *mockPublisher) notified(kind NotificationKind) []Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Notification
	for _, n := range p.notifications {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// -- Audit --

type mockAudit struct {
	mu      sync.Mutex
	records []OverrideRecord
	err     error
}

func (a *mockAudit) RecordPriorityOverride(_ context.Context, rec OverrideRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.records = append(a.records, rec)
	return nil
}

// -- Refresher --

type countingRefresher struct {
	mu sync.Mutex
	n  int
}

func (r *countingRefresher) Trigger() {
	r.mu.Lock()
	r.n++
	r.mu.Unlock()
}

func (r *countingRefresher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}
