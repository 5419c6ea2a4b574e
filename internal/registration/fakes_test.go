package registration_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"registration-service/internal/registration"
)

// memRepository mimics the Postgres table: unique columns are enforced on
// Create and a failed transaction leaves no rows behind.
type memRepository struct {
	mu     sync.Mutex
	rows   []registration.Registration
	nextID int64

	// skipPrecheck makes FindConflicts report nothing, as if a concurrent
	// submission committed between the pre-check and the insert.
	skipPrecheck bool
	createErr    error
	findErr      error
}

func newMemRepository() *memRepository {
	return &memRepository{nextID: 1}
}

func (m *memRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, repo registration.Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := append([]registration.Registration(nil), m.rows...)
	nextID := m.nextID
	if err := fn(ctx, &memTx{m: m}); err != nil {
		m.rows = snapshot
		m.nextID = nextID
		return err
	}
	return nil
}

func (m *memRepository) FindConflicts(ctx context.Context, email, studentID, transactionID string) ([]registration.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{m: m}).FindConflicts(ctx, email, studentID, transactionID)
}

func (m *memRepository) Create(ctx context.Context, r *registration.Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{m: m}).Create(ctx, r)
}

func (m *memRepository) GetByID(ctx context.Context, id int64) (*registration.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{m: m}).GetByID(ctx, id)
}

func (m *memRepository) GetAll(ctx context.Context) ([]registration.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memTx{m: m}).GetAll(ctx)
}

func (m *memRepository) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows), nil
}

// memTx runs with memRepository.mu already held.
type memTx struct {
	m *memRepository
}

func (t *memTx) RunInTx(context.Context, func(context.Context, registration.Repository) error) error {
	return errors.New("nested transactions are not supported")
}

func (t *memTx) FindConflicts(_ context.Context, email, studentID, transactionID string) ([]registration.Registration, error) {
	if t.m.findErr != nil {
		return nil, t.m.findErr
	}
	if t.m.skipPrecheck {
		return nil, nil
	}
	var out []registration.Registration
	for _, r := range t.m.rows {
		if r.Email == email || r.StudentID == studentID || r.TransactionID == transactionID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *memTx) Create(_ context.Context, r *registration.Registration) error {
	if t.m.createErr != nil {
		return t.m.createErr
	}
	for _, existing := range t.m.rows {
		var field string
		switch {
		case existing.Email == r.Email:
			field = "email"
		case existing.StudentID == r.StudentID:
			field = "student_id"
		case existing.TransactionID == r.TransactionID:
			field = "transaction_id"
		default:
			continue
		}
		return &registration.Error{
			Kind:    registration.KindConflict,
			Message: field + " already registered",
			Detail:  "registrations_" + field + "_key",
			Fields:  []string{field},
		}
	}

	r.ID = t.m.nextID
	r.CreatedAt = time.Now().UTC()
	t.m.nextID++
	t.m.rows = append(t.m.rows, *r)
	return nil
}

func (t *memTx) GetByID(_ context.Context, id int64) (*registration.Registration, error) {
	for _, r := range t.m.rows {
		if r.ID == id {
			found := r
			return &found, nil
		}
	}
	return nil, registration.ErrRegistrationNotFound
}

func (t *memTx) GetAll(context.Context) ([]registration.Registration, error) {
	return append([]registration.Registration(nil), t.m.rows...), nil
}

func (t *memTx) Count(context.Context) (int, error) {
	return len(t.m.rows), nil
}

type publishedEvent struct {
	key   string
	event any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, publishedEvent{key: key, event: event})
	return nil
}

func (p *recordingPublisher) published() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedEvent(nil), p.events...)
}
