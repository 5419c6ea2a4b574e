package registration

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"registration-service/common/metrics"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

const (
	tableName = "registrations"

	pgUniqueViolation = "23505"
)

// uniqueFields are the columns protected by both the pre-check and the table
// constraints, in reporting order.
var uniqueFields = []string{"email", "student_id", "transaction_id"}

type Repository interface {
	// RunInTx calls fn with a Repository bound to a single transaction.
	// The transaction commits when fn returns nil and rolls back otherwise.
	RunInTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
	FindConflicts(ctx context.Context, email, studentID, transactionID string) ([]Registration, error)
	Create(ctx context.Context, registration *Registration) error
	GetByID(ctx context.Context, id int64) (*Registration, error)
	GetAll(ctx context.Context) ([]Registration, error)
	Count(ctx context.Context) (int, error)
}

type repository struct {
	db      *bun.DB
	conn    bun.IDB
	metrics *metrics.Metrics
}

func NewRepository(db *bun.DB, m *metrics.Metrics) Repository {
	return &repository{
		db:      db,
		conn:    db,
		metrics: m,
	}
}

func (r *repository) RunInTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	return r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &repository{db: r.db, conn: tx, metrics: r.metrics})
	})
}

func (r *repository) FindConflicts(ctx context.Context, email, studentID, transactionID string) ([]Registration, error) {
	start := time.Now()
	var existing []Registration
	err := r.conn.NewSelect().
		Model(&existing).
		WhereOr("email = ?", email).
		WhereOr("student_id = ?", studentID).
		WhereOr("transaction_id = ?", transactionID).
		Scan(ctx)

	r.recordQuery(ctx, "select", start, err)

	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return existing, nil
}

func (r *repository) Create(ctx context.Context, registration *Registration) error {
	start := time.Now()
	_, err := r.conn.NewInsert().Model(registration).Returning("*").Exec(ctx)

	r.recordQuery(ctx, "insert", start, err)

	if err != nil {
		if field, constraint, ok := uniqueViolation(err); ok {
			var fields []string
			if field != "" {
				fields = []string{field}
			}
			return conflictError(fields, constraint, err)
		}
		return err
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id int64) (*Registration, error) {
	start := time.Now()
	registration := new(Registration)
	err := r.conn.NewSelect().Model(registration).Where("id = ?", id).Scan(ctx)

	r.recordQuery(ctx, "select", start, err)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRegistrationNotFound
		}
		return nil, err
	}
	return registration, nil
}

func (r *repository) GetAll(ctx context.Context) ([]Registration, error) {
	start := time.Now()
	registrations := make([]Registration, 0)
	err := r.conn.NewSelect().Model(&registrations).Order("id ASC").Scan(ctx)

	r.recordQuery(ctx, "select", start, err)

	return registrations, err
}

func (r *repository) Count(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := r.conn.NewSelect().Model((*Registration)(nil)).Count(ctx)

	r.recordQuery(ctx, "count", start, err)

	return n, err
}

func (r *repository) recordQuery(ctx context.Context, operation string, start time.Time, err error) {
	if r.metrics == nil {
		return
	}
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
	}
	r.metrics.Database.RecordQuery(ctx, operation, tableName, time.Since(start), err)
}

// uniqueViolation maps a postgres unique_violation to the column it protects
// and the name of the violated constraint.
func uniqueViolation(err error) (field, constraint string, ok bool) {
	var pgErr pgdriver.Error
	if !errors.As(err, &pgErr) || pgErr.Field('C') != pgUniqueViolation {
		return "", "", false
	}

	constraint = pgErr.Field('n')
	source := constraint
	if source == "" {
		source = pgErr.Field('D')
	}
	for _, f := range uniqueFields {
		if strings.Contains(source, f) {
			return f, constraint, true
		}
	}
	return "", constraint, true
}
