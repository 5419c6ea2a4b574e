package registration

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"registration-service/internal/metrics"
	"registration-service/internal/storage"
)

// FileStore persists screenshot bytes under a generated name.
type FileStore interface {
	Save(ctx context.Context, name string, data []byte) error
}

// Publisher delivers registration events to a broker.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

type Service interface {
	Register(ctx context.Context, req RegisterRequest, screenshot Attachment) (*Registration, error)
	GetRegistration(ctx context.Context, id int64) (*Registration, error)
	GetAllRegistrations(ctx context.Context) ([]Registration, error)
}

type service struct {
	repo      Repository
	files     FileStore
	publisher Publisher
	newName   func(original string) (string, error)
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type Option func(*service)

// WithPublisher announces every committed registration on p.
func WithPublisher(p Publisher) Option {
	return func(s *service) {
		s.publisher = p
	}
}

// WithNameGenerator replaces the stored file name derivation.
func WithNameGenerator(fn func(original string) (string, error)) Option {
	return func(s *service) {
		s.newName = fn
	}
}

func NewService(repo Repository, files FileStore, logger *slog.Logger, m *metrics.Metrics, opts ...Option) Service {
	s := &service{
		repo:    repo,
		files:   files,
		newName: storage.GenerateName,
		logger:  logger,
		metrics: m,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register runs the intake pipeline: duplicate pre-check, screenshot write and
// row insert share one transaction. The table's unique constraints are the
// final arbiter when two submissions race past the pre-check.
func (s *service) Register(ctx context.Context, req RegisterRequest, screenshot Attachment) (*Registration, error) {
	var created *Registration

	err := s.repo.RunInTx(ctx, func(ctx context.Context, repo Repository) error {
		existing, err := repo.FindConflicts(ctx, req.Email, req.StudentID, req.TransactionID)
		if err != nil {
			return internalError("failed to check for existing registrations", err)
		}
		if len(existing) > 0 {
			s.metrics.RecordConflict(ctx, "precheck")
			return conflictError(matchingFields(existing, req), "", nil)
		}

		if storage.BaseName(screenshot.Filename) == "" {
			return validationError("screenshot filename is required")
		}
		name, err := s.newName(screenshot.Filename)
		if err != nil {
			return validationError("screenshot filename is invalid")
		}

		data, err := readAttachment(screenshot)
		if err != nil {
			return err
		}
		if err := s.files.Save(ctx, name, data); err != nil {
			return storageError("failed to store screenshot", err)
		}
		s.metrics.RecordScreenshotStored(ctx, int64(len(data)))

		registration := newRegistration(req, name)
		if err := repo.Create(ctx, registration); err != nil {
			if KindOf(err) == KindConflict {
				s.metrics.RecordConflict(ctx, "constraint")
				return err
			}
			return internalError("failed to save registration", err)
		}

		created = registration
		return nil
	})
	if err != nil {
		var regErr *Error
		if !errors.As(err, &regErr) {
			regErr = internalError("failed to commit registration", err)
		}
		s.metrics.RecordRejected(ctx, regErr.Kind.String())
		return nil, regErr
	}

	s.metrics.RecordRegistrationCreated(ctx)
	s.publishCreated(ctx, created)

	return created, nil
}

func (s *service) GetRegistration(ctx context.Context, id int64) (*Registration, error) {
	if id <= 0 {
		return nil, validationError("registration id must be positive")
	}
	return s.repo.GetByID(ctx, id)
}

func (s *service) GetAllRegistrations(ctx context.Context) ([]Registration, error) {
	return s.repo.GetAll(ctx)
}

// publishCreated is best effort: the row is already committed, so a broker
// failure is logged and counted but not reported to the client.
func (s *service) publishCreated(ctx context.Context, r *Registration) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, r.TransactionID, toEvent(r)); err != nil {
		s.metrics.RecordEventPublishFailed(ctx)
		s.logger.WarnContext(ctx, "failed to publish registration event", "id", r.ID, "error", err)
	}
}

func readAttachment(a Attachment) ([]byte, error) {
	if a.Body == nil {
		return nil, validationError("screenshot is required")
	}
	data, err := io.ReadAll(a.Body)
	if err != nil {
		return nil, internalError("failed to read screenshot", err)
	}
	return data, nil
}

// matchingFields lists which unique fields of req collide with existing rows.
func matchingFields(existing []Registration, req RegisterRequest) []string {
	var email, studentID, transactionID bool
	for _, r := range existing {
		email = email || r.Email == req.Email
		studentID = studentID || r.StudentID == req.StudentID
		transactionID = transactionID || r.TransactionID == req.TransactionID
	}

	var fields []string
	for i, matched := range []bool{email, studentID, transactionID} {
		if matched {
			fields = append(fields, uniqueFields[i])
		}
	}
	return fields
}
