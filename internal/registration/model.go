package registration

import (
	"io"
	"time"

	"github.com/uptrace/bun"
)

// Registration is the stored row. Uniqueness of email, student_id and
// transaction_id is enforced by the table itself.
type Registration struct {
	bun.BaseModel `bun:"table:registrations,alias:r"`

	ID                 int64     `bun:"id,pk,autoincrement"`
	Name               string    `bun:"name,notnull"`
	Email              string    `bun:"email,notnull,unique"`
	StudentID          string    `bun:"student_id,notnull,unique"`
	Branch             string    `bun:"branch,notnull"`
	Year               int       `bun:"year,notnull"`
	Division           string    `bun:"division,notnull"`
	RollNo             int       `bun:"roll_no,notnull"`
	TransactionID      string    `bun:"transaction_id,notnull,unique"`
	ScreenshotFilename string    `bun:"screenshot_filename,notnull"`
	CreatedAt          time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// RegisterRequest is the scalar part of a submission as received on the wire.
type RegisterRequest struct {
	Name          string `form:"name" validate:"required,notblank"`
	Email         string `form:"email" validate:"required,email"`
	StudentID     string `form:"student_id" validate:"required,notblank"`
	Branch        string `form:"branch" validate:"required,notblank"`
	Year          int    `form:"year"`
	Division      string `form:"division" validate:"required,notblank"`
	RollNo        int    `form:"roll_no"`
	TransactionID string `form:"transaction_id" validate:"required,notblank"`
}

// Attachment is the uploaded screenshot. The caller owns Body and closes it.
type Attachment struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// RegistrationResponse is the JSON shape returned to clients.
type RegistrationResponse struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	Email              string `json:"email"`
	StudentID          string `json:"student_id"`
	Branch             string `json:"branch"`
	Year               int    `json:"year"`
	Division           string `json:"division"`
	RollNo             int    `json:"roll_no"`
	TransactionID      string `json:"transaction_id"`
	ScreenshotFilename string `json:"screenshot_filename"`
}

// RegistrationCreated is published once a registration is committed.
type RegistrationCreated struct {
	ID                 int64     `json:"id"`
	Email              string    `json:"email"`
	StudentID          string    `json:"student_id"`
	TransactionID      string    `json:"transaction_id"`
	ScreenshotFilename string    `json:"screenshot_filename"`
	CreatedAt          time.Time `json:"created_at"`
}

func newRegistration(req RegisterRequest, screenshotFilename string) *Registration {
	return &Registration{
		Name:               req.Name,
		Email:              req.Email,
		StudentID:          req.StudentID,
		Branch:             req.Branch,
		Year:               req.Year,
		Division:           req.Division,
		RollNo:             req.RollNo,
		TransactionID:      req.TransactionID,
		ScreenshotFilename: screenshotFilename,
	}
}

func toResponse(r *Registration) RegistrationResponse {
	return RegistrationResponse{
		ID:                 r.ID,
		Name:               r.Name,
		Email:              r.Email,
		StudentID:          r.StudentID,
		Branch:             r.Branch,
		Year:               r.Year,
		Division:           r.Division,
		RollNo:             r.RollNo,
		TransactionID:      r.TransactionID,
		ScreenshotFilename: r.ScreenshotFilename,
	}
}

func toEvent(r *Registration) RegistrationCreated {
	return RegistrationCreated{
		ID:                 r.ID,
		Email:              r.Email,
		StudentID:          r.StudentID,
		TransactionID:      r.TransactionID,
		ScreenshotFilename: r.ScreenshotFilename,
		CreatedAt:          r.CreatedAt,
	}
}
