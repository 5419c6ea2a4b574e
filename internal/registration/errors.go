package registration

import (
	"errors"
	"fmt"
)

var ErrRegistrationNotFound = errors.New("registration not found")

// Kind classifies why a submission was rejected.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindStorage:
		return "storage"
	default:
		return "internal"
	}
}

// Error is returned by the intake path for every failure. Message is safe to
// show to clients; Err is the underlying cause and is only logged.
type Error struct {
	Kind    Kind
	Message string
	// Detail names the database constraint for conflicts caught at insert.
	Detail string
	// Fields lists the unique fields involved in a conflict.
	Fields []string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the kind of err; anything that is not an *Error is internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func validationError(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

func storageError(message string, err error) *Error {
	return &Error{Kind: KindStorage, Message: message, Err: err}
}

func internalError(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

func conflictError(fields []string, detail string, err error) *Error {
	return &Error{
		Kind:    KindConflict,
		Message: conflictMessage(fields),
		Detail:  detail,
		Fields:  fields,
		Err:     err,
	}
}

func conflictMessage(fields []string) string {
	switch len(fields) {
	case 0:
		return "email, student_id or transaction_id already registered"
	case 1:
		return fields[0] + " already registered"
	case 2:
		return fields[0] + " and " + fields[1] + " already registered"
	default:
		return "email, student_id and transaction_id already registered"
	}
}
