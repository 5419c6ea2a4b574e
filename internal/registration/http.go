package registration

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"registration-service/common/httputil"
	"registration-service/internal/metrics"
	"registration-service/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/spf13/afero"
)

const (
	screenshotField = "screenshot"

	// multipartMemory is how much of a form ParseMultipartForm keeps in memory
	// before spilling file parts to temporary files.
	multipartMemory = 1 << 20
)

// ScreenshotSource opens stored screenshots by name.
type ScreenshotSource interface {
	Open(name string) (afero.File, error)
}

type Handler struct {
	service        Service
	screenshots    ScreenshotSource
	validate       *validator.Validate
	logger         *slog.Logger
	metrics        *metrics.Metrics
	maxUploadBytes int64
}

func NewHandler(service Service, screenshots ScreenshotSource, logger *slog.Logger, m *metrics.Metrics, maxUploadBytes int64) *Handler {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("form"); name != "" {
			return name
		}
		return f.Name
	})
	// Fails only for an empty tag or a nil func.
	_ = validate.RegisterValidation("notblank", validators.NotBlank)

	return &Handler{
		service:        service,
		screenshots:    screenshots,
		validate:       validate,
		logger:         logger,
		metrics:        m,
		maxUploadBytes: maxUploadBytes,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/register/", h.Register)
	r.Post("/register", h.Register)
	r.Get("/registrations", h.GetAllRegistrations)
	r.Get("/registrations/{id}", h.GetRegistration)
	r.Get("/registrations/{id}/screenshot", h.GetScreenshot)
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.maxUploadBytes > 0 {
		if r.ContentLength > h.maxUploadBytes {
			httputil.RespondWithError(w, http.StatusBadRequest, fmt.Sprintf("request body exceeds %d bytes", h.maxUploadBytes))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.RespondWithError(w, http.StatusBadRequest, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		httputil.RespondWithError(w, http.StatusBadRequest, "request must be multipart/form-data")
		return
	}
	defer r.MultipartForm.RemoveAll()

	req, err := parseRegisterRequest(r)
	if err != nil {
		httputil.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		httputil.RespondWithError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	var screenshot Attachment
	file, header, err := r.FormFile(screenshotField)
	switch {
	case err == nil:
		defer file.Close()
		screenshot = Attachment{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Body:        file,
		}
	case errors.Is(err, http.ErrMissingFile):
		// A part sent with an empty filename is parsed as a plain value.
		// Pass it on without a name so the service rejects it in order.
		values, ok := r.MultipartForm.Value[screenshotField]
		if !ok {
			httputil.RespondWithError(w, http.StatusBadRequest, "screenshot is required")
			return
		}
		screenshot = Attachment{Body: strings.NewReader(strings.Join(values, ""))}
	default:
		h.logger.ErrorContext(ctx, "failed to read screenshot part", "error", err)
		httputil.RespondWithError(w, http.StatusInternalServerError, "failed to read screenshot")
		return
	}

	h.logger.InfoContext(ctx, "registering student",
		"email", req.Email,
		"student_id", req.StudentID,
		"transaction_id", req.TransactionID,
	)

	registration, err := h.service.Register(ctx, req, screenshot)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.RespondWithJSON(w, http.StatusCreated, toResponse(registration))
}

func (h *Handler) GetAllRegistrations(w http.ResponseWriter, r *http.Request) {
	registrations, err := h.service.GetAllRegistrations(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.metrics.RecordRegistrationViewed(r.Context(), "list")

	response := make([]RegistrationResponse, 0, len(registrations))
	for i := range registrations {
		response = append(response, toResponse(&registrations[i]))
	}
	httputil.RespondWithJSON(w, http.StatusOK, response)
}

func (h *Handler) GetRegistration(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httputil.RespondWithError(w, http.StatusBadRequest, "invalid registration id")
		return
	}

	registration, err := h.service.GetRegistration(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.metrics.RecordRegistrationViewed(r.Context(), "detail")

	httputil.RespondWithJSON(w, http.StatusOK, toResponse(registration))
}

func (h *Handler) GetScreenshot(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httputil.RespondWithError(w, http.StatusBadRequest, "invalid registration id")
		return
	}

	registration, err := h.service.GetRegistration(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	file, err := h.screenshots.Open(registration.ScreenshotFilename)
	if err != nil {
		if errors.Is(err, storage.ErrFileNotFound) {
			h.logger.WarnContext(r.Context(), "screenshot missing for registration", "id", id, "file", registration.ScreenshotFilename)
			httputil.RespondWithError(w, http.StatusNotFound, "screenshot not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "failed to open screenshot", "id", id, "error", err)
		httputil.RespondWithError(w, http.StatusInternalServerError, "failed to read screenshot")
		return
	}
	defer file.Close()

	modTime := time.Time{}
	if info, err := file.Stat(); err == nil {
		modTime = info.ModTime()
	}
	http.ServeContent(w, r, registration.ScreenshotFilename, modTime, file)
}

func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	if errors.Is(err, ErrRegistrationNotFound) {
		httputil.RespondWithError(w, http.StatusNotFound, "registration not found")
		return
	}

	var regErr *Error
	if !errors.As(err, &regErr) {
		regErr = internalError("internal server error", err)
	}

	switch regErr.Kind {
	case KindValidation:
		httputil.RespondWithError(w, http.StatusBadRequest, regErr.Message)
	case KindConflict:
		h.logger.InfoContext(ctx, "registration conflict", "fields", regErr.Fields, "constraint", regErr.Detail)
		if regErr.Detail != "" {
			httputil.RespondWithErrorDetail(w, http.StatusConflict, regErr.Message, regErr.Detail)
			return
		}
		httputil.RespondWithError(w, http.StatusConflict, regErr.Message)
	default:
		h.logger.ErrorContext(ctx, "registration request failed", "kind", regErr.Kind.String(), "error", regErr.Err)
		httputil.RespondWithError(w, http.StatusInternalServerError, regErr.Message)
	}
}

func parseRegisterRequest(r *http.Request) (RegisterRequest, error) {
	year, err := formInt(r, "year")
	if err != nil {
		return RegisterRequest{}, err
	}
	rollNo, err := formInt(r, "roll_no")
	if err != nil {
		return RegisterRequest{}, err
	}

	return RegisterRequest{
		Name:          r.PostFormValue("name"),
		Email:         r.PostFormValue("email"),
		StudentID:     r.PostFormValue("student_id"),
		Branch:        r.PostFormValue("branch"),
		Year:          year,
		Division:      r.PostFormValue("division"),
		RollNo:        rollNo,
		TransactionID: r.PostFormValue("transaction_id"),
	}, nil
}

func formInt(r *http.Request, field string) (int, error) {
	raw := strings.TrimSpace(r.PostFormValue(field))
	if raw == "" {
		return 0, fmt.Errorf("%s is required", field)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", field)
	}
	return v, nil
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return "invalid request"
	}

	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required", "notblank":
		return fe.Field() + " is required"
	case "email":
		return fe.Field() + " must be a valid email address"
	default:
		return fe.Field() + " is invalid"
	}
}
