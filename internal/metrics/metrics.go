package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type Metrics struct {
	registrationsCreated  metric.Int64Counter
	registrationConflicts metric.Int64Counter
	registrationsRejected metric.Int64Counter
	screenshotBytes       metric.Int64Histogram
	eventPublishFailures  metric.Int64Counter
	registrationsViewed   metric.Int64Counter
}

func New(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.registrationsCreated, err = meter.Int64Counter(
		"registration_service.registrations.created",
		metric.WithDescription("Total number of registrations committed"),
		metric.WithUnit("{registration}"),
	)
	if err != nil {
		return nil, err
	}

	m.registrationConflicts, err = meter.Int64Counter(
		"registration_service.registrations.conflicts",
		metric.WithDescription("Duplicate submissions, by the stage that caught them"),
		metric.WithUnit("{registration}"),
	)
	if err != nil {
		return nil, err
	}

	m.registrationsRejected, err = meter.Int64Counter(
		"registration_service.registrations.rejected",
		metric.WithDescription("Failed submissions, by error kind"),
		metric.WithUnit("{registration}"),
	)
	if err != nil {
		return nil, err
	}

	m.screenshotBytes, err = meter.Int64Histogram(
		"registration_service.screenshots.size",
		metric.WithDescription("Size of stored screenshots"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(16<<10, 64<<10, 256<<10, 1<<20, 4<<20, 10<<20),
	)
	if err != nil {
		return nil, err
	}

	m.eventPublishFailures, err = meter.Int64Counter(
		"registration_service.events.publish_failures",
		metric.WithDescription("Registration events that could not be published"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	m.registrationsViewed, err = meter.Int64Counter(
		"registration_service.registrations.viewed",
		metric.WithDescription("Reads of the registration API"),
		metric.WithUnit("{view}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) RecordRegistrationCreated(ctx context.Context) {
	if m != nil && m.registrationsCreated != nil {
		m.registrationsCreated.Add(ctx, 1)
	}
}

// RecordConflict takes "precheck" or "constraint".
func (m *Metrics) RecordConflict(ctx context.Context, stage string) {
	if m != nil && m.registrationConflicts != nil {
		m.registrationConflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
	}
}

func (m *Metrics) RecordRejected(ctx context.Context, kind string) {
	if m != nil && m.registrationsRejected != nil {
		m.registrationsRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
}

func (m *Metrics) RecordScreenshotStored(ctx context.Context, size int64) {
	if m != nil && m.screenshotBytes != nil {
		m.screenshotBytes.Record(ctx, size)
	}
}

func (m *Metrics) RecordEventPublishFailed(ctx context.Context) {
	if m != nil && m.eventPublishFailures != nil {
		m.eventPublishFailures.Add(ctx, 1)
	}
}

// RecordRegistrationViewed takes "list" or "detail".
func (m *Metrics) RecordRegistrationViewed(ctx context.Context, view string) {
	if m != nil && m.registrationsViewed != nil {
		m.registrationsViewed.Add(ctx, 1, metric.WithAttributes(attribute.String("view", view)))
	}
}

// NewMock creates a no-op Metrics instance for testing
// The returned Metrics will safely ignore all Record* calls
func NewMock() *Metrics {
	return &Metrics{}
}
