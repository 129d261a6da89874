package analytics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/otherjamesbrown/boxbridge/pkg/buildinfo"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/observability"
	bberrors "github.com/otherjamesbrown/boxbridge/pkg/errors"
	"github.com/otherjamesbrown/boxbridge/pkg/logging"
)

// DefaultTimeout bounds one analytics post.
const DefaultTimeout = 30 * time.Second

// ErrNotAccepted is returned when the endpoint answers anything but 202.
var ErrNotAccepted = errors.New("analytics record not accepted")

// Sink delivers analytics records.
type Sink interface {
	Send(ctx context.Context, rec Record) error
}

// DiscardSink drops records.
type DiscardSink struct{}

// Send does nothing.
func (DiscardSink) Send(context.Context, Record) error { return nil }

// StatusError is a post that came back with a status other than 202.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("analytics endpoint returned %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	return ErrNotAccepted
}

type payload struct {
	Data []Record `json:"data"`
}

// SalesforceSink posts records to a Data Cloud ingestion endpoint. Posts
// are never retried.
type SalesforceSink struct {
	http     *resty.Client
	endpoint string
	logger   logging.Logger
	metrics  *observability.BridgeMetrics
	tracer   *observability.Tracer
}

// Option configures the sink.
type Option func(*SalesforceSink)

// WithLogger sets a custom logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *SalesforceSink) {
		s.logger = logger
	}
}

// WithMetrics records post outcomes.
func WithMetrics(m *observability.BridgeMetrics) Option {
	return func(s *SalesforceSink) {
		s.metrics = m
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(s *SalesforceSink) {
		s.http.SetTimeout(d)
	}
}

// NewSalesforceSink creates a sink posting to endpoint with a bearer token.
func NewSalesforceSink(endpoint, token string, opts ...Option) (*SalesforceSink, error) {
	var missing []string
	if strings.TrimSpace(endpoint) == "" {
		missing = append(missing, "SALESFORCE_DATA_CLOUD_ENDPOINT")
	}
	if strings.TrimSpace(token) == "" {
		missing = append(missing, "SALESFORCE_ACCESS_TOKEN")
	}
	if len(missing) > 0 {
		return nil, bberrors.Configuration(missing...)
	}

	s := &SalesforceSink{
		http: resty.New().
			SetTimeout(DefaultTimeout).
			SetAuthToken(token).
			SetHeader("Content-Type", "application/json").
			SetHeader("User-Agent", buildinfo.UserAgent()).
			SetRetryCount(0),
		endpoint: endpoint,
		logger:   logging.NewNopLogger(),
		tracer:   observability.NewTracer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logging.F("component", "analytics_sink"))
	return s, nil
}

// Send posts one record as {"data":[rec]}. Only 202 Accepted is success.
func (s *SalesforceSink) Send(ctx context.Context, rec Record) error {
	ctx, span := s.tracer.StartAnalyticsSpan(ctx, rec.BoxFileID)
	defer span.End()
	spanHelper := observability.NewSpanHelper(span)

	log := s.logger.WithContext(ctx).With(logging.FileID(rec.BoxFileID))
	log.Debug("Posting analytics record", logging.F("record", rec))

	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(payload{Data: []Record{rec}}).
		Post(s.endpoint)
	if err != nil {
		err = fmt.Errorf("post analytics record: %w", err)
		log.Error("Salesforce data cloud update error", logging.Err(err))
		spanHelper.SetError(err, "transport", false)
		s.metrics.RecordAnalyticsPost(observability.OutcomeFailure)
		return err
	}

	if resp.StatusCode() != http.StatusAccepted {
		statusErr := &StatusError{StatusCode: resp.StatusCode(), Body: strings.TrimSpace(resp.String())}
		log.Error("Salesforce data cloud update error",
			logging.F("status", statusErr.StatusCode),
			logging.F("body", statusErr.Body))
		spanHelper.SetError(statusErr, "not_accepted", false)
		s.metrics.RecordAnalyticsPost(observability.OutcomeFailure)
		return statusErr
	}

	log.Info("Salesforce data cloud update success")
	spanHelper.SetSuccess()
	s.metrics.RecordAnalyticsPost(observability.OutcomeSuccess)
	return nil
}
