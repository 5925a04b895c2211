package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	requestSpanName    = "dashboard.request"
	requestEventName   = "dashboard.request.metrics"
	requestEventDomain = "dashboard"
	observabilityEvent = "observability.event"
	tracerName         = "dashboard/api"

	metricsContextKey = "dashboard.metrics"
)

// requestMetrics collects stage timings for one dashboard request and
// reports them as a span plus one structured log entry.
type requestMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time

	route  string
	method string

	authDuration   time.Duration
	storeDuration  time.Duration
	encodeDuration time.Duration
	itemsReturned  int
	errorStage     string
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, method, route string) (*requestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, requestSpanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.route", route),
			attribute.String("http.method", method),
		),
	)
	return &requestMetrics{
		logger:        logger,
		span:          span,
		start:         time.Now(),
		route:         route,
		method:        method,
		itemsReturned: -1,
	}, spanCtx
}

// Metrics starts a requestMetrics for every request and logs it once the
// handler returns.
func Metrics(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			m, ctx := newRequestMetrics(c.Request().Context(), logger, c.Request().Method, c.Path())
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set(metricsContextKey, m)
			defer func() {
				status := c.Response().Status
				if err != nil {
					var he *echo.HTTPError
					if errors.As(err, &he) {
						status = he.Code
					}
				}
				m.Log(status, err)
			}()
			return next(c)
		}
	}
}

func metricsFrom(c echo.Context) *requestMetrics {
	m, _ := c.Get(metricsContextKey).(*requestMetrics)
	return m
}

func (m *requestMetrics) ObserveAuth(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.authDuration = d
}

func (m *requestMetrics) ObserveStore(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.storeDuration += d
}

func (m *requestMetrics) ObserveEncode(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.encodeDuration = d
}

func (m *requestMetrics) SetItemsReturned(n int) {
	if m == nil {
		return
	}
	if n < 0 {
		n = 0
	}
	m.itemsReturned = n
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if m == nil || stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	total := durationToMillis(time.Since(m.start))
	attrs := []attribute.KeyValue{
		attribute.String("http.route", m.route),
		attribute.String("http.method", m.method),
		attribute.Int("http.status_code", status),
		attribute.Float64("dashboard.total_ms", total),
	}
	if m.authDuration > 0 {
		attrs = append(attrs, attribute.Float64("dashboard.auth_ms", durationToMillis(m.authDuration)))
	}
	if m.storeDuration > 0 {
		attrs = append(attrs, attribute.Float64("dashboard.store_ms", durationToMillis(m.storeDuration)))
	}
	if m.encodeDuration > 0 {
		attrs = append(attrs, attribute.Float64("dashboard.encode_ms", durationToMillis(m.encodeDuration)))
	}
	if m.itemsReturned >= 0 {
		attrs = append(attrs, attribute.Int("dashboard.items_returned", m.itemsReturned))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("dashboard.error_stage", m.errorStage))
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}

	severityText, severityNumber := severityForStatus(status, err)
	eventAttrs := append([]attribute.KeyValue{
		attribute.String("event.name", requestEventName),
		attribute.String("event.domain", requestEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
	}, attrs...)

	if m.span != nil {
		m.span.SetAttributes(attrs...)
		m.span.AddEvent(observabilityEvent, trace.WithAttributes(eventAttrs...))
		switch {
		case err != nil:
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		case status >= http.StatusInternalServerError:
			m.span.SetStatus(codes.Error, http.StatusText(status))
		default:
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	attrMap := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		attrMap[string(kv.Key)] = kv.Value.AsInterface()
	}
	fields := log.Fields{
		"event.name":      requestEventName,
		"event.domain":    requestEventDomain,
		"attributes":      attrMap,
		"severity_text":   severityText,
		"severity_number": severityNumber,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
	}

	entry := m.logger.WithFields(fields)
	switch severityText {
	case "ERROR":
		entry.Error(observabilityEvent)
	case "WARN":
		entry.Warn(observabilityEvent)
	default:
		entry.Info(observabilityEvent)
	}
}

// severityForStatus maps a response to OpenTelemetry log severity.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil, status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
