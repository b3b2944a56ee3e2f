package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hanko-field/orders/internal/platform/requestctx"
)

func TestEventLoggerLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := EventLogger(zap.New(core))

	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "abc"})
	log(ctx, "order.created", map[string]any{"orderId": int64(7)})
	log(ctx, "order.event.publish.failed", map[string]any{"error": errors.New("broker down")})

	entries := logs.AllUntimed()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("unexpected levels %s, %s", entries[0].Level, entries[1].Level)
	}
	fields := entries[0].ContextMap()
	if fields["trace_id"] != "abc" || fields["orderId"] != int64(7) {
		t.Fatalf("unexpected fields %v", fields)
	}
	if entries[1].ContextMap()["error"] != "broker down" {
		t.Fatalf("expected error field, got %v", entries[1].ContextMap())
	}
}

func TestEventLoggerPrefersContextLogger(t *testing.T) {
	fallbackCore, fallbackLogs := observer.New(zapcore.InfoLevel)
	ctxCore, ctxLogs := observer.New(zapcore.InfoLevel)
	log := EventLogger(zap.New(fallbackCore))

	log(requestctx.WithLogger(context.Background(), zap.New(ctxCore)), "order.cancelled", nil)
	if ctxLogs.Len() != 1 || fallbackLogs.Len() != 0 {
		t.Fatalf("expected context logger to be used, ctx=%d fallback=%d", ctxLogs.Len(), fallbackLogs.Len())
	}
}

func TestOrderMetricsRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewOrderMetrics(reg)
	if err != nil {
		t.Fatalf("NewOrderMetrics: %v", err)
	}
	metrics.OrderNumberRetried("count")
	metrics.OrderNumberRetried("count")
	metrics.StockRejected()
	metrics.ObserveOperation("create_order", "ok", 20*time.Millisecond)

	if got := testutil.ToFloat64(metrics.numberRetries.WithLabelValues("count")); got != 2 {
		t.Fatalf("expected 2 retries, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.stockRejections); got != 1 {
		t.Fatalf("expected 1 rejection, got %v", got)
	}
	if got := testutil.CollectAndCount(metrics.operations); got != 1 {
		t.Fatalf("expected 1 operation series, got %d", got)
	}

	again, err := NewOrderMetrics(reg)
	if err != nil {
		t.Fatalf("second NewOrderMetrics: %v", err)
	}
	again.StockRejected()
	if got := testutil.ToFloat64(metrics.stockRejections); got != 2 {
		t.Fatalf("expected shared collector, got %v", got)
	}
}

func TestRequestLoggerMiddlewareRecordsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	httpMetrics, err := NewHTTPMetrics(reg)
	if err != nil {
		t.Fatalf("NewHTTPMetrics: %v", err)
	}
	core, logs := observer.New(zapcore.DebugLevel)

	router := chi.NewRouter()
	router.Use(InjectLoggerMiddleware(zap.New(core)), RequestLoggerMiddleware(httpMetrics), RecoveryMiddleware(nil))
	router.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) })
	router.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	for _, path := range []string{"/readyz", "/boom"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(httpMetrics.requests.WithLabelValues("/readyz", "503")); got != 1 {
		t.Fatalf("expected one 503 on /readyz, got %v", got)
	}
	if got := testutil.ToFloat64(httpMetrics.requests.WithLabelValues("/boom", "500")); got != 1 {
		t.Fatalf("expected one 500 on /boom, got %v", got)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
}

func TestCloudTraceHeaderRoundTrip(t *testing.T) {
	sc, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatal("expected header to parse")
	}
	if !sc.IsSampled() || sc.SpanID().String() != "0000000000000001" {
		t.Fatalf("unexpected span context %v", sc)
	}
	header := formatCloudTraceHeader(requestctx.TraceInfo{
		TraceID: sc.TraceID().String(),
		SpanID:  sc.SpanID().String(),
		Sampled: true,
	})
	if header != "105445aa7843bc8bf206b12000100000/1;o=1" {
		t.Fatalf("unexpected header %s", header)
	}

	for _, bad := range []string{"", "nope", "zz/1;o=1", "105445aa7843bc8bf206b12000100000/x"} {
		if _, ok := parseCloudTraceContext(bad); ok {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestTraceMiddlewareStoresTraceInfo(t *testing.T) {
	var seen requestctx.TraceInfo
	handler := TraceMiddleware("orders-test")(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/1;o=1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if seen.ProjectID != "orders-test" || !strings.HasPrefix(seen.TraceID, "105445aa") {
		t.Fatalf("unexpected trace info %+v", seen)
	}
}
