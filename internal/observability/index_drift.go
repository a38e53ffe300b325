package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/heimdex/heimdex-backend/internal/platform/ctxutil"
	"github.com/heimdex/heimdex-backend/internal/platform/logger"
)

// IndexDriftMetric describes one store whose scene count disagrees with the
// Postgres source of truth.
type IndexDriftMetric struct {
	Store    string         `json:"store"`
	Expected int64          `json:"expected"`
	Actual   int64          `json:"actual"`
	Meta     map[string]any `json:"meta,omitempty"`
}

type driftAlertState struct {
	mu   sync.Mutex
	last map[string]time.Time
}

var driftAlerts driftAlertState

// ReportIndexDrift records reconciliation mismatches between the scene rows
// in Postgres and the derived vector/lexical indexes, and optionally alerts.
func ReportIndexDrift(ctx context.Context, log *logger.Logger, metrics []IndexDriftMetric, meta map[string]any) {
	if len(metrics) == 0 {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	if td := ctxutil.GetTraceData(ctx); td != nil {
		if td.TraceID != "" {
			meta["trace_id"] = td.TraceID
		}
		if td.RequestID != "" {
			meta["request_id"] = td.RequestID
		}
	}
	for _, m := range metrics {
		incDataQuality("index_reconcile", "index_drift", strings.TrimSpace(m.Store))
	}
	if log != nil {
		log.Warn("index drift detected", "stores", len(metrics), "meta", meta)
	}

	if !indexDriftAlertsEnabled() {
		return
	}
	webhook := indexDriftAlertWebhook()
	if webhook == "" {
		return
	}
	key := "index_drift"
	driftAlerts.mu.Lock()
	if driftAlerts.last == nil {
		driftAlerts.last = map[string]time.Time{}
	}
	last := driftAlerts.last[key]
	minInterval := indexDriftAlertMinInterval()
	if !last.IsZero() && time.Since(last) < minInterval {
		driftAlerts.mu.Unlock()
		return
	}
	driftAlerts.last[key] = time.Now()
	driftAlerts.mu.Unlock()

	payload := map[string]any{
		"title":     "Index drift detected",
		"metrics":   metrics,
		"meta":      meta,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequest(http.MethodPost, webhook, bytes.NewReader(body))
	if err != nil {
		if log != nil {
			log.Warn("index drift alert request build failed", "error", err)
		}
		return
	}
	req.Header.Set("Content-Type", "application/json")
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		if log != nil {
			log.Warn("index drift alert post failed", "error", err)
		}
		return
	}
	_ = resp.Body.Close()
	if log != nil {
		log.Info("index drift alert sent", "status", resp.StatusCode)
	}
}

func indexDriftAlertsEnabled() bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv("INDEX_DRIFT_ALERTS_ENABLED")))
	if v == "" {
		return false
	}
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func indexDriftAlertWebhook() string {
	val := strings.TrimSpace(os.Getenv("INDEX_DRIFT_ALERT_WEBHOOK_URL"))
	if val != "" {
		return val
	}
	return strings.TrimSpace(os.Getenv("SLO_ALERT_WEBHOOK_URL"))
}

func indexDriftAlertMinInterval() time.Duration {
	raw := strings.TrimSpace(os.Getenv("INDEX_DRIFT_ALERT_MIN_INTERVAL_SECONDS"))
	if raw == "" {
		return 10 * time.Minute
	}
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(seconds) * time.Second
}
