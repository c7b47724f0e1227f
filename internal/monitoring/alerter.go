package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/matchscore/internal/config"
	"github.com/sells-group/matchscore/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertAccuracyDegraded AlertType = "accuracy_degraded"
	AlertCacheHitRate     AlertType = "cache_hit_rate"
)

// minCacheLookups keeps a cold cache from raising hit rate alerts.
const minCacheLookups = 100

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a Snapshot against configured thresholds and sends
// alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	acc := snap.Accuracy
	decided := acc.Won + acc.Lost
	if decided > 0 && decided >= a.cfg.MinOutcomes && acc.HitRate < a.cfg.HitRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertAccuracyDegraded,
			Severity: "high",
			Message: fmt.Sprintf(
				"Prediction hit rate %.1f%% is below threshold %.1f%% (%d decided outcomes in last %dh)",
				acc.HitRate*100, a.cfg.HitRateThreshold*100, decided, snap.LookbackHours,
			),
			Details: map[string]any{
				"hit_rate":        acc.HitRate,
				"threshold":       a.cfg.HitRateThreshold,
				"precision":       acc.Precision,
				"recall":          acc.Recall,
				"win_threshold":   acc.WinThreshold,
				"config_versions": acc.ConfigVersions,
			},
			Timestamp: now,
		})
	}

	if a.cfg.CacheHitRateFloor > 0 && snap.CacheLookups >= minCacheLookups && snap.CacheHitRate < a.cfg.CacheHitRateFloor {
		alerts = append(alerts, Alert{
			Type:     AlertCacheHitRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Search cache hit rate %.1f%% is below %.1f%% over %d lookups",
				snap.CacheHitRate*100, a.cfg.CacheHitRateFloor*100, snap.CacheLookups,
			),
			Details: map[string]any{
				"hit_rate": snap.CacheHitRate,
				"floor":    a.cfg.CacheHitRateFloor,
				"entries":  snap.CacheEntries,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	if err := resilience.CheckResponse("webhook", resp); err != nil {
		return eris.Wrap(err, "monitoring: webhook")
	}
	return resp.Body.Close()
}
