package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/supervisor-finder/internal/config"
	"github.com/sells-group/supervisor-finder/internal/model"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate   AlertType = "run_failure_rate"
	AlertFetchFailureRate AlertType = "fetch_failure_rate"
	AlertDropReasonSpike  AlertType = "drop_reason_spike"
	AlertZeroYield        AlertType = "zero_yield"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
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

// ReasonFamily folds parameterized drop reasons onto their base reason,
// e.g. very_low_fit_score_0.07 becomes very_low_fit_score.
func ReasonFamily(reason string) string {
	i := strings.LastIndexByte(reason, '_')
	if i < 0 {
		return reason
	}
	tail := reason[i+1:]
	if tail == "" || strings.Trim(tail, "0123456789.") != "" {
		return reason
	}
	return reason[:i]
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.RunsComplete + snap.RunsAborted + snap.RunsFailed
	if finished >= 5 && a.cfg.FailureRateThreshold > 0 && snap.RunFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Run failure rate %.1f%% exceeds threshold %.1f%% (%d aborted, %d failed / %d finished in last %dh)",
				snap.RunFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RunsAborted, snap.RunsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.RunFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	// Rate alerts need enough volume to mean anything.
	if snap.Candidates < a.cfg.MinCandidates || snap.Candidates == 0 {
		return alerts
	}

	if snap.Saved == 0 {
		alerts = append(alerts, Alert{
			Type:     AlertZeroYield,
			Severity: "high",
			Message: fmt.Sprintf(
				"No supervisors saved from %d candidates in last %dh",
				snap.Candidates, snap.LookbackHours,
			),
			Details: map[string]any{
				"candidates": snap.Candidates,
				"dropped":    snap.Dropped,
			},
			Timestamp: now,
		})
	}

	if rate := snap.FetchFailureRate(); a.cfg.FetchFailureRate > 0 && rate > a.cfg.FetchFailureRate {
		alerts = append(alerts, Alert{
			Type:     AlertFetchFailureRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Fetch failure rate %.1f%% exceeds threshold %.1f%% (%d of %d candidates)",
				rate*100, a.cfg.FetchFailureRate*100,
				snap.DroppedReasons[model.ReasonFetchFailed], snap.Candidates,
			),
			Details: map[string]any{
				"fetch_failure_rate": rate,
				"threshold":          a.cfg.FetchFailureRate,
			},
			Timestamp: now,
		})
	}

	if a.cfg.DropReasonShare > 0 && snap.Dropped > 0 {
		families := make(map[string]int)
		for reason, n := range snap.DroppedReasons {
			switch reason {
			case model.ReasonFetchFailed, model.ReasonCancelled, model.ReasonProfileCap:
				continue
			}
			families[ReasonFamily(reason)] += n
		}
		names := make([]string, 0, len(families))
		for f := range families {
			names = append(names, f)
		}
		sort.Strings(names)
		for _, f := range names {
			share := float64(families[f]) / float64(snap.Dropped)
			if share <= a.cfg.DropReasonShare {
				continue
			}
			alerts = append(alerts, Alert{
				Type:     AlertDropReasonSpike,
				Severity: "medium",
				Message: fmt.Sprintf(
					"Drop reason %s accounts for %.1f%% of %d drops in last %dh",
					f, share*100, snap.Dropped, snap.LookbackHours,
				),
				Details: map[string]any{
					"reason":    f,
					"count":     families[f],
					"share":     share,
					"threshold": a.cfg.DropReasonShare,
				},
				Timestamp: now,
			})
		}
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

// sendWebhook posts a single alert to the webhook URL.
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
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
