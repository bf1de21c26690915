// Package alerting evaluates alert rules against a freshly-persisted scan
// record and its predecessor, persists the alerts that fire, and notifies
// an optional callback.
package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/onionwatch/onionwatch/internal/correlate"
	"github.com/onionwatch/onionwatch/internal/models"
)

// threatIncreaseThreshold is the minimum score jump that fires an alert.
const threatIncreaseThreshold = 20

// NotifyFunc receives every alert after it is persisted.
type NotifyFunc func(models.Alert)

// AlertWriter persists alerts. *store.Store satisfies it.
type AlertWriter interface {
	PutAlert(ctx context.Context, a *models.Alert) error
}

// Engine evaluates the alert rules.
type Engine struct {
	store  AlertWriter
	notify NotifyFunc
}

// New creates an Engine. notify may be nil.
func New(s AlertWriter, notify NotifyFunc) *Engine {
	return &Engine{store: s, notify: notify}
}

// Process evaluates all rules for curr against prev (the prior ONLINE record
// for the same target, possibly nil) and the IOC reuse signals, persisting
// and returning the alerts that fired. At most one alert fires per type,
// except ioc_reuse which fires once per reused indicator. A failed write is
// retried once, then the alert is dropped with a log entry; the remaining
// alerts for the scan are still written.
func (e *Engine) Process(ctx context.Context, curr, prev *models.ScanRecord, signals []correlate.ReuseSignal) []models.Alert {
	evaluated := Evaluate(curr, prev, signals)
	persisted := make([]models.Alert, 0, len(evaluated))
	for i := range evaluated {
		a := &evaluated[i]
		err := e.store.PutAlert(ctx, a)
		if err != nil {
			log.Warn().Err(err).
				Str("alertId", a.ID).
				Str("type", string(a.Type)).
				Msg("Alert write failed, retrying")
			err = e.store.PutAlert(ctx, a)
		}
		if err != nil {
			log.Error().Err(err).
				Str("alertId", a.ID).
				Str("type", string(a.Type)).
				Str("target", a.Target).
				Msg("Alert dropped after failed retry")
			continue
		}
		log.Info().
			Str("alertId", a.ID).
			Str("type", string(a.Type)).
			Str("severity", string(a.Severity)).
			Str("target", a.Target).
			Msg("Alert raised")
		if e.notify != nil {
			e.notify(*a)
		}
		persisted = append(persisted, *a)
	}
	return persisted
}

// Evaluate runs the rules without persisting. Exposed for the rule tests.
func Evaluate(curr, prev *models.ScanRecord, signals []correlate.ReuseSignal) []models.Alert {
	var alerts []models.Alert
	add := func(a models.Alert) {
		a.ID = uuid.New().String()
		a.Target = curr.Fingerprint
		a.Timestamp = time.Now().UTC()
		a.Status = models.AlertNew
		if a.ThreatScore == 0 {
			a.ThreatScore = curr.ThreatScore
		}
		alerts = append(alerts, a)
	}

	if curr.MalwareDetected() {
		names := curr.MalwareThreatNames()
		add(models.Alert{
			Type:     models.AlertMalwareDetected,
			Severity: models.SeverityHigh,
			Reason:   "malware detected in downloaded files: " + strings.Join(names, ", "),
			Details:  map[string]interface{}{"threats": names},
		})
	}

	threatIncrease := false
	if prev != nil {
		increase := curr.ThreatScore - prev.ThreatScore
		if increase >= threatIncreaseThreshold {
			threatIncrease = true
			add(models.Alert{
				Type:          models.AlertThreatIncrease,
				Severity:      severityForRisk(curr.RiskLevel),
				Reason:        fmt.Sprintf("threat score rose from %d to %d", prev.ThreatScore, curr.ThreatScore),
				PreviousScore: prev.ThreatScore,
				ThreatScore:   curr.ThreatScore,
				ScoreIncrease: increase,
			})
		}

		if prev.URLStatus != curr.URLStatus {
			add(models.Alert{
				Type:     models.AlertStatusChange,
				Severity: models.SeverityMedium,
				Reason:   fmt.Sprintf("status changed from %s to %s", prev.URLStatus, curr.URLStatus),
			})
		}
	}

	// A content change alongside a threat increase adds no information.
	if curr.ContentChanged && !threatIncrease {
		add(models.Alert{
			Type:     models.AlertContentChange,
			Severity: models.SeverityLow,
			Reason:   "page content changed since the previous scan",
		})
	}

	for _, sig := range signals {
		add(models.Alert{
			Type:     models.AlertIOCReuse,
			Severity: sig.Severity,
			Reason:   fmt.Sprintf("%s %q seen on %d targets", sig.Type, sig.Value, sig.ReuseCount),
			Details: map[string]interface{}{
				"iocType":    string(sig.Type),
				"iocValue":   sig.Value,
				"reuseCount": sig.ReuseCount,
				"targets":    sig.Targets,
			},
		})
	}

	return alerts
}

func severityForRisk(level models.RiskLevel) models.AlertSeverity {
	switch level {
	case models.RiskHigh:
		return models.SeverityHigh
	case models.RiskMedium:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}
