package engine

import (
	"context"
	"encoding/json"

	"github.com/openfroyo/wslprov/pkg/config"
	"github.com/openfroyo/wslprov/pkg/stores"
	"github.com/openfroyo/wslprov/pkg/telemetry"
	"github.com/rs/zerolog/log"
)

const (
	statusRunning   = stores.RunStatusRunning
	statusCompleted = stores.RunStatusCompleted
	statusFailed    = stores.RunStatusFailed
	statusCancelled = stores.RunStatusCancelled
)

// openRun records the run. Journal writes never fail a run; errors are
// logged and, if the run itself cannot be recorded, the journal is dropped.
func (w *Workflow) openRun(ctx context.Context, mode Mode) {
	if w.journal == nil {
		return
	}

	run := &stores.Run{
		ID:        w.runID,
		Distro:    w.cfg.Name,
		Mode:      string(mode),
		Status:    stores.RunStatusRunning,
		Stage:     string(StageStart),
		Image:     w.cfg.Image,
		Username:  w.cfg.Username,
		StartedAt: w.report.StartedAt,
	}
	if data, err := config.Encode(w.cfg); err == nil {
		run.Config = string(data)
	}

	if err := w.journal.CreateRun(context.WithoutCancel(ctx), run); err != nil {
		log.Warn().Err(err).Str("run_id", w.runID).Msg("Failed to record run; continuing without journal")
		w.journal = nil
	}
}

func (w *Workflow) updateRun(ctx context.Context, status stores.RunStatus) {
	if w.journal == nil {
		return
	}

	update := stores.RunUpdate{
		Status:   status,
		Stage:    string(w.currentStage()),
		Warnings: len(w.report.Warnings),
	}
	if w.report.Error != "" {
		msg := w.report.Error
		update.Error = &msg
	}

	if err := w.journal.UpdateRun(context.WithoutCancel(ctx), w.runID, update); err != nil {
		log.Warn().Err(err).Str("run_id", w.runID).Msg("Failed to update run")
	}
}

func (w *Workflow) journalEvent(event telemetry.Event) {
	if w.journal == nil {
		return
	}

	rec := &stores.Event{
		RunID:     w.runID,
		Type:      event.Type,
		Level:     event.Level,
		Stage:     event.Stage,
		Message:   event.Message,
		Timestamp: event.Timestamp,
	}
	if len(event.Data) > 0 {
		if data, err := json.Marshal(event.Data); err == nil {
			s := string(data)
			rec.Data = &s
		}
	}

	if err := w.journal.AppendEvent(context.Background(), rec); err != nil {
		log.Debug().Err(err).Str("type", event.Type).Msg("Failed to journal event")
	}
}

func (w *Workflow) saveFact(ctx context.Context, namespace, key string, value interface{}) {
	if w.journal == nil {
		return
	}
	RecordFact(context.WithoutCancel(ctx), w.journal, w.cfg.Name, w.runID, namespace, key, value)
}

// RecordFact stores value as the latest observation of namespace/key about
// distro. An empty runID records a fact observed outside a run. Failures
// are logged.
func RecordFact(ctx context.Context, j Journal, distro, runID, namespace, key string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		log.Debug().Err(err).Str("namespace", namespace).Msg("Failed to encode fact")
		return
	}
	fact := &stores.Fact{
		Distro:    distro,
		Namespace: namespace,
		Key:       key,
		Value:     string(data),
	}
	if runID != "" {
		fact.RunID = &runID
	}
	if err := j.UpsertFact(ctx, fact); err != nil {
		log.Warn().Err(err).Str("namespace", namespace).Msg("Failed to record fact")
	}
}

func (w *Workflow) audit(ctx context.Context, action string, details map[string]interface{}) {
	if w.journal == nil {
		return
	}
	Audit(context.WithoutCancel(ctx), w.journal, action, w.actor, w.cfg.Name, details)
}

// Audit records action against target. Failures are logged.
func Audit(ctx context.Context, j Journal, action, actor, target string, details map[string]interface{}) {
	entry := &stores.AuditEntry{
		Action: action,
		Actor:  actor,
		Target: &target,
	}
	if len(details) > 0 {
		if data, err := json.Marshal(details); err == nil {
			s := string(data)
			entry.Details = &s
		}
	}
	if err := j.CreateAuditEntry(ctx, entry); err != nil {
		log.Warn().Err(err).Str("action", action).Msg("Failed to record audit entry")
	}
}
