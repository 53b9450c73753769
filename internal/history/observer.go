package history

import (
	"fmt"

	"github.com/stagehand-ci/stagehand/internal/engine"
)

// Observer records engine lifecycle events into the history database.
type Observer struct {
	db *DB
}

// NewObserver wraps a database as an engine observer.
func NewObserver(db *DB) *Observer {
	return &Observer{db: db}
}

func (o *Observer) RunStarted(info engine.RunInfo) error {
	if err := o.db.RecordRunStart(info.RunID, info.Pipeline, info.Branch, info.BuildNumber, len(info.Stages)); err != nil {
		return err
	}
	return o.db.RecordEvent(info.RunID, "run_started", "", fmt.Sprintf("stages=%d", len(info.Stages)))
}

func (o *Observer) StageStarted(info engine.RunInfo, stage string) error {
	return o.db.RecordEvent(info.RunID, "stage_started", stage, "")
}

func (o *Observer) StageFinished(info engine.RunInfo, res engine.StageResult) error {
	if err := o.db.RecordStageResult(info.RunID, res.Name, string(res.Status), res.Reason, res.ExitCode, res.DurationMs); err != nil {
		return err
	}
	detail := string(res.Status)
	if res.Reason != "" {
		detail += ": " + res.Reason
	}
	return o.db.RecordEvent(info.RunID, "stage_finished", res.Name, detail)
}

func (o *Observer) PostActionFinished(info engine.RunInfo, res engine.PostResult) error {
	return o.db.RecordEvent(info.RunID, "post_action", res.Set, fmt.Sprintf("%s (exit %d)", res.Command, res.ExitCode))
}

func (o *Observer) RunFinished(r *engine.Report) error {
	if err := o.db.RecordRunFinish(r.RunID, string(r.Outcome), r.Error, r.DurationMs); err != nil {
		return err
	}
	return o.db.RecordEvent(r.RunID, "run_finished", "", string(r.Outcome))
}
