package runstore

import (
	"github.com/stagehand-ci/stagehand/internal/engine"
)

// Recorder is an engine observer that persists stage output as it arrives
// and the full report when the run finishes.
type Recorder struct {
	store *Store
}

// NewRecorder wraps a store as an engine observer.
func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store}
}

func (r *Recorder) RunStarted(info engine.RunInfo) error { return nil }

func (r *Recorder) StageStarted(info engine.RunInfo, stage string) error { return nil }

func (r *Recorder) StageFinished(info engine.RunInfo, res engine.StageResult) error {
	return r.store.SaveStageOutput(info.RunID, res.Name, res.Stdout, res.Stderr)
}

func (r *Recorder) PostActionFinished(info engine.RunInfo, res engine.PostResult) error {
	return nil
}

func (r *Recorder) RunFinished(rep *engine.Report) error {
	return r.store.SaveReport(rep)
}
