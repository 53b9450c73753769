package engine

import "time"

// RunInfo identifies a run to observers.
type RunInfo struct {
	RunID       string
	Pipeline    string
	Branch      string
	BuildNumber string
	Stages      []string
	StartedAt   time.Time
}

// Observer receives lifecycle callbacks during a run, in run order from a
// single goroutine. Observer errors are reported to the progress writer and
// never fail the run: persistence is best-effort, execution is not.
type Observer interface {
	RunStarted(info RunInfo) error
	StageStarted(info RunInfo, stage string) error
	StageFinished(info RunInfo, res StageResult) error
	PostActionFinished(info RunInfo, res PostResult) error
	RunFinished(report *Report) error
}

// NopObserver ignores all callbacks.
type NopObserver struct{}

func (NopObserver) RunStarted(RunInfo) error                     { return nil }
func (NopObserver) StageStarted(RunInfo, string) error           { return nil }
func (NopObserver) StageFinished(RunInfo, StageResult) error     { return nil }
func (NopObserver) PostActionFinished(RunInfo, PostResult) error { return nil }
func (NopObserver) RunFinished(*Report) error                    { return nil }

// MultiObserver fans each callback out to every observer, returning the
// first error after all have been called.
type MultiObserver []Observer

func (m MultiObserver) RunStarted(info RunInfo) error {
	var first error
	for _, o := range m {
		if err := o.RunStarted(info); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiObserver) StageStarted(info RunInfo, stage string) error {
	var first error
	for _, o := range m {
		if err := o.StageStarted(info, stage); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiObserver) StageFinished(info RunInfo, res StageResult) error {
	var first error
	for _, o := range m {
		if err := o.StageFinished(info, res); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiObserver) PostActionFinished(info RunInfo, res PostResult) error {
	var first error
	for _, o := range m {
		if err := o.PostActionFinished(info, res); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiObserver) RunFinished(report *Report) error {
	var first error
	for _, o := range m {
		if err := o.RunFinished(report); err != nil && first == nil {
			first = err
		}
	}
	return first
}
