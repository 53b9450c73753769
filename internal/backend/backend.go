// Package backend provides command execution for pipeline stages, either on
// the host shell or inside a container image via the docker CLI, with output
// size limits and process-group termination on cancellation.
package backend

import (
	"bytes"
	"context"
	"time"
)

// Request describes one command invocation on behalf of a stage.
type Request struct {
	Stage   string   // stage name, for diagnostics only
	Command string   // a single command line, run through the shell
	Dir     string   // working directory (container path when Image is set)
	Env     []string // fully materialized KEY=VALUE pairs
	Image   string   // container image; empty means run on the host
	Mounts  []string // host:container volume specs, image mode only
	Args    []string // extra docker run arguments, image mode only
}

// Result holds the outcome of a completed invocation. A non-zero exit status
// is a normal Result, never a Go error; the error return of Run is reserved
// for infrastructure failures such as a missing binary or a spawn error.
type Result struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	Duration  time.Duration
	TimedOut  bool
	Truncated bool
}

// Backend abstracts stage command execution for testability.
type Backend interface {
	Run(ctx context.Context, req Request) (*Result, error)
}

// limitWriter writes up to limit bytes to buf, then silently discards the
// rest so a runaway stage cannot exhaust memory. truncated records whether
// any bytes were actually dropped.
type limitWriter struct {
	buf       *bytes.Buffer
	limit     int
	truncated bool
}

func (w *limitWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		if len(p) > 0 {
			w.truncated = true
		}
		return len(p), nil // discard
	}
	if len(p) > remaining {
		// Write only what fits, but report all bytes as consumed
		// to avoid short write errors from io.Copy.
		w.buf.Write(p[:remaining])
		w.truncated = true
		return len(p), nil
	}
	return w.buf.Write(p)
}
