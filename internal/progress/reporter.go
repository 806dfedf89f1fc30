// Package progress reports scan status to stderr. It is the only
// ambient logging surface the core touches directly; structured
// sink configuration is an external collaborator's concern (§1).
package progress

import (
	"fmt"
	"os"
	"time"
)

// Reporter prints elapsed-time-prefixed status lines to stderr.
type Reporter struct {
	enabled bool
	start   time.Time
}

// New creates a Reporter. Pass enabled=false to silence it entirely.
func New(enabled bool) *Reporter {
	return &Reporter{enabled: enabled, start: time.Now()}
}

// Log writes a progress line if the reporter is enabled.
func (r *Reporter) Log(format string, args ...interface{}) {
	if !r.enabled {
		return
	}
	elapsed := time.Since(r.start).Round(time.Millisecond)
	fmt.Fprintf(os.Stderr, "[%s] %s\n", elapsed, fmt.Sprintf(format, args...))
}
