package harvest

import (
	"fmt"
	"strings"
	"time"
)

// Summary counts the outcomes of one run. Completed and TimedOut count
// persisted batches; Empty is the subset of those without bars.
type Summary struct {
	RunID         string
	StartedAt     time.Time
	Elapsed       time.Duration
	Dates         int
	Resolved      int
	Completed     int
	TimedOut      int
	Empty         int
	Failed        int
	Skipped       int
	Bars          int
	NextRequestID int64
}

func (s Summary) Batches() int { return s.Completed + s.TimedOut }

func (s Summary) String() string {
	var b strings.Builder
	b.WriteString(strings.Repeat("=", 60) + "\n")
	fmt.Fprintf(&b, "harvest run %s\n", s.RunID)
	fmt.Fprintf(&b, "  dates:      %d\n", s.Dates)
	fmt.Fprintf(&b, "  resolved:   %d\n", s.Resolved)
	fmt.Fprintf(&b, "  batches:    %d (completed %d, timed out %d, empty %d)\n", s.Batches(), s.Completed, s.TimedOut, s.Empty)
	fmt.Fprintf(&b, "  failed:     %d\n", s.Failed)
	fmt.Fprintf(&b, "  skipped:    %d\n", s.Skipped)
	fmt.Fprintf(&b, "  bars:       %d\n", s.Bars)
	fmt.Fprintf(&b, "  next req:   %d\n", s.NextRequestID)
	fmt.Fprintf(&b, "  elapsed:    %s\n", s.Elapsed.Truncate(time.Second))
	b.WriteString(strings.Repeat("=", 60))
	return b.String()
}
