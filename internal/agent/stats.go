package agent

import (
	"time"

	"github.com/CoreSpeed-io/zypher-agent/pkg/models"
)

// StatsCollector accumulates a models.RunStats by observing the task event
// stream, grounded on the teacher's event_emitter.go StatsCollector (there it
// folded AgentEvents; here it folds TaskEvents onto the RunStats type added
// by SPEC_FULL.md §3).
type StatsCollector struct {
	stats      models.RunStats
	toolStarts map[string]time.Time
}

// NewStatsCollector creates a collector with StartedAt stamped at construction.
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{
		stats:      models.RunStats{StartedAt: time.Now()},
		toolStarts: make(map[string]time.Time),
	}
}

// Observe folds one task event into the accumulated statistics.
func (c *StatsCollector) Observe(ev models.TaskEvent) {
	switch ev.Type {
	case models.TaskEventToolUsePendingApproval:
		c.stats.ToolCalls++
		c.toolStarts[ev.ToolUseID] = time.Now()

	case models.TaskEventToolUseResult, models.TaskEventToolUseError, models.TaskEventToolUseCancelled:
		delete(c.toolStarts, ev.ToolUseID)

	case models.TaskEventUsage:
		if ev.Usage != nil {
			c.stats.Usage = c.stats.Usage.Sum(*ev.Usage)
		}

	case models.TaskEventCancelled:
		c.stats.Cancelled = true
		c.stats.CancelReason = ev.CancelReason
	}
}

// IterationStarted records one more loop iteration (§4.5 step 7).
func (c *StatsCollector) IterationStarted() {
	c.stats.Iterations++
}

// Finish stamps FinishedAt/WallTime and returns the final snapshot.
func (c *StatsCollector) Finish() models.RunStats {
	c.stats.FinishedAt = time.Now()
	c.stats.WallTime = c.stats.FinishedAt.Sub(c.stats.StartedAt)
	return c.stats
}
