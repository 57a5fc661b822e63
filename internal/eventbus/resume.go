package eventbus

import "github.com/CoreSpeed-io/zypher-agent/pkg/models"

// FilterForResume implements §4.4's resume filter as a pure function over an
// ordered event slice:
//  1. Events whose ID is not strictly after clientLastEventID are dropped
//     (when clientLastEventID is provided).
//  2. tool_use_pending_approval events whose ID is strictly before
//     serverLatestEventID are dropped (when provided), since a pending
//     approval the client already observed received its decision later in
//     the stream.
func FilterForResume(events []models.TaskEvent, clientLastEventID, serverLatestEventID *models.TaskEventID) []models.TaskEvent {
	out := make([]models.TaskEvent, 0, len(events))
	for _, ev := range events {
		if clientLastEventID != nil && ev.ID.Compare(*clientLastEventID) <= 0 {
			continue
		}
		if serverLatestEventID != nil && ev.Type == models.TaskEventToolUsePendingApproval && ev.ID.Less(*serverLatestEventID) {
			continue
		}
		out = append(out, ev)
	}
	return out
}
