package batchedit

import (
	"time"

	"github.com/google/uuid"
)

// EventTypeEditsApplied is published after a batch has been committed.
const EventTypeEditsApplied = "batchedit.edits.applied"

// EditsApplied describes one successful commit.
type EditsApplied struct {
	EventID     string    `json:"eventId"`
	EventType   string    `json:"eventType"`
	DatasetID   string    `json:"datasetId"`
	SessionID   string    `json:"sessionId"`
	Mode        Mode      `json:"mode"`
	Applied     int       `json:"applied"`
	Kinds       []string  `json:"kinds"`
	Errors      []string  `json:"errors,omitempty"`
	MergedCount int       `json:"mergedCount"`
	SnapshotKey string    `json:"snapshotKey,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// NewEditsApplied builds the event for a commit result.
func NewEditsApplied(datasetID, sessionID string, mode Mode, res *CommitResult, snapshotKey string, at time.Time) EditsApplied {
	evt := EditsApplied{
		EventID:     uuid.NewString(),
		EventType:   EventTypeEditsApplied,
		DatasetID:   datasetID,
		SessionID:   sessionID,
		Mode:        mode,
		SnapshotKey: snapshotKey,
		OccurredAt:  at,
	}
	if res == nil {
		return evt
	}
	evt.Applied = len(res.Applied)
	evt.Errors = res.Errors
	evt.MergedCount = res.MergedCount
	seen := make(map[ActionKind]struct{})
	for _, e := range res.Applied {
		k := e.Kind()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		evt.Kinds = append(evt.Kinds, string(k))
	}
	return evt
}
