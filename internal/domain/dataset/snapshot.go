package dataset

import (
	"fmt"
	"strings"
	"time"
)

const snapshotTimeLayout = "2006-01-02 15:04"

// SnapshotTitle builds the title prefix of a snapshot copy.
func SnapshotTitle(sourcePrefix, reason string, at time.Time) string {
	r := strings.TrimSpace(reason)
	if r == "" {
		r = "导出"
	}
	p := strings.TrimSpace(sourcePrefix)
	if p == "" {
		p = "未命名"
	}
	return fmt.Sprintf("快照 %s %s - %s", at.Format(snapshotTimeLayout), r, p)
}

// NewSnapshot copies src under a new id as a read-only snapshot.
func NewSnapshot(src *Dataset, reason string, now time.Time) *Dataset {
	out := src.Clone()
	out.ID = NewID()
	out.TitlePrefix = SnapshotTitle(src.TitlePrefix, reason, now)
	out.CreatedAt = now
	out.UpdatedAt = now
	at := now
	out.SnapshotAt = &at
	out.ReadOnly = true
	out.SnapshotSourceID = src.ID
	return out
}
