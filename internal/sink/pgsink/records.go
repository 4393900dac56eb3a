package pgsink

import (
	"time"

	"github.com/bytedance/sonic"

	"skstream/internal/delta"
	"skstream/internal/ingest"
)

// DeltaRecord is one routed value.
type DeltaRecord struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	SessionID  string `gorm:"size:64;index"`
	Path       string `gorm:"size:255;index:idx_delta_path_received,priority:1"`
	Source     string `gorm:"size:255"`
	Timestamp  string `gorm:"size:64"`
	Number     *float64
	Value      string    `gorm:"type:text"`
	ReceivedAt time.Time `gorm:"index:idx_delta_path_received,priority:2"`
}

func (DeltaRecord) TableName() string { return "delta_records" }

// Status kinds.
const (
	KindConnection = "connection"
	KindFreshness  = "freshness"
)

// StatusRecord is a connection transition or a freshness edge.
type StatusRecord struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	Kind      string    `gorm:"size:16;index"`
	SessionID string    `gorm:"size:64"`
	Path      string    `gorm:"size:255"`
	FromState string    `gorm:"size:32"`
	ToState   string    `gorm:"size:32"`
	Reason    string    `gorm:"size:255"`
	At        time.Time `gorm:"index"`
}

func (StatusRecord) TableName() string { return "status_records" }

func newDeltaRecord(ev delta.Event, session string, now time.Time) DeltaRecord {
	rec := DeltaRecord{
		SessionID:  session,
		Path:       ev.Path,
		Source:     ev.Source,
		Timestamp:  ev.Timestamp,
		ReceivedAt: now,
	}
	if n, ok := delta.Float(ev.Value); ok {
		rec.Number = &n
	}
	if s, err := sonic.ConfigStd.MarshalToString(ev.Value); err == nil {
		rec.Value = s
	}
	return rec
}

func newTransitionRecord(t ingest.Transition) StatusRecord {
	return StatusRecord{
		Kind:      KindConnection,
		SessionID: t.SessionID,
		FromState: t.From.String(),
		ToState:   t.To.String(),
		Reason:    t.Reason,
		At:        t.At,
	}
}

func newFreshnessRecord(path string, fresh bool, session string, now time.Time) StatusRecord {
	rec := StatusRecord{
		Kind:      KindFreshness,
		SessionID: session,
		Path:      path,
		FromState: "fresh",
		ToState:   "stale",
		At:        now,
	}
	if fresh {
		rec.FromState, rec.ToState = "stale", "fresh"
	}
	return rec
}
