package pgsink

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skstream/internal/delta"
	"skstream/internal/ingest"
	"skstream/internal/obs"
)

type memStore struct {
	deltas  []DeltaRecord
	status  []StatusRecord
	batches int
}

func (m *memStore) InsertDeltas(_ context.Context, rows []DeltaRecord) error {
	m.batches++
	m.deltas = append(m.deltas, rows...)
	return nil
}

func (m *memStore) InsertStatus(_ context.Context, rows []StatusRecord) error {
	m.status = append(m.status, rows...)
	return nil
}

func TestNewDeltaRecord(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	rec := newDeltaRecord(delta.Event{
		Path:      "navigation.headingMagnetic",
		Value:     1.11416,
		Source:    "n2k.3",
		Timestamp: "2024-05-01T12:00:00.000Z",
	}, "s1", now)
	require.NotNil(t, rec.Number)
	assert.Equal(t, 1.11416, *rec.Number)
	assert.Equal(t, "1.11416", rec.Value)
	assert.Equal(t, "s1", rec.SessionID)
	assert.Equal(t, now, rec.ReceivedAt)

	obj := newDeltaRecord(delta.Event{
		Path:  "navigation.position",
		Value: map[string]any{"longitude": 24.9, "latitude": 60.1},
	}, "", now)
	assert.Nil(t, obj.Number)
	assert.Equal(t, `{"latitude":60.1,"longitude":24.9}`, obj.Value)
}

func TestFreshnessRecordDirection(t *testing.T) {
	now := time.Now()
	fresh := newFreshnessRecord("environment.heartbeat", true, "s1", now)
	assert.Equal(t, KindFreshness, fresh.Kind)
	assert.Equal(t, "stale", fresh.FromState)
	assert.Equal(t, "fresh", fresh.ToState)

	stale := newFreshnessRecord("environment.heartbeat", false, "s1", now)
	assert.Equal(t, "stale", stale.ToState)
}

func TestRecorderTracksSessionAndFlushes(t *testing.T) {
	store := &memStore{}
	r := newRecorder(store, Option{BatchSize: 2}, obs.NewMetrics())

	r.Status(ingest.Transition{From: ingest.StateHandshaking, To: ingest.StateOpen, SessionID: "s1", Reason: "handshake ok"})
	r.Value(delta.Event{Path: "navigation.headingMagnetic", Value: 1.0})
	r.Freshness("navigation.headingMagnetic", true)
	r.Status(ingest.Transition{From: ingest.StateOpen, To: ingest.StateClosing, SessionID: "s1", Reason: "close frame"})
	r.Value(delta.Event{Path: "navigation.headingMagnetic", Value: 1.1})
	r.Status(ingest.Transition{From: ingest.StateClosing, To: ingest.StateLinkUpAppDisconnected, Reason: "close frame"})
	r.Value(delta.Event{Path: "navigation.headingMagnetic", Value: 1.2})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.Run(ctx), context.Canceled)

	require.Len(t, store.deltas, 3)
	assert.Equal(t, "s1", store.deltas[0].SessionID)
	assert.Equal(t, "s1", store.deltas[1].SessionID)
	assert.Empty(t, store.deltas[2].SessionID)

	require.Len(t, store.status, 4)
	assert.Equal(t, KindConnection, store.status[0].Kind)
	assert.Equal(t, "open", store.status[0].ToState)
	assert.Equal(t, KindFreshness, store.status[1].Kind)
	assert.Equal(t, "disconnected", store.status[3].ToState)
}

func TestRecorderDropsWhenFull(t *testing.T) {
	metrics := obs.NewMetrics()
	r := newRecorder(&memStore{}, Option{QueueSize: 2}, metrics)

	for i := 0; i < 5; i++ {
		r.Value(delta.Event{Path: "environment.wind.speedApparent", Value: float64(i)})
	}
	assert.Equal(t, uint64(3), metrics.Snapshot().QueueDrops)
}

func TestRecorderSkipValues(t *testing.T) {
	store := &memStore{}
	r := newRecorder(store, Option{SkipValues: true}, nil)
	r.Value(delta.Event{Path: "navigation.headingMagnetic", Value: 1.0})
	r.Freshness("navigation.headingMagnetic", false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = r.Run(ctx)
	assert.Empty(t, store.deltas)
	assert.Len(t, store.status, 1)
}

func TestNewRequiresDB(t *testing.T) {
	_, err := New(context.Background(), nil, Option{}, nil)
	assert.Error(t, err)
}
