// Package pgsink records routed values and status changes to PostgreSQL.
package pgsink

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"gorm.io/gorm"

	"skstream/internal/bus"
	"skstream/internal/delta"
	"skstream/internal/ingest"
	"skstream/internal/obs"
	"skstream/pkg/exception"
)

const (
	defaultQueueSize = 4096
	defaultBatchSize = 256
	flushTimeout     = 5 * time.Second
)

// Option configures a Recorder.
type Option struct {
	// QueueSize bounds buffered records; overflow is dropped and counted.
	QueueSize int
	// BatchSize caps rows per insert.
	BatchSize int
	// SkipValues records only status rows.
	SkipValues bool
}

type record struct {
	delta  *DeltaRecord
	status *StatusRecord
}

// store persists batches. gormStore is the production implementation.
type store interface {
	InsertDeltas(ctx context.Context, rows []DeltaRecord) error
	InsertStatus(ctx context.Context, rows []StatusRecord) error
}

// Recorder is an ingest.Sink that queues rows without blocking and writes them from Run.
type Recorder struct {
	store   store
	queue   *bus.Queue[record]
	metrics *obs.Metrics
	opt     Option
	now     func() time.Time

	session string
}

// New migrates the tables and returns a recorder writing through db.
func New(ctx context.Context, db *gorm.DB, opt Option, metrics *obs.Metrics) (*Recorder, error) {
	if db == nil {
		return nil, exception.ErrNilInstance
	}
	if err := db.WithContext(ctx).AutoMigrate(&DeltaRecord{}, &StatusRecord{}); err != nil {
		return nil, errors.Wrap(err, "migrate record tables")
	}
	return newRecorder(gormStore{db: db}, opt, metrics), nil
}

func newRecorder(s store, opt Option, metrics *obs.Metrics) *Recorder {
	if opt.QueueSize <= 0 {
		opt.QueueSize = defaultQueueSize
	}
	if opt.BatchSize <= 0 {
		opt.BatchSize = defaultBatchSize
	}
	return &Recorder{
		store:   s,
		queue:   bus.NewQueue[record](opt.QueueSize),
		metrics: metrics,
		opt:     opt,
		now:     time.Now,
	}
}

func (r *Recorder) Value(ev delta.Event) {
	if r.opt.SkipValues {
		return
	}
	rec := newDeltaRecord(ev, r.session, r.now())
	r.publish(record{delta: &rec})
}

func (r *Recorder) Freshness(path string, fresh bool) {
	rec := newFreshnessRecord(path, fresh, r.session, r.now())
	r.publish(record{status: &rec})
}

func (r *Recorder) Status(t ingest.Transition) {
	if t.To == ingest.StateOpen {
		r.session = t.SessionID
	} else if t.To != ingest.StateClosing {
		r.session = ""
	}
	rec := newTransitionRecord(t)
	r.publish(record{status: &rec})
}

func (r *Recorder) publish(rec record) {
	if err := r.queue.TryPublish(rec); err != nil {
		r.metrics.IncQueueDrop()
	}
}

// Run writes queued rows until ctx is done, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) error {
	r.queue.RunBatch(ctx, r.opt.BatchSize, func(batch []record) {
		r.write(ctx, batch)
	})

	r.queue.Close()
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	rest := r.queue.Drain(nil, r.queue.Len())
	for len(rest) > 0 {
		n := min(len(rest), r.opt.BatchSize)
		r.write(flushCtx, rest[:n])
		rest = rest[n:]
	}
	return ctx.Err()
}

func (r *Recorder) write(ctx context.Context, batch []record) {
	deltas := make([]DeltaRecord, 0, len(batch))
	statuses := make([]StatusRecord, 0, 4)
	for _, rec := range batch {
		switch {
		case rec.delta != nil:
			deltas = append(deltas, *rec.delta)
		case rec.status != nil:
			statuses = append(statuses, *rec.status)
		}
	}
	if len(deltas) > 0 {
		if err := r.store.InsertDeltas(ctx, deltas); err != nil {
			logs.Errorf("insert %d delta records, err: %+v", len(deltas), err)
		}
	}
	if len(statuses) > 0 {
		if err := r.store.InsertStatus(ctx, statuses); err != nil {
			logs.Errorf("insert %d status records, err: %+v", len(statuses), err)
		}
	}
}

type gormStore struct {
	db *gorm.DB
}

func (s gormStore) InsertDeltas(ctx context.Context, rows []DeltaRecord) error {
	return s.db.WithContext(ctx).CreateInBatches(rows, len(rows)).Error
}

func (s gormStore) InsertStatus(ctx context.Context, rows []StatusRecord) error {
	return s.db.WithContext(ctx).CreateInBatches(rows, len(rows)).Error
}
