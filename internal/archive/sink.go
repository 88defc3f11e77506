// Package archive copies relayed entries and finished sessions to durable storage off the hot path.
package archive

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/liverelay/internal/events"
	"github.com/aura-webinar/liverelay/internal/models"
	"github.com/aura-webinar/liverelay/pkg/queue"
)

// DefaultBuffer is the number of jobs QueueSink holds before dropping.
const DefaultBuffer = 4096

// EntryJob is the payload of an entry_archive job.
type EntryJob struct {
	InstanceID string          `json:"instance_id"`
	Handle     string          `json:"handle"`
	Kind       events.Kind     `json:"kind"`
	Entry      json.RawMessage `json:"entry"`
}

// ExportJob is the payload of a session_export job.
type ExportJob struct {
	InstanceID string                 `json:"instance_id"`
	Snapshot   models.SessionSnapshot `json:"snapshot"`
}

// Enqueuer accepts jobs for the worker.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType queue.JobType, payload any) error
}

type pendingJob struct {
	jobType queue.JobType
	payload any
}

// QueueSink buffers archive jobs in memory and feeds them to the Redis queue from Run.
// ArchiveEntry and ExportSession never block; when the buffer is full the job is dropped.
type QueueSink struct {
	q          Enqueuer
	instanceID string
	jobs       chan pendingJob
	dropped    atomic.Int64
	logger     *zap.Logger
}

// NewQueueSink creates a sink tagging every job with instanceID.
func NewQueueSink(q Enqueuer, instanceID string, buffer int, logger *zap.Logger) *QueueSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &QueueSink{
		q:          q,
		instanceID: instanceID,
		jobs:       make(chan pendingJob, buffer),
		logger:     logger,
	}
}

// ArchiveEntry queues one stored entry.
func (s *QueueSink) ArchiveEntry(kind events.Kind, handle string, record any) {
	raw, err := json.Marshal(record)
	if err != nil {
		s.logger.Warn("marshal archive entry", zap.String("kind", string(kind)), zap.Error(err))
		return
	}
	s.offer(queue.JobTypeEntryArchive, EntryJob{InstanceID: s.instanceID, Handle: handle, Kind: kind, Entry: raw})
}

// ExportSession queues a finished session for export.
func (s *QueueSink) ExportSession(snap models.SessionSnapshot) {
	s.offer(queue.JobTypeSessionExport, ExportJob{InstanceID: s.instanceID, Snapshot: snap})
}

// Dropped returns the number of jobs discarded because the buffer was full.
func (s *QueueSink) Dropped() int64 {
	return s.dropped.Load()
}

func (s *QueueSink) offer(jobType queue.JobType, payload any) {
	select {
	case s.jobs <- pendingJob{jobType: jobType, payload: payload}:
	default:
		if n := s.dropped.Add(1); n == 1 || n%1000 == 0 {
			s.logger.Warn("archive buffer full, dropping job", zap.String("type", string(jobType)), zap.Int64("dropped", n))
		}
	}
}

// Run forwards buffered jobs to the queue until ctx is done, then flushes what is left.
func (s *QueueSink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.flush()
			return nil
		case job := <-s.jobs:
			s.send(ctx, job)
		}
	}
}

func (s *QueueSink) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case job := <-s.jobs:
			s.send(ctx, job)
		default:
			return
		}
	}
}

func (s *QueueSink) send(ctx context.Context, job pendingJob) {
	sendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.q.Enqueue(sendCtx, job.jobType, job.payload); err != nil {
		s.logger.Warn("enqueue archive job", zap.String("type", string(job.jobType)), zap.Error(err))
	}
}
