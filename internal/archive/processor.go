package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/liverelay/internal/events"
	"github.com/aura-webinar/liverelay/internal/models"
	"github.com/aura-webinar/liverelay/pkg/queue"
	"github.com/aura-webinar/liverelay/pkg/storage"
)

// ErrUnknownJob is returned for job types the processor does not handle.
var ErrUnknownJob = errors.New("unknown job type")

// Writer persists archived records.
type Writer interface {
	InsertEntry(ctx context.Context, instanceID, handle string, entry any) error
	UpsertSession(ctx context.Context, instanceID string, sess models.Session, exportURL string) error
}

// Uploader stores session exports.
type Uploader interface {
	UploadJSON(ctx context.Context, key string, body []byte) (string, error)
}

// Presigner is implemented by uploaders that can hand out temporary download links.
type Presigner interface {
	PresignDownload(ctx context.Context, key string) (string, error)
}

// JobQueue is the worker's view of the job queue.
type JobQueue interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Processor drains archive jobs into Postgres and S3.
type Processor struct {
	writer   Writer
	uploader Uploader
	queue    JobQueue
	logger   *zap.Logger
	backoff  time.Duration
	poll     time.Duration
}

// NewProcessor creates an archive processor. A nil uploader skips the S3 copy of session exports.
func NewProcessor(writer Writer, uploader Uploader, q JobQueue, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		writer:   writer,
		uploader: uploader,
		queue:    q,
		logger:   logger,
		backoff:  queue.RetryBackoff,
		poll:     5 * time.Second,
	}
}

// Process executes one archive job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeEntryArchive:
		var payload EntryJob
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		entry, err := DecodeEntry(payload.Kind, payload.Entry)
		if err != nil {
			return err
		}
		if err := p.writer.InsertEntry(ctx, payload.InstanceID, payload.Handle, entry); err != nil {
			return fmt.Errorf("insert %s entry: %w", payload.Kind, err)
		}
		return nil

	case queue.JobTypeSessionExport:
		var payload ExportJob
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return p.export(ctx, payload)
	}
	return fmt.Errorf("%s: %w", job.Type, ErrUnknownJob)
}

func (p *Processor) export(ctx context.Context, payload ExportJob) error {
	sess := payload.Snapshot.Session
	var url string
	if p.uploader != nil {
		body, err := json.Marshal(payload.Snapshot)
		if err != nil {
			return fmt.Errorf("marshal snapshot: %w", err)
		}
		key := storage.SessionExportKey(sess.TiktokUsername, payload.InstanceID, sess.ID, payload.Snapshot.CapturedAt)
		if url, err = p.uploader.UploadJSON(ctx, key, body); err != nil {
			return fmt.Errorf("s3 upload: %w", err)
		}
		fields := []zap.Field{zap.String("handle", sess.TiktokUsername), zap.String("s3_key", key)}
		if ps, ok := p.uploader.(Presigner); ok {
			if link, err := ps.PresignDownload(ctx, key); err != nil {
				p.logger.Warn("presign export", zap.String("s3_key", key), zap.Error(err))
			} else {
				fields = append(fields, zap.String("download_url", link))
			}
		}
		p.logger.Info("session exported", fields...)
	}
	if err := p.writer.UpsertSession(ctx, payload.InstanceID, sess, url); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// DecodeEntry turns an archived entry back into its typed record.
func DecodeEntry(kind events.Kind, raw json.RawMessage) (any, error) {
	var (
		entry any
		err   error
	)
	switch kind {
	case events.KindChat:
		entry, err = decode[models.ChatEntry](raw)
	case events.KindGift:
		entry, err = decode[models.GiftEntry](raw)
	case events.KindLike:
		entry, err = decode[models.LikeEntry](raw)
	case events.KindFollow:
		entry, err = decode[models.FollowEntry](raw)
	case events.KindShare:
		entry, err = decode[models.ShareEntry](raw)
	case events.KindMember:
		entry, err = decode[models.MemberEntry](raw)
	default:
		return nil, fmt.Errorf("entry kind %q: %w", kind, ErrUnknownJob)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s entry: %w", kind, err)
	}
	return entry, nil
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			p.logger.Info("archive worker stopping")
			return nil
		}

		job, err := p.queue.Dequeue(ctx, p.poll)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *Processor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
