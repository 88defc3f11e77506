package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/aura-webinar/liverelay/internal/models"
)

// DB is the subset of *pgxpool.Pool the repository uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository writes archived records to Postgres. Every write is idempotent, so retried jobs are harmless.
type Repository struct {
	db DB
}

// NewRepository creates an archive repository.
func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

const ensureStream = `INSERT INTO live_streams (instance_id, id, tiktok_username)
	VALUES ($1, $2, $3)
	ON CONFLICT (instance_id, id) DO NOTHING`

// InsertEntry stores one entry, creating a placeholder stream row for it if needed.
func (r *Repository) InsertEntry(ctx context.Context, instanceID, handle string, entry any) error {
	var (
		q        string
		args     []any
		streamID *int64
	)
	switch e := entry.(type) {
	case models.ChatEntry:
		streamID = e.StreamID
		q = `INSERT INTO chat_messages (instance_id, id, stream_id, username, message, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (instance_id, id) DO NOTHING`
		args = []any{instanceID, e.ID, e.StreamID, e.Username, e.Message, e.Timestamp}
	case models.GiftEntry:
		streamID = e.StreamID
		q = `INSERT INTO gifts (instance_id, id, stream_id, username, gift_name, gift_id, count, coins, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) ON CONFLICT (instance_id, id) DO NOTHING`
		args = []any{instanceID, e.ID, e.StreamID, e.Username, e.GiftName, e.GiftID, e.Count, e.Coins, e.Timestamp}
	case models.LikeEntry:
		streamID = e.StreamID
		q = `INSERT INTO likes (instance_id, id, stream_id, username, like_count, total_like_count, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (instance_id, id) DO NOTHING`
		args = []any{instanceID, e.ID, e.StreamID, e.Username, e.LikeCount, e.TotalLikeCount, e.Timestamp}
	case models.FollowEntry:
		streamID = e.StreamID
		q, args = simpleEntry("follows", instanceID, e.ID, e.StreamID, e.Username, e.Timestamp)
	case models.ShareEntry:
		streamID = e.StreamID
		q, args = simpleEntry("shares", instanceID, e.ID, e.StreamID, e.Username, e.Timestamp)
	case models.MemberEntry:
		streamID = e.StreamID
		q, args = simpleEntry("members", instanceID, e.ID, e.StreamID, e.Username, e.Timestamp)
	default:
		return fmt.Errorf("archive %T: %w", entry, ErrUnknownJob)
	}

	if streamID != nil {
		if _, err := r.db.Exec(ctx, ensureStream, instanceID, *streamID, handle); err != nil {
			return fmt.Errorf("ensure stream: %w", err)
		}
	}
	if _, err := r.db.Exec(ctx, q, args...); err != nil {
		return err
	}
	return nil
}

func simpleEntry(table, instanceID string, id int64, streamID *int64, username string, ts time.Time) (string, []any) {
	q := `INSERT INTO ` + table + ` (instance_id, id, stream_id, username, timestamp)
		VALUES ($1, $2, $3, $4, $5) ON CONFLICT (instance_id, id) DO NOTHING`
	return q, []any{instanceID, id, streamID, username, ts}
}

// UpsertSession writes the final state of a session. An empty exportURL leaves a stored one untouched.
func (r *Repository) UpsertSession(ctx context.Context, instanceID string, s models.Session, exportURL string) error {
	const q = `INSERT INTO live_streams (instance_id, id, tiktok_username, is_active, viewer_count, message_count,
			gift_count, coin_count, like_count, follow_count, share_count, started_at, export_url, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NULLIF($13, ''), NOW())
		ON CONFLICT (instance_id, id) DO UPDATE SET
			tiktok_username = EXCLUDED.tiktok_username,
			is_active = EXCLUDED.is_active,
			viewer_count = EXCLUDED.viewer_count,
			message_count = EXCLUDED.message_count,
			gift_count = EXCLUDED.gift_count,
			coin_count = EXCLUDED.coin_count,
			like_count = EXCLUDED.like_count,
			follow_count = EXCLUDED.follow_count,
			share_count = EXCLUDED.share_count,
			started_at = EXCLUDED.started_at,
			export_url = COALESCE(EXCLUDED.export_url, live_streams.export_url),
			archived_at = NOW()`
	_, err := r.db.Exec(ctx, q, instanceID, s.ID, s.TiktokUsername, s.IsActive, s.ViewerCount, s.MessageCount,
		s.GiftCount, s.CoinCount, s.LikeCount, s.FollowCount, s.ShareCount, s.StartedAt, exportURL)
	return err
}
