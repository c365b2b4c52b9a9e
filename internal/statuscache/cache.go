// Package statuscache is the fast read path mirroring job status in Redis.
//
// Entries are TTL-bounded projections of the durable job record. The one rule
// that matters here is terminal-state protection: once an entry reports
// completed or failed, no write may regress it to queued or processing. A
// slow, stale "processing" update delivered out of order after a fast
// "completed" must never hide a finished result from readers.
package statuscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jackzampolin/bindery/internal/jobs"
)

// ErrMiss is returned when no entry exists for the job id.
var ErrMiss = errors.New("status cache miss")

// DefaultTTL bounds the lifetime of an entry that is not renewed.
const DefaultTTL = 24 * time.Hour

// Entry is the ephemeral projection of a Job.
type Entry struct {
	JobID        string          `json:"job_id"`
	Status       jobs.Status     `json:"status"`
	UserID       string          `json:"user_id,omitempty"`
	PublicURL    string          `json:"public_url,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Update is a partial write. Nil pointer fields are left untouched in the
// stored entry; Status is ignored when empty.
type Update struct {
	Status       jobs.Status
	UserID       *string
	PublicURL    *string
	ErrorMessage *string
	StartedAt    *time.Time
	CompletedAt  *time.Time
	Payload      json.RawMessage
}

// FromJob builds an Update mirroring every cache-relevant field of the job.
func FromJob(job *jobs.Job) Update {
	return Update{
		Status:       job.Status,
		UserID:       &job.UserID,
		PublicURL:    &job.PublicURL,
		ErrorMessage: &job.ErrorMessage,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
	}
}

// Config configures a Cache.
type Config struct {
	Client redis.UniversalClient
	Prefix string        // key namespace (default "bindery:status")
	TTL    time.Duration // per-entry TTL (default DefaultTTL)
	Logger *slog.Logger
}

// Cache reads and writes job status entries in Redis.
type Cache struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a Cache.
func New(cfg Config) *Cache {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "bindery:status"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		rdb:    cfg.Client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With("component", "statuscache"),
	}
}

// IsTerminal reports whether a cached status blocks non-terminal overwrites.
func IsTerminal(status jobs.Status) bool {
	return status.Terminal()
}

func (c *Cache) key(jobID string) string {
	return c.prefix + ":" + jobID
}

func (c *Cache) indexKey() string {
	return c.prefix + ":index"
}

// Write merges the update into the entry for jobID and persists it with a
// renewed TTL. Terminal-state protection applies: when the stored entry is
// terminal and the incoming status is not, the status field of the update is
// discarded while the remaining non-regressing fields still merge. The merge
// runs under an optimistic WATCH transaction so concurrent writers do not
// interleave read-modify-write cycles.
func (c *Cache) Write(ctx context.Context, jobID string, update Update, ttl ...time.Duration) error {
	entryTTL := c.ttl
	if len(ttl) > 0 && ttl[0] > 0 {
		entryTTL = ttl[0]
	}
	key := c.key(jobID)

	txn := func(tx *redis.Tx) error {
		current, err := c.load(ctx, tx, key)
		if err != nil && !errors.Is(err, ErrMiss) {
			return err
		}

		merged := mergeEntry(jobID, current, update)
		if current != nil && current.Status.Terminal() && update.Status != "" && !update.Status.Terminal() {
			c.logger.Warn("discarding status regression on terminal entry",
				"job_id", jobID,
				"cached_status", current.Status,
				"incoming_status", update.Status,
			)
		}
		merged.UpdatedAt = time.Now().UTC()

		data, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("failed to marshal entry: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, entryTTL)
			pipe.SAdd(ctx, c.indexKey(), jobID)
			return nil
		})
		return err
	}

	// Retry a few times on WATCH conflicts before giving up.
	for i := 0; i < 5; i++ {
		err := c.rdb.Watch(ctx, txn, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("status cache write for %s: %w", jobID, err)
	}
	return fmt.Errorf("status cache write for %s: too many conflicts", jobID)
}

// mergeEntry applies the update on top of current (which may be nil),
// honoring terminal-state protection. PublicURL and ErrorMessage already
// present are only replaced when the update explicitly provides a non-empty
// value or the status transition legitimately clears them.
func mergeEntry(jobID string, current *Entry, update Update) *Entry {
	merged := &Entry{JobID: jobID}
	if current != nil {
		*merged = *current
	}

	if update.Status != "" {
		blocked := current != nil && current.Status.Terminal() && !update.Status.Terminal()
		if !blocked {
			merged.Status = update.Status
		}
	}
	if update.UserID != nil && *update.UserID != "" {
		merged.UserID = *update.UserID
	}
	if update.PublicURL != nil && *update.PublicURL != "" {
		merged.PublicURL = *update.PublicURL
	}
	if update.ErrorMessage != nil {
		// An explicit empty error message only clears on a completed write;
		// otherwise absence means "leave what is there".
		if *update.ErrorMessage != "" {
			merged.ErrorMessage = *update.ErrorMessage
		} else if update.Status == jobs.StatusCompleted {
			merged.ErrorMessage = ""
		}
	}
	if update.StartedAt != nil && merged.StartedAt == nil {
		t := *update.StartedAt
		merged.StartedAt = &t
	}
	if update.CompletedAt != nil && merged.CompletedAt == nil {
		t := *update.CompletedAt
		merged.CompletedAt = &t
	}
	if update.Payload != nil {
		merged.Payload = update.Payload
	}
	return merged
}

// Read returns the entry for jobID or ErrMiss.
func (c *Cache) Read(ctx context.Context, jobID string) (*Entry, error) {
	return c.load(ctx, c.rdb, c.key(jobID))
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (c *Cache) load(ctx context.Context, client getter, key string) (*Entry, error) {
	data, err := client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("status cache read: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}
	return &entry, nil
}

// BatchRead returns entries for the given job ids. Missing entries are
// omitted from the result map.
func (c *Cache) BatchRead(ctx context.Context, jobIDs []string) (map[string]*Entry, error) {
	if len(jobIDs) == 0 {
		return map[string]*Entry{}, nil
	}
	keys := make([]string, len(jobIDs))
	for i, id := range jobIDs {
		keys[i] = c.key(id)
	}
	values, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("status cache batch read: %w", err)
	}

	out := make(map[string]*Entry, len(jobIDs))
	for i, v := range values {
		if v == nil {
			continue
		}
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			c.logger.Warn("skipping undecodable cache entry", "job_id", jobIDs[i], "error", err)
			continue
		}
		out[jobIDs[i]] = &entry
	}
	return out, nil
}

// Remove deletes the entry for jobID.
func (c *Cache) Remove(ctx context.Context, jobID string) error {
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, c.key(jobID))
	pipe.SRem(ctx, c.indexKey(), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("status cache remove: %w", err)
	}
	return nil
}

// SweepExpired prunes index members whose entries have expired and returns
// how many were swept. Redis evicts the entries themselves via TTL; the sweep
// keeps the index set from growing without bound.
func (c *Cache) SweepExpired(ctx context.Context) (int, error) {
	ids, err := c.rdb.SMembers(ctx, c.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("status cache sweep: %w", err)
	}

	swept := 0
	for _, id := range ids {
		exists, err := c.rdb.Exists(ctx, c.key(id)).Result()
		if err != nil {
			return swept, fmt.Errorf("status cache sweep: %w", err)
		}
		if exists == 0 {
			if err := c.rdb.SRem(ctx, c.indexKey(), id).Err(); err != nil {
				return swept, fmt.Errorf("status cache sweep: %w", err)
			}
			swept++
		}
	}
	return swept, nil
}
