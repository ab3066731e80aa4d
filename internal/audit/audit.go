// Package audit records message activity for analytics. Recording is fire and
// forget: it never blocks or fails the caller.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const ActionMessageSent = "message.sent"

type Entry struct {
	Action    string         `json:"action"`
	ActorID   string         `json:"actorId,omitempty"`
	ThreadID  string         `json:"threadId"`
	MessageID string         `json:"messageId,omitempty"`
	At        time.Time      `json:"at"`
	Meta      map[string]any `json:"meta,omitempty"`
}

type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// LogRecorder writes entries to the logger only.
type LogRecorder struct {
	logger *zap.Logger
}

func NewLogRecorder(logger *zap.Logger) *LogRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogRecorder{logger: logger}
}

func (r *LogRecorder) Record(_ context.Context, e Entry) {
	r.logger.Info("audit",
		zap.String("action", e.Action),
		zap.String("actor_id", e.ActorID),
		zap.String("thread_id", e.ThreadID),
		zap.String("message_id", e.MessageID),
		zap.Time("at", e.At),
	)
}

// ObjectPutter is the subset of the S3 client the archiver needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, key, contentType string, body []byte) error
}

type ArchiverConfig struct {
	Prefix        string
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// S3Archiver buffers entries and uploads them as NDJSON objects when a batch
// fills up or the flush interval elapses.
type S3Archiver struct {
	putter  ObjectPutter
	config  ArchiverConfig
	entries chan Entry
	logger  *zap.Logger
	now     func() time.Time
}

func NewS3Archiver(putter ObjectPutter, config ArchiverConfig, logger *zap.Logger) *S3Archiver {
	if config.Prefix == "" {
		config.Prefix = "audit"
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 500
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 30 * time.Second
	}
	if config.BufferSize <= 0 {
		config.BufferSize = config.BatchSize * 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Archiver{
		putter:  putter,
		config:  config,
		entries: make(chan Entry, config.BufferSize),
		logger:  logger,
		now:     time.Now,
	}
}

// Record enqueues e; when the buffer is full the entry is dropped and logged.
func (a *S3Archiver) Record(_ context.Context, e Entry) {
	select {
	case a.entries <- e:
	default:
		a.logger.Warn("Audit buffer full, dropping entry",
			zap.String("action", e.Action), zap.String("message_id", e.MessageID))
	}
}

// Run drains the buffer until ctx is done, then flushes what is left.
func (a *S3Archiver) Run(ctx context.Context) {
	ticker := time.NewTicker(a.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, a.config.BatchSize)
	for {
		select {
		case <-ctx.Done():
		drain:
			for {
				select {
				case e := <-a.entries:
					batch = append(batch, e)
				default:
					break drain
				}
			}
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			a.flush(flushCtx, batch)
			cancel()
			return
		case e := <-a.entries:
			batch = append(batch, e)
			if len(batch) >= a.config.BatchSize {
				a.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				a.flush(ctx, batch)
				batch = batch[:0]
			}
		}
	}
}

func (a *S3Archiver) flush(ctx context.Context, batch []Entry) {
	if len(batch) == 0 {
		return
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range batch {
		if err := enc.Encode(e); err != nil {
			a.logger.Warn("Skipping unencodable audit entry", zap.Error(err))
		}
	}

	now := a.now().UTC()
	key := fmt.Sprintf("%s/%s/%d-%s.ndjson", a.config.Prefix, now.Format("2006/01/02"), now.UnixNano(), uuid.NewString())
	if err := a.putter.PutObject(ctx, key, "application/x-ndjson", buf.Bytes()); err != nil {
		a.logger.Error("Failed to archive audit batch", zap.Int("entries", len(batch)), zap.Error(err))
		return
	}
	a.logger.Debug("Archived audit batch", zap.String("key", key), zap.Int("entries", len(batch)))
}
