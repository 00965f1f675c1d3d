package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultStreamMaxLen caps the mirror stream size.
const DefaultStreamMaxLen = 10000

// Mirror publishes appended records to a Redis stream for live monitoring
// consumers. It is strictly best-effort: a mirror failure is logged and
// never propagates into a cycle outcome.
type Mirror struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

// MirrorOpts configures the mirror connection.
type MirrorOpts struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	MaxLen   int64
}

// NewMirror connects to Redis and verifies the connection before use.
func NewMirror(ctx context.Context, o MirrorOpts, logger *zap.Logger) (*Mirror, error) {
	if o.MaxLen == 0 {
		o.MaxLen = DefaultStreamMaxLen
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     o.Addr,
		Password: o.Password,
		DB:       o.DB,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", o.Addr, err)
	}
	logger.Info("audit mirror connected",
		zap.String("addr", o.Addr),
		zap.String("stream", o.Stream))
	return &Mirror{client: rdb, stream: o.Stream, maxLen: o.MaxLen, logger: logger}, nil
}

// Publish adds the record to the stream, capped by MAXLEN (approximate).
func (m *Mirror) Publish(ctx context.Context, rec Record) {
	args := &redis.XAddArgs{
		Stream: m.stream,
		Values: map[string]interface{}{
			"timestamp":   rec.Timestamp.UTC().Format(time.RFC3339Nano),
			"topic_id":    rec.TopicID,
			"worker_addr": rec.WorkerAddr,
			"nonce":       rec.Nonce,
			"prediction":  rec.PredictionValue,
			"endpoint":    rec.EndpointUsed,
			"tx_hash":     rec.TxHash,
			"status":      string(rec.Status),
			"retry_count": rec.RetryCount,
			"latency_ms":  rec.LatencyMS,
		},
	}
	if m.maxLen > 0 {
		args.MaxLen = m.maxLen
		args.Approx = true
	}
	if err := m.client.XAdd(ctx, args).Err(); err != nil {
		m.logger.Warn("failed to mirror audit record",
			zap.String("stream", m.stream),
			zap.Error(err))
	}
}

// Close closes the Redis connection.
func (m *Mirror) Close() error {
	return m.client.Close()
}
