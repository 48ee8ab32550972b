package collector

import (
	"context"
	"fmt"
	"strconv"

	backend "github.com/redis/go-redis/v9"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/signalsfoundry/heatnet-simulator/core"
)

// DefaultStream is the stream key used when none is configured.
const DefaultStream = "heatnet:steps"

// RedisStreamSink appends every step to a Redis stream with XADD. Each
// entry carries the step time, the run ID and the JSON record.
type RedisStreamSink struct {
	client    *backend.Client
	owned     bool
	stream    string
	maxLen    int64
	runID     string
	precision int32
}

type RedisOption func(*RedisStreamSink)

// WithStream sets the stream key.
func WithStream(stream string) RedisOption {
	return func(s *RedisStreamSink) {
		if stream != "" {
			s.stream = stream
		}
	}
}

// WithMaxLen caps the stream at n entries. Zero keeps everything.
func WithMaxLen(n int64) RedisOption {
	return func(s *RedisStreamSink) {
		s.maxLen = n
	}
}

// WithPrecision sets the number of decimals kept for reported values.
func WithPrecision(places int32) RedisOption {
	return func(s *RedisStreamSink) {
		s.precision = places
	}
}

// NewRedisStreamSink dials addr. Close also closes the client.
func NewRedisStreamSink(addr, runID string, opts ...RedisOption) *RedisStreamSink {
	s := NewRedisStreamSinkFromClient(backend.NewClient(&backend.Options{Addr: addr}), runID, opts...)
	s.owned = true
	return s
}

// NewRedisStreamSinkFromClient uses an existing client, which Close leaves open.
func NewRedisStreamSinkFromClient(client *backend.Client, runID string, opts ...RedisOption) *RedisStreamSink {
	s := &RedisStreamSink{
		client:    client,
		stream:    DefaultStream,
		runID:     runID,
		precision: DefaultPrecision,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping checks connectivity.
func (s *RedisStreamSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStreamSink) Write(ctx context.Context, out *core.StepOutputs) error {
	rec, err := Record(out, s.runID, s.precision)
	if err != nil {
		return fmt.Errorf("collector: build record: %w", err)
	}
	payload, err := protojson.Marshal(rec)
	if err != nil {
		return fmt.Errorf("collector: encode record: %w", err)
	}

	args := &backend.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"time":    strconv.FormatFloat(out.Time, 'f', -1, 64),
			"run_id":  s.runID,
			"payload": string(payload),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("collector: xadd %s: %w", s.stream, err)
	}
	return nil
}

func (s *RedisStreamSink) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}
