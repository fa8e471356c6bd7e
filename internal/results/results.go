// Package results fans finished games out to the configured sinks.
package results

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"matchrelay/internal/match"
)

// Sink is one destination for finished games.
type Sink interface {
	Record(ctx context.Context, r match.Result) error
}

// Fanout records to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) Record(ctx context.Context, r match.Result) error {
	var err error
	for _, s := range f {
		err = multierr.Append(err, s.Record(ctx, r))
	}
	return err
}

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes each result as JSON on a subject.
type NATSPublisher struct {
	conn    publisher
	subject string
}

func NewNATSPublisher(conn *nats.Conn, subject string) *NATSPublisher {
	return &NATSPublisher{conn: conn, subject: subject}
}

func (p *NATSPublisher) Record(ctx context.Context, r match.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish result to %s: %w", p.subject, err)
	}
	return nil
}

type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// streamMaxLen trims the stream approximately to this many entries.
const streamMaxLen = 100_000

// RedisStream appends each result to a Redis stream.
type RedisStream struct {
	client streamAdder
	stream string
}

func NewRedisStream(client *redis.Client, stream string) *RedisStream {
	return &RedisStream{client: client, stream: stream}
}

func (s *RedisStream) Record(ctx context.Context, r match.Result) error {
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: streamFields(r),
		Approx: true,
		MaxLen: streamMaxLen,
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("append result to %s: %w", s.stream, err)
	}
	return nil
}

func streamFields(r match.Result) map[string]any {
	return map[string]any{
		"session_id":  r.SessionID,
		"player_a":    r.PlayerA,
		"player_b":    r.PlayerB,
		"winner":      r.Winner,
		"loser":       r.Loser,
		"outcome":     r.Outcome,
		"reported_by": r.ReportedBy,
		"started_at":  strconv.FormatInt(r.StartedAt.UnixMilli(), 10),
		"ended_at":    strconv.FormatInt(r.EndedAt.UnixMilli(), 10),
	}
}

// Log writes each result to the logger. It never fails.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log { return &Log{log: log} }

func (l *Log) Record(_ context.Context, r match.Result) error {
	l.log.Info("game result",
		zap.String("session", r.SessionID),
		zap.Strings("players", r.Players()),
		zap.String("winner", r.Winner),
		zap.String("outcome", r.Outcome),
		zap.String("reported_by", r.ReportedBy),
		zap.Duration("duration", r.EndedAt.Sub(r.StartedAt)),
	)
	return nil
}
