package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/user/aicoder/internal/types"
)

const (
	defaultRedisTTL    = 24 * time.Hour
	defaultRedisPrefix = "aicoder"
)

// RedisMirror copies status records into Redis so other processes can read
// the latest record of a run and follow live updates.
type RedisMirror struct {
	client   *goredis.Client
	prefix   string
	ttl      time.Duration
	origin   string
	addr     string
	db       int
	password string
}

type RedisOption func(*RedisMirror)

func WithRedisPassword(password string) RedisOption {
	return func(m *RedisMirror) { m.password = password }
}

func WithRedisDB(db int) RedisOption {
	return func(m *RedisMirror) { m.db = db }
}

func WithRedisPrefix(prefix string) RedisOption {
	return func(m *RedisMirror) {
		if strings.TrimSpace(prefix) != "" {
			m.prefix = strings.TrimSpace(prefix)
		}
	}
}

func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(m *RedisMirror) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// NewRedisMirror connects to addr and verifies the connection.
func NewRedisMirror(ctx context.Context, addr string, opts ...RedisOption) (*RedisMirror, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	m := &RedisMirror{
		prefix: defaultRedisPrefix,
		ttl:    defaultRedisTTL,
		origin: uuid.NewString(),
		addr:   addr,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.client = goredis.NewClient(&goredis.Options{
		Addr:     m.addr,
		Password: m.password,
		DB:       m.db,
	})
	if err := m.client.Ping(ctx).Err(); err != nil {
		m.client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return m, nil
}

// envelope tags a record with the publishing process so a relay can skip
// its own records.
type envelope struct {
	Origin string             `json:"origin"`
	Record types.StatusRecord `json:"record"`
}

func (m *RedisMirror) latestKey(runID types.RunID) string {
	return m.prefix + ":status:" + string(runID)
}

func (m *RedisMirror) currentKey() string {
	return m.prefix + ":status:current"
}

func (m *RedisMirror) channel() string {
	return m.prefix + ":status:events"
}

var _ types.StatusSink = (*RedisMirror)(nil)

// Publish stores rec as its run's latest record and broadcasts it.
func (m *RedisMirror) Publish(ctx context.Context, rec *types.StatusRecord) error {
	recRaw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	envRaw, err := json.Marshal(envelope{Origin: m.origin, Record: *rec})
	if err != nil {
		return fmt.Errorf("marshal status envelope: %w", err)
	}

	pipe := m.client.TxPipeline()
	pipe.Set(ctx, m.latestKey(rec.SessionID), recRaw, m.ttl)
	pipe.Set(ctx, m.currentKey(), string(rec.SessionID), m.ttl)
	pipe.Publish(ctx, m.channel(), envRaw)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mirror status to redis: %w", err)
	}
	return nil
}

// Latest reads the latest record of runID, or of the current run when runID
// is empty. ok is false when Redis has no record.
func (m *RedisMirror) Latest(ctx context.Context, runID types.RunID) (rec types.StatusRecord, ok bool, err error) {
	if runID == "" {
		cur, err := m.client.Get(ctx, m.currentKey()).Result()
		if errors.Is(err, goredis.Nil) {
			return rec, false, nil
		}
		if err != nil {
			return rec, false, fmt.Errorf("read current run: %w", err)
		}
		runID = types.RunID(cur)
	}

	raw, err := m.client.Get(ctx, m.latestKey(runID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, fmt.Errorf("read status: %w", err)
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, false, fmt.Errorf("decode status: %w", err)
	}
	return rec, true, nil
}

// Relay forwards records published by other processes into sink until ctx
// is done.
func (m *RedisMirror) Relay(ctx context.Context, sink types.StatusSink) error {
	ps := m.client.Subscribe(ctx, m.channel())
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", m.channel(), err)
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			rec, relay, err := m.decode(msg.Payload)
			if err != nil {
				slog.Warn("bad status relay message", "error", err)
				continue
			}
			if !relay {
				continue
			}
			if err := sink.Publish(ctx, &rec); err != nil {
				slog.Warn("relay status", "run_id", rec.SessionID, "error", err)
			}
		}
	}
}

// decode parses a relay payload and reports whether it came from another process.
func (m *RedisMirror) decode(payload string) (types.StatusRecord, bool, error) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return types.StatusRecord{}, false, err
	}
	return env.Record, env.Origin != m.origin, nil
}

func (m *RedisMirror) Close() error {
	return m.client.Close()
}
