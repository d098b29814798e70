package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	dispute "github.com/goliatone/go-dispute"
)

// RedisStore keeps each run as a JSON value and maintains set indexes by
// case and by step. Writes use WATCH so concurrent writers across processes
// lose with a version conflict instead of overwriting each other.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	now       func() time.Time
}

// NewRedisStore builds a store with the given key prefix (default "dispute:").
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "dispute:"
	}
	return &RedisStore{client: client, keyPrefix: prefix, now: time.Now}
}

// OpenRedis connects to addr and verifies the connection.
func OpenRedis(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewRedisStore(client, ""), nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) Create(ctx context.Context, run *dispute.Run) (*dispute.Run, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("redis store not configured")
	}
	rec, err := prepareCreate(run, s.now())
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	key := s.runKey(rec.RunID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return exists(rec.RunID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			pipe.SAdd(ctx, s.caseKey(rec.CaseID), rec.RunID)
			pipe.SAdd(ctx, s.stepKey(rec.CurrentStep), rec.RunID)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, exists(rec.RunID)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *RedisStore) Get(ctx context.Context, runID string) (*dispute.Run, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("redis store not configured")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, nil
	}
	raw, err := s.client.Get(ctx, s.runKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeRedisRun(raw)
}

func (s *RedisStore) Patch(ctx context.Context, runID string, expectedVersion int, patch Patch) (*dispute.Run, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("redis store not configured")
	}
	key := s.runKey(runID)
	var next *dispute.Run
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return notFound(runID)
		}
		if err != nil {
			return err
		}
		current, err := decodeRedisRun(raw)
		if err != nil {
			return err
		}
		if err := checkVersion(current, expectedVersion); err != nil {
			return err
		}
		next = Apply(current, patch, s.now())
		payload, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			if current.CurrentStep != next.CurrentStep {
				pipe.SRem(ctx, s.stepKey(current.CurrentStep), runID)
				pipe.SAdd(ctx, s.stepKey(next.CurrentStep), runID)
			}
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, versionConflict(runID, expectedVersion, -1)
	}
	if err != nil {
		return nil, err
	}
	return next, nil
}

func (s *RedisStore) ListByCase(ctx context.Context, caseID string) ([]*dispute.Run, error) {
	return s.listSet(ctx, s.caseKey(caseID), 0)
}

func (s *RedisStore) ListByStep(ctx context.Context, step dispute.Step, limit int) ([]*dispute.Run, error) {
	return s.listSet(ctx, s.stepKey(step), limit)
}

func (s *RedisStore) MarkCompleted(ctx context.Context, runID string, expectedVersion int, final dispute.FinalResolution) (*dispute.Run, error) {
	return s.Patch(ctx, runID, expectedVersion, CompletedPatch(final, time.Now()))
}

func (s *RedisStore) MarkFailed(ctx context.Context, runID string, expectedVersion int, message string) (*dispute.Run, error) {
	return s.Patch(ctx, runID, expectedVersion, FailedPatch(message, time.Now()))
}

func (s *RedisStore) listSet(ctx context.Context, setKey string, limit int) ([]*dispute.Run, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("redis store not configured")
	}
	ids, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*dispute.Run{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.runKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*dispute.Run, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		run, err := decodeRedisRun([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	sortByCreated(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *RedisStore) runKey(id string) string {
	return s.keyPrefix + "run:" + strings.TrimSpace(id)
}

func (s *RedisStore) caseKey(id string) string {
	return s.keyPrefix + "case:" + id
}

func (s *RedisStore) stepKey(step dispute.Step) string {
	return s.keyPrefix + "step:" + string(step)
}

func decodeRedisRun(raw []byte) (*dispute.Run, error) {
	var run dispute.Run
	if err := json.Unmarshal(raw, &run); err != nil {
		return nil, err
	}
	return &run, nil
}
