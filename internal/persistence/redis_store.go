package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/cascade/pkg/api"
)

// RedisStore is a StateStore backed by Redis. It uses a simple key layout:
//
//	<prefix>state:<id>            => gob-encoded workflow state
//	<prefix>idx:all               => SET of all workflow ids
//	<prefix>idx:def:<definition>  => SET of workflow ids per definition
//	<prefix>idx:status:<status>   => SET of workflow ids per status
//	<prefix>lease:<id>            => lease owner, with TTL
//
// Indexes are updated on every Save and used by List; a Save moves the id
// between status sets as the workflow progresses.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ api.StateStore = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore. prefix is optional but recommended
// (for example "cascade:").
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "cascade:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) keyState(id string) string { return s.prefix + "state:" + id }
func (s *RedisStore) keyAll() string            { return s.prefix + "idx:all" }
func (s *RedisStore) keyDef(id string) string   { return s.prefix + "idx:def:" + id }
func (s *RedisStore) keyLease(id string) string { return s.prefix + "lease:" + id }

func (s *RedisStore) keyStatus(st api.Status) string {
	return s.prefix + "idx:status:" + string(st)
}

func (s *RedisStore) Save(ctx context.Context, state *api.WorkflowState) error {
	data, err := EncodeState(state)
	if err != nil {
		return err
	}

	// Read the previous status so the id can be moved between status sets.
	var prevStatus api.Status
	if prev, err := s.client.Get(ctx, s.keyState(state.WorkflowID)).Bytes(); err == nil {
		if prevState, derr := DecodeState(prev); derr == nil {
			prevStatus = prevState.Status
		}
	} else if !errors.Is(err, redis.Nil) {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keyState(state.WorkflowID), data, 0)
	pipe.SAdd(ctx, s.keyAll(), state.WorkflowID)
	pipe.SAdd(ctx, s.keyDef(state.DefinitionID), state.WorkflowID)
	if prevStatus != "" && prevStatus != state.Status {
		pipe.SRem(ctx, s.keyStatus(prevStatus), state.WorkflowID)
	}
	pipe.SAdd(ctx, s.keyStatus(state.Status), state.WorkflowID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Load(ctx context.Context, workflowID string) (*api.WorkflowState, error) {
	data, err := s.client.Get(ctx, s.keyState(workflowID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, api.ErrStateNotFound
	}
	if err != nil {
		return nil, err
	}
	return DecodeState(data)
}

func (s *RedisStore) List(ctx context.Context, filter api.StateFilter) ([]*api.WorkflowState, error) {
	var ids []string
	var err error

	switch {
	case filter.DefinitionID != "" && filter.Status != "":
		ids, err = s.client.SInter(ctx, s.keyDef(filter.DefinitionID), s.keyStatus(filter.Status)).Result()
	case filter.DefinitionID != "":
		ids, err = s.client.SMembers(ctx, s.keyDef(filter.DefinitionID)).Result()
	case filter.Status != "":
		ids, err = s.client.SMembers(ctx, s.keyStatus(filter.Status)).Result()
	default:
		ids, err = s.client.SMembers(ctx, s.keyAll()).Result()
	}
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.keyState(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var states []*api.WorkflowState
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		st, err := DecodeState(data)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, nil
}

var (
	// Acquire is re-entrant for the same owner. Returns 1 when acquired
	// or refreshed.
	redisLeaseAcquireLua = redis.NewScript(`
local key = KEYS[1]
local owner = ARGV[1]
local ttlms = tonumber(ARGV[2])

local cur = redis.call('GET', key)
if not cur then
	redis.call('PSETEX', key, ttlms, owner)
	return 1
end
if cur == owner then
	redis.call('PEXPIRE', key, ttlms)
	return 1
end
return 0
`)

	redisLeaseRenewLua = redis.NewScript(`
local key = KEYS[1]
local owner = ARGV[1]
local ttlms = tonumber(ARGV[2])

local cur = redis.call('GET', key)
if not cur then
	return 0
end
if cur == owner then
	redis.call('PEXPIRE', key, ttlms)
	return 1
end
return 0
`)

	redisLeaseReleaseLua = redis.NewScript(`
local key = KEYS[1]
local owner = ARGV[1]

local cur = redis.call('GET', key)
if cur == owner then
	redis.call('DEL', key)
end
return 1
`)
)

func (s *RedisStore) TryAcquireLease(ctx context.Context, workflowID, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errors.New("ttl must be > 0")
	}
	res, err := redisLeaseAcquireLua.Run(ctx, s.client, []string{s.keyLease(workflowID)}, owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (s *RedisStore) RenewLease(ctx context.Context, workflowID, owner string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be > 0")
	}
	res, err := redisLeaseRenewLua.Run(ctx, s.client, []string{s.keyLease(workflowID)}, owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if res != 1 {
		return api.ErrLeaseNotHeld
	}
	return nil
}

func (s *RedisStore) ReleaseLease(ctx context.Context, workflowID, owner string) error {
	return redisLeaseReleaseLua.Run(ctx, s.client, []string{s.keyLease(workflowID)}, owner).Err()
}
