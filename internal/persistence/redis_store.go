package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/ramify/pkg/api"
)

// RedisInstanceStore is an InstanceStore backed by Redis. Key structure:
//
//	<prefix>inst:<id>             => JSON instance document
//	<prefix>rev:<id>              => revision counter
//	<prefix>lease:<id>            => lease owner, with TTL
//	<prefix>idx:all               => SET of all instance ids
//	<prefix>idx:def:<id>          => SET of instance ids per definition
//	<prefix>idx:corr:<id>         => SET of instance ids per correlation id
//	<prefix>idx:status:<status>   => SET of instance ids per status
//
// The document write is a Lua compare-and-swap against the revision
// counter; the index sets are best-effort and ListInstances re-filters by
// document.
type RedisInstanceStore struct {
	client *redis.Client
	prefix string
}

// NewRedisInstanceStore creates a RedisInstanceStore. An empty prefix
// defaults to "ramify:".
func NewRedisInstanceStore(client *redis.Client, prefix string) *RedisInstanceStore {
	if prefix == "" {
		prefix = "ramify:"
	}
	return &RedisInstanceStore{client: client, prefix: prefix}
}

func (r *RedisInstanceStore) keyInstance(id string) string { return r.prefix + "inst:" + id }
func (r *RedisInstanceStore) keyRevision(id string) string { return r.prefix + "rev:" + id }
func (r *RedisInstanceStore) keyLease(id string) string    { return r.prefix + "lease:" + id }
func (r *RedisInstanceStore) keyAll() string               { return r.prefix + "idx:all" }
func (r *RedisInstanceStore) keyDefinition(id string) string {
	return r.prefix + "idx:def:" + id
}
func (r *RedisInstanceStore) keyCorrelation(id string) string {
	return r.prefix + "idx:corr:" + id
}
func (r *RedisInstanceStore) keyStatus(status api.Status) string {
	return r.prefix + "idx:status:" + string(status)
}

// Compare-and-swap of the instance document against the revision counter.
// Returns the new revision, or -1 when the stored revision does not match.
var redisSaveLua = redis.NewScript(`
local revkey = KEYS[1]
local dockey = KEYS[2]
local expected = ARGV[1]
local doc = ARGV[2]

local cur = redis.call('GET', revkey)
if not cur then
	cur = '0'
end
if cur ~= expected then
	return -1
end
local nxt = tonumber(cur) + 1
redis.call('SET', revkey, nxt)
redis.call('SET', dockey, doc)
return nxt
`)

func (r *RedisInstanceStore) SaveInstance(ctx context.Context, inst *api.WorkflowInstance) error {
	prevRevision, prevUpdated := inst.Revision, inst.UpdatedUTC
	inst.Revision++
	inst.UpdatedUTC = time.Now().UTC()

	doc, err := EncodeInstance(inst)
	if err != nil {
		inst.Revision, inst.UpdatedUTC = prevRevision, prevUpdated
		return err
	}

	// Old status index entry must go; fetch the previous document first.
	var oldStatus api.Status
	if prevRevision > 0 {
		if old, err := r.GetInstance(ctx, inst.ID); err == nil {
			oldStatus = old.Status
		}
	}

	res, err := redisSaveLua.Run(ctx, r.client,
		[]string{r.keyRevision(inst.ID), r.keyInstance(inst.ID)},
		prevRevision, doc).Int64()
	if err != nil {
		inst.Revision, inst.UpdatedUTC = prevRevision, prevUpdated
		return fmt.Errorf("save instance %s: %w", inst.ID, err)
	}
	if res < 0 {
		inst.Revision, inst.UpdatedUTC = prevRevision, prevUpdated
		return fmt.Errorf("save instance %s: expected revision %d: %w",
			inst.ID, prevRevision, api.ErrConcurrencyConflict)
	}

	// Best-effort index maintenance; readers re-filter by document.
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.keyAll(), inst.ID)
	pipe.SAdd(ctx, r.keyDefinition(inst.DefinitionID), inst.ID)
	if inst.CorrelationID != "" {
		pipe.SAdd(ctx, r.keyCorrelation(inst.CorrelationID), inst.ID)
	}
	if oldStatus != "" && oldStatus != inst.Status {
		pipe.SRem(ctx, r.keyStatus(oldStatus), inst.ID)
	}
	pipe.SAdd(ctx, r.keyStatus(inst.Status), inst.ID)
	_, _ = pipe.Exec(ctx)

	return nil
}

func (r *RedisInstanceStore) GetInstance(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	data, err := r.client.Get(ctx, r.keyInstance(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("instance %s: %w", id, api.ErrInstanceNotFound)
		}
		return nil, fmt.Errorf("get instance %s: %w", id, err)
	}
	return DecodeInstance(data)
}

func (r *RedisInstanceStore) GetInstancesByCorrelation(ctx context.Context, correlationID string) ([]*api.WorkflowInstance, error) {
	return r.ListInstances(ctx, InstanceFilter{CorrelationID: correlationID})
}

func (r *RedisInstanceStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.WorkflowInstance, error) {
	var keys []string
	if filter.DefinitionID != "" {
		keys = append(keys, r.keyDefinition(filter.DefinitionID))
	}
	if filter.CorrelationID != "" {
		keys = append(keys, r.keyCorrelation(filter.CorrelationID))
	}
	if filter.Status != "" {
		keys = append(keys, r.keyStatus(filter.Status))
	}

	var ids []string
	var err error
	switch len(keys) {
	case 0:
		ids, err = r.client.SMembers(ctx, r.keyAll()).Result()
	case 1:
		ids, err = r.client.SMembers(ctx, keys[0]).Result()
	default:
		ids, err = r.client.SInter(ctx, keys...).Result()
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, r.keyInstance(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("list instances: %w", err)
	}

	var out []*api.WorkflowInstance
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("list instances: %w", err)
		}
		inst, err := DecodeInstance(data)
		if err != nil {
			return nil, err
		}
		if matchesFilter(inst, filter) {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedUTC.Before(out[j].CreatedUTC) })
	return out, nil
}

func (r *RedisInstanceStore) DeleteInstance(ctx context.Context, id string) error {
	inst, err := r.GetInstance(ctx, id)
	if err != nil {
		if errors.Is(err, api.ErrInstanceNotFound) {
			return nil
		}
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.keyInstance(id), r.keyRevision(id), r.keyLease(id))
	pipe.SRem(ctx, r.keyAll(), id)
	pipe.SRem(ctx, r.keyDefinition(inst.DefinitionID), id)
	if inst.CorrelationID != "" {
		pipe.SRem(ctx, r.keyCorrelation(inst.CorrelationID), id)
	}
	pipe.SRem(ctx, r.keyStatus(inst.Status), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete instance %s: %w", id, err)
	}
	return nil
}

// Lease scripts. The lease key holds the owner and expires via Redis TTL,
// so a crashed run releases automatically.

var redisLeaseAcquireLua = redis.NewScript(`
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

var redisLeaseRenewLua = redis.NewScript(`
local key = KEYS[1]
local owner = ARGV[1]
local ttlms = tonumber(ARGV[2])

local cur = redis.call('GET', key)
if cur == owner then
	redis.call('PEXPIRE', key, ttlms)
	return 1
end
return 0
`)

var redisLeaseReleaseLua = redis.NewScript(`
local key = KEYS[1]
local owner = ARGV[1]

if redis.call('GET', key) == owner then
	redis.call('DEL', key)
end
return 1
`)

func (r *RedisInstanceStore) TryAcquireLease(ctx context.Context, instanceID, owner string, expiresAt time.Time) (bool, error) {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return false, fmt.Errorf("acquire lease on %s: expiry is in the past", instanceID)
	}
	res, err := redisLeaseAcquireLua.Run(ctx, r.client,
		[]string{r.keyLease(instanceID)}, owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("acquire lease on %s: %w", instanceID, err)
	}
	return res == 1, nil
}

func (r *RedisInstanceStore) RenewLease(ctx context.Context, instanceID, owner string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return fmt.Errorf("renew lease on %s: expiry is in the past", instanceID)
	}
	res, err := redisLeaseRenewLua.Run(ctx, r.client,
		[]string{r.keyLease(instanceID)}, owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("renew lease on %s: %w", instanceID, err)
	}
	if res != 1 {
		return fmt.Errorf("renew lease on %s: not held by %s", instanceID, owner)
	}
	return nil
}

func (r *RedisInstanceStore) ReleaseLease(ctx context.Context, instanceID, owner string) error {
	if err := redisLeaseReleaseLua.Run(ctx, r.client,
		[]string{r.keyLease(instanceID)}, owner).Err(); err != nil {
		return fmt.Errorf("release lease on %s: %w", instanceID, err)
	}
	return nil
}

// NewRedisPersistence bundles a Redis instance store with in-memory
// definitions and events. Definitions are code-registered at startup, so
// only instance state needs the shared store.
func NewRedisPersistence(client *redis.Client, prefix string) Persistence {
	return Persistence{
		Definitions: NewMemoryDefinitionStore(),
		Instances:   NewRedisInstanceStore(client, prefix),
		Events:      NewMemoryEventStore(),
	}
}
