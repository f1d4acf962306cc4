// Package redisstore implements the store contracts on Redis so several
// guard instances can share one ledger, nonce set and audit log.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pario-ai/spendguard/pkg/models"
	"github.com/pario-ai/spendguard/pkg/store"
)

// Options configures the connection.
type Options struct {
	Addr       string
	Password   string
	DB         int
	Prefix     string
	MaxEntries int
}

// Store holds the client and key layout.
type Store struct {
	client     *redis.Client
	prefix     string
	maxEntries int
	ownsClient bool
}

// Open connects and pings Redis.
func Open(ctx context.Context, opts Options) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	s := New(client, opts.Prefix, opts.MaxEntries)
	s.ownsClient = true
	return s, nil
}

// New wraps an existing client. Close will not close it.
func New(client *redis.Client, prefix string, maxEntries int) *Store {
	if prefix == "" {
		prefix = "spendguard:"
	}
	if maxEntries <= 0 {
		maxEntries = 100
	}
	return &Store{client: client, prefix: prefix, maxEntries: maxEntries}
}

func (s *Store) key(name string) string { return s.prefix + name }

// Stores returns the five store views over this client.
func (s *Store) Stores() *store.Stores {
	return store.NewStores(
		&PolicyStore{s: s},
		&BudgetStore{s: s},
		&NonceStore{s: s},
		&PendingStore{s: s},
		&AuditStore{s: s},
		s.Close,
	)
}

// Close releases the client if Open created it.
func (s *Store) Close() error {
	if s.ownsClient {
		return s.client.Close()
	}
	return nil
}

// PolicyStore keeps the policy as one JSON string, updated under WATCH.
type PolicyStore struct{ s *Store }

const maxPolicyRetries = 10

func (ps *PolicyStore) Get(ctx context.Context) (models.PolicyConfig, error) {
	return ps.read(ctx, ps.s.client)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (ps *PolicyStore) read(ctx context.Context, c getter) (models.PolicyConfig, error) {
	raw, err := c.Get(ctx, ps.s.key("policy")).Result()
	if errors.Is(err, redis.Nil) {
		return models.PolicyConfig{}, store.ErrNotFound
	}
	if err != nil {
		return models.PolicyConfig{}, fmt.Errorf("get policy: %w", err)
	}
	var p models.PolicyConfig
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return models.PolicyConfig{}, fmt.Errorf("decode policy: %w", err)
	}
	return p.Clone(), nil
}

func (ps *PolicyStore) Set(ctx context.Context, update models.PolicyUpdate) (models.PolicyConfig, error) {
	key := ps.s.key("policy")
	var next models.PolicyConfig

	txf := func(tx *redis.Tx) error {
		cur, err := ps.read(ctx, tx)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		next = cur.Apply(update)
		data, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	for range maxPolicyRetries {
		err := ps.s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return models.PolicyConfig{}, fmt.Errorf("set policy: %w", err)
		}
		return next, nil
	}
	return models.PolicyConfig{}, fmt.Errorf("set policy: too much contention")
}

// BudgetStore keeps the ledger in a hash; Deduct and Reset are Lua scripts.
type BudgetStore struct{ s *Store }

var deductScript = redis.NewScript(`
local r = redis.call('HMGET', KEYS[1], 'daily_limit', 'remaining')
if not r[1] then return false end
local rem = tonumber(r[2]) - tonumber(ARGV[1])
if rem < 0 then rem = 0 end
redis.call('HSET', KEYS[1], 'remaining', string.format('%d', rem))
return {tonumber(r[1]), rem}
`)

var resetScript = redis.NewScript(`
local l = redis.call('HGET', KEYS[1], 'daily_limit')
if not l then return false end
redis.call('HSET', KEYS[1], 'remaining', l)
return {tonumber(l), tonumber(l)}
`)

func (bs *BudgetStore) Get(ctx context.Context) (models.BudgetState, error) {
	vals, err := bs.s.client.HMGet(ctx, bs.s.key("budget"), "daily_limit", "remaining").Result()
	if err != nil {
		return models.BudgetState{}, fmt.Errorf("get budget: %w", err)
	}
	if vals[0] == nil || vals[1] == nil {
		return models.BudgetState{}, store.ErrNotFound
	}
	limit, err := parseInt(vals[0])
	if err != nil {
		return models.BudgetState{}, fmt.Errorf("decode daily_limit: %w", err)
	}
	remaining, err := parseInt(vals[1])
	if err != nil {
		return models.BudgetState{}, fmt.Errorf("decode remaining: %w", err)
	}
	return models.BudgetState{DailyLimit: models.Amount(limit), Remaining: models.Amount(remaining)}, nil
}

func (bs *BudgetStore) Set(ctx context.Context, state models.BudgetState) error {
	err := bs.s.client.HSet(ctx, bs.s.key("budget"),
		"daily_limit", int64(state.DailyLimit),
		"remaining", int64(state.Remaining),
	).Err()
	if err != nil {
		return fmt.Errorf("set budget: %w", err)
	}
	return nil
}

func (bs *BudgetStore) Deduct(ctx context.Context, amount models.Amount) (models.BudgetState, error) {
	res, err := deductScript.Run(ctx, bs.s.client, []string{bs.s.key("budget")}, int64(amount)).Result()
	return scriptState(res, err, "deduct budget")
}

func (bs *BudgetStore) Reset(ctx context.Context) (models.BudgetState, error) {
	res, err := resetScript.Run(ctx, bs.s.client, []string{bs.s.key("budget")}).Result()
	return scriptState(res, err, "reset budget")
}

func scriptState(res any, err error, op string) (models.BudgetState, error) {
	if errors.Is(err, redis.Nil) {
		return models.BudgetState{}, store.ErrNotFound
	}
	if err != nil {
		return models.BudgetState{}, fmt.Errorf("%s: %w", op, err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return models.BudgetState{}, fmt.Errorf("%s: unexpected script result %v", op, res)
	}
	limit, _ := vals[0].(int64)
	remaining, _ := vals[1].(int64)
	return models.BudgetState{DailyLimit: models.Amount(limit), Remaining: models.Amount(remaining)}, nil
}

func parseInt(v any) (int64, error) {
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected type %T", v)
	}
	return strconv.ParseInt(s, 10, 64)
}

// NonceStore is a Redis set; SADD reports whether the member was new.
type NonceStore struct{ s *Store }

func (ns *NonceStore) Claim(ctx context.Context, nonce string) (bool, error) {
	n, err := ns.s.client.SAdd(ctx, ns.s.key("used_nonces"), nonce).Result()
	if err != nil {
		return false, fmt.Errorf("claim nonce: %w", err)
	}
	return n == 1, nil
}

func (ns *NonceStore) IsClaimed(ctx context.Context, nonce string) (bool, error) {
	ok, err := ns.s.client.SIsMember(ctx, ns.s.key("used_nonces"), nonce).Result()
	if err != nil {
		return false, fmt.Errorf("check nonce: %w", err)
	}
	return ok, nil
}

func (ns *NonceStore) Clear(ctx context.Context) error {
	if err := ns.s.client.Del(ctx, ns.s.key("used_nonces")).Err(); err != nil {
		return fmt.Errorf("clear nonces: %w", err)
	}
	return nil
}

// PendingStore keeps one key per quote with a native TTL.
type PendingStore struct{ s *Store }

func (ps *PendingStore) pendingKey(nonce string) string {
	return ps.s.key("pending:" + nonce)
}

func (ps *PendingStore) Put(ctx context.Context, nonce string, req models.PaymentRequirement, ttl time.Duration) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode pending payment: %w", err)
	}
	if err := ps.s.client.Set(ctx, ps.pendingKey(nonce), data, ttl).Err(); err != nil {
		return fmt.Errorf("put pending payment: %w", err)
	}
	return nil
}

func (ps *PendingStore) Get(ctx context.Context, nonce string) (models.PaymentRequirement, error) {
	raw, err := ps.s.client.Get(ctx, ps.pendingKey(nonce)).Result()
	if errors.Is(err, redis.Nil) {
		return models.PaymentRequirement{}, store.ErrNotFound
	}
	if err != nil {
		return models.PaymentRequirement{}, fmt.Errorf("get pending payment: %w", err)
	}
	var req models.PaymentRequirement
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return models.PaymentRequirement{}, fmt.Errorf("decode pending payment: %w", err)
	}
	return req, nil
}

func (ps *PendingStore) Remove(ctx context.Context, nonce string) error {
	if err := ps.s.client.Del(ctx, ps.pendingKey(nonce)).Err(); err != nil {
		return fmt.Errorf("remove pending payment: %w", err)
	}
	return nil
}

func (ps *PendingStore) Clear(ctx context.Context) error {
	iter := ps.s.client.Scan(ctx, 0, ps.pendingKey("*"), 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := ps.s.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("clear pending payments: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan pending payments: %w", err)
	}
	if len(batch) > 0 {
		if err := ps.s.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("clear pending payments: %w", err)
		}
	}
	return nil
}

// AuditStore is a capped list, newest first. The script numbers and pushes
// in one step so list order always matches id order.
type AuditStore struct{ s *Store }

var appendScript = redis.NewScript(`
local id = redis.call('INCR', KEYS[2])
redis.call('LPUSH', KEYS[1], '{"seq":' .. id .. ',"entry":' .. ARGV[1] .. '}')
redis.call('LTRIM', KEYS[1], 0, tonumber(ARGV[2]) - 1)
return id
`)

type auditRecord struct {
	Seq   int64                `json:"seq"`
	Entry models.AuditLogEntry `json:"entry"`
}

func (as *AuditStore) Append(ctx context.Context, entry models.AuditLogEntry) (models.AuditLogEntry, error) {
	entry.ID = ""
	data, err := json.Marshal(entry)
	if err != nil {
		return entry, fmt.Errorf("encode audit entry: %w", err)
	}
	seq, err := appendScript.Run(ctx, as.s.client,
		[]string{as.s.key("audit_logs"), as.s.key("log_counter")},
		string(data), as.s.maxEntries,
	).Int64()
	if err != nil {
		return entry, fmt.Errorf("append audit entry: %w", err)
	}
	entry.ID = store.LogID(seq)
	return entry, nil
}

func (as *AuditStore) List(ctx context.Context, limit int) ([]models.AuditLogEntry, error) {
	if limit <= 0 || limit > as.s.maxEntries {
		limit = as.s.maxEntries
	}
	raws, err := as.s.client.LRange(ctx, as.s.key("audit_logs"), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	entries := make([]models.AuditLogEntry, 0, len(raws))
	for _, raw := range raws {
		var rec auditRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode audit entry: %w", err)
		}
		rec.Entry.ID = store.LogID(rec.Seq)
		entries = append(entries, rec.Entry)
	}
	return entries, nil
}

func (as *AuditStore) Clear(ctx context.Context) error {
	if err := as.s.client.Del(ctx, as.s.key("audit_logs"), as.s.key("log_counter")).Err(); err != nil {
		return fmt.Errorf("clear audit log: %w", err)
	}
	return nil
}
