package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/RiseNet-Web/gestasso-sub000/internal/deduction"
	"github.com/RiseNet-Web/gestasso-sub000/internal/event"
	"github.com/RiseNet-Web/gestasso-sub000/internal/ledger"
)

// CachedStore wraps a primary Store (PostgreSQL or SQLite) with a Redis
// read-through cache. Writes go to the primary store inside a unit of work;
// the keys they touch are invalidated once the unit of work commits. Reads
// check Redis first then fall back to the primary.
//
// Transaction logs are never cached: reconciliation must see the primary.
//
// Each cached key has a generation counter that commits bump. A fill is
// written only if the generation it read before loading is still current,
// so a load racing with a commit cannot put the old row back.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
	group   singleflight.Group
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetEvent(ctx context.Context, id string) (*event.Event, error) {
	var e event.Event
	err := s.readThrough(ctx, eventKey(id), &e, func() (any, error) {
		return s.primary.GetEvent(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *CachedStore) GetAccount(ctx context.Context, memberID, teamID string) (*ledger.Account, error) {
	var a ledger.Account
	err := s.readThrough(ctx, accountCacheKey(memberID, teamID), &a, func() (any, error) {
		return s.primary.GetAccount(ctx, memberID, teamID)
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *CachedStore) ListMemberAccounts(ctx context.Context, memberID string) ([]ledger.Account, error) {
	var accounts []ledger.Account
	err := s.readThrough(ctx, memberAccountsKey(memberID), &accounts, func() (any, error) {
		return s.primary.ListMemberAccounts(ctx, memberID)
	})
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (s *CachedStore) GetTreasury(ctx context.Context, clubID string) (*ledger.Treasury, error) {
	var t ledger.Treasury
	err := s.readThrough(ctx, treasuryKey(clubID), &t, func() (any, error) {
		return s.primary.GetTreasury(ctx, clubID)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListParticipants(ctx context.Context, eventID string) ([]event.Participant, error) {
	return s.primary.ListParticipants(ctx, eventID)
}

func (s *CachedStore) ListAccountTransactions(ctx context.Context, accountID string) ([]ledger.Transaction, error) {
	return s.primary.ListAccountTransactions(ctx, accountID)
}

func (s *CachedStore) ListEventTransactions(ctx context.Context, eventID string) ([]ledger.Transaction, error) {
	return s.primary.ListEventTransactions(ctx, eventID)
}

func (s *CachedStore) ListClubTransactions(ctx context.Context, clubID string) ([]ledger.ClubTransaction, error) {
	return s.primary.ListClubTransactions(ctx, clubID)
}

func (s *CachedStore) GetDeductionRule(ctx context.Context, id string) (*deduction.Rule, error) {
	return s.primary.GetDeductionRule(ctx, id)
}

// Begin starts a unit of work on the primary store.
func (s *CachedStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.primary.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &cachedTx{Tx: tx, s: s}, nil
}

// cachedTx forwards to the primary unit of work and remembers which keys
// its writes make stale.
type cachedTx struct {
	Tx
	s     *CachedStore
	stale []string
}

func (t *cachedTx) Commit(ctx context.Context) error {
	if err := t.Tx.Commit(ctx); err != nil {
		return err
	}
	t.s.invalidate(ctx, t.stale)
	return nil
}

func (t *cachedTx) UpdateEvent(ctx context.Context, e *event.Event, expectedVersion int64) error {
	if err := t.Tx.UpdateEvent(ctx, e, expectedVersion); err != nil {
		return err
	}
	t.stale = append(t.stale, eventKey(e.ID))
	return nil
}

func (t *cachedTx) InsertAccount(ctx context.Context, a *ledger.Account) error {
	if err := t.Tx.InsertAccount(ctx, a); err != nil {
		return err
	}
	t.stale = append(t.stale, accountCacheKey(a.MemberID, a.TeamID), memberAccountsKey(a.MemberID))
	return nil
}

func (t *cachedTx) UpdateAccount(ctx context.Context, a *ledger.Account) error {
	if err := t.Tx.UpdateAccount(ctx, a); err != nil {
		return err
	}
	t.stale = append(t.stale, accountCacheKey(a.MemberID, a.TeamID), memberAccountsKey(a.MemberID))
	return nil
}

func (t *cachedTx) InsertTreasury(ctx context.Context, tr *ledger.Treasury) error {
	if err := t.Tx.InsertTreasury(ctx, tr); err != nil {
		return err
	}
	t.stale = append(t.stale, treasuryKey(tr.ClubID))
	return nil
}

func (t *cachedTx) UpdateTreasury(ctx context.Context, tr *ledger.Treasury) error {
	if err := t.Tx.UpdateTreasury(ctx, tr); err != nil {
		return err
	}
	t.stale = append(t.stale, treasuryKey(tr.ClubID))
	return nil
}

// --- Cache helpers ---

// errStaleFill marks a fill skipped because a commit invalidated the key
// while it was loading.
var errStaleFill = errors.New("store: cache fill is stale")

// readThrough fills dst from key, or from load on a miss. Concurrent misses
// on the same key share one load.
func (s *CachedStore) readThrough(ctx context.Context, key string, dst any, load func() (any, error)) error {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		if json.Unmarshal(data, dst) == nil {
			return nil
		}
	}

	// Cache miss: read from primary.
	v, err, _ := s.group.Do(key, func() (any, error) {
		gen, genErr := s.generation(ctx, s.rdb, key)
		v, err := load()
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		if genErr != nil {
			slog.Warn("cache fill skipped", "key", key, "err", genErr)
			return data, nil
		}
		if err := s.fill(ctx, key, gen, data); err != nil && !errors.Is(err, errStaleFill) {
			slog.Warn("cache fill failed", "key", key, "err", err)
		}
		return data, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(v.([]byte), dst)
}

// fill stores data under key unless the key's generation moved past gen.
func (s *CachedStore) fill(ctx context.Context, key string, gen int64, data []byte) error {
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := s.generation(ctx, tx, key)
		if err != nil {
			return err
		}
		if cur != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}, generationKey(key))
	if errors.Is(err, redis.TxFailedErr) {
		return errStaleFill
	}
	return err
}

// invalidate bumps the generation of every key and drops the cached values.
func (s *CachedStore) invalidate(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	// Generations must outlive any fill that started before the bump.
	genTTL := 2 * s.ttl
	if genTTL < time.Minute {
		genTTL = time.Minute
	}
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, k := range keys {
			p.Incr(ctx, generationKey(k))
			p.Expire(ctx, generationKey(k), genTTL)
		}
		p.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		// Entries expire after the TTL; a failed delete only delays freshness.
		slog.Warn("cache invalidation failed", "keys", keys, "err", err)
	}
}

// getter is satisfied by both the client and a watched transaction.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *CachedStore) generation(ctx context.Context, c getter, key string) (int64, error) {
	gen, err := c.Get(ctx, generationKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func eventKey(id string) string                  { return fmt.Sprintf("event:%s", id) }
func accountCacheKey(member, team string) string { return fmt.Sprintf("account:%s:%s", member, team) }
func memberAccountsKey(member string) string     { return fmt.Sprintf("accounts:%s", member) }
func treasuryKey(clubID string) string           { return fmt.Sprintf("treasury:%s", clubID) }
func generationKey(key string) string            { return "gen:" + key }
