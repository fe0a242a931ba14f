package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RiseNet-Web/gestasso-sub000/internal/deduction"
	"github.com/RiseNet-Web/gestasso-sub000/internal/event"
	"github.com/RiseNet-Web/gestasso-sub000/internal/ledger"
	"github.com/RiseNet-Web/gestasso-sub000/internal/money"
)

var now = time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := OpenSQLite(context.Background(), ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

// The PostgreSQL and Redis suites need live servers and are skipped unless
// TEST_DATABASE_URL / TEST_REDIS_URL are set. Each run uses fresh UUIDs, so
// the database does not need to be empty.
func TestPostgresStore(t *testing.T) {
	pg := postgresForTest(t)
	runStoreSuite(t, func(t *testing.T) Store { return pg })
}

func TestCachedStore(t *testing.T) {
	rdb := redisForTest(t)
	runStoreSuite(t, func(t *testing.T) Store {
		return NewCachedStore(NewMemoryStore(), rdb, time.Minute)
	})
}

func TestCachedStore_FillRacingCommit(t *testing.T) {
	rdb := redisForTest(t)
	s := NewCachedStore(NewMemoryStore(), rdb, time.Minute)
	ctx := context.Background()
	key := treasuryKey("club-" + uuid.NewString())

	// A commit lands while the old row is being loaded.
	var got ledger.Treasury
	err := s.readThrough(ctx, key, &got, func() (any, error) {
		s.invalidate(ctx, []string{key})
		return &ledger.Treasury{ClubID: "old"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "old", got.ClubID)

	n, err := rdb.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "stale row must not be cached")

	err = s.readThrough(ctx, key, &got, func() (any, error) {
		return &ledger.Treasury{ClubID: "new"}, nil
	})
	require.NoError(t, err)
	n, err = rdb.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	err = s.readThrough(ctx, key, &got, func() (any, error) {
		return nil, errors.New("primary must not be read on a hit")
	})
	require.NoError(t, err)
	assert.Equal(t, "new", got.ClubID)
}

func TestMemoryStore_BeginHonoursContext(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = s.Begin(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, tx.Rollback(ctx))
	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
}

func redisForTest(t *testing.T) *redis.Client {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func postgresForTest(t *testing.T) *PostgresStore {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := NewPostgresStore(pool)
	require.NoError(t, s.Migrate(ctx))
	return s
}

func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("event round trip", func(t *testing.T) { testEventRoundTrip(t, newStore(t)) })
	t.Run("version conflict", func(t *testing.T) { testVersionConflict(t, newStore(t)) })
	t.Run("participants", func(t *testing.T) { testParticipants(t, newStore(t)) })
	t.Run("account and log", func(t *testing.T) { testAccountAndLog(t, newStore(t)) })
	t.Run("rollback discards writes", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("treasury", func(t *testing.T) { testTreasury(t, newStore(t)) })
	t.Run("deduction rule", func(t *testing.T) { testDeductionRule(t, newStore(t)) })
	t.Run("fractional percentages", func(t *testing.T) { testFractionalPercentages(t, newStore(t)) })
	t.Run("finished tx", func(t *testing.T) { testFinishedTx(t, newStore(t)) })
}

func newTestEvent(t *testing.T) *event.Event {
	t.Helper()
	e, err := event.New("club-"+uuid.NewString(), "team-1", "Tournament", money.MustParse("999.99"), decimal.RequireFromString("12.5"), now)
	require.NoError(t, err)
	return e
}

func testEventRoundTrip(t *testing.T, s Store) {
	ctx := context.Background()
	e := newTestEvent(t)
	require.NoError(t, RunInTx(ctx, s, func(tx Tx) error { return tx.CreateEvent(ctx, e) }))

	got, err := s.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "999.99", got.TotalBudget.String())
	assert.True(t, got.ClubPercentage.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, event.StatusDraft, got.Status)
	assert.Nil(t, got.DistributedAt)
	assert.True(t, got.CreatedAt.Equal(now))

	_, err = s.GetEvent(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func testVersionConflict(t *testing.T, s Store) {
	ctx := context.Background()
	e := newTestEvent(t)
	require.NoError(t, RunInTx(ctx, s, func(tx Tx) error { return tx.CreateEvent(ctx, e) }))

	err := RunInTx(ctx, s, func(tx Tx) error {
		locked, err := tx.LockEvent(ctx, e.ID)
		if err != nil {
			return err
		}
		stale := locked.Version + 5
		require.NoError(t, locked.Activate(now))
		return tx.UpdateEvent(ctx, locked, stale)
	})
	assert.ErrorIs(t, err, ErrConflict)

	err = RunInTx(ctx, s, func(tx Tx) error {
		locked, err := tx.LockEvent(ctx, e.ID)
		if err != nil {
			return err
		}
		prev := locked.Version
		if err := locked.Activate(now); err != nil {
			return err
		}
		return tx.UpdateEvent(ctx, locked, prev)
	})
	require.NoError(t, err)

	got, err := s.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, event.StatusActive, got.Status)
	assert.Equal(t, int64(1), got.Version)
}

func testParticipants(t *testing.T, s Store) {
	ctx := context.Background()
	e := newTestEvent(t)
	err := RunInTx(ctx, s, func(tx Tx) error {
		if err := tx.CreateEvent(ctx, e); err != nil {
			return err
		}
		var existing []event.Participant
		for _, m := range []string{"m-3", "m-1", "m-2"} {
			p, err := e.Register(m, existing, now)
			if err != nil {
				return err
			}
			if err := tx.InsertParticipant(ctx, p); err != nil {
				return err
			}
			existing = append(existing, *p)
		}
		return nil
	})
	require.NoError(t, err)

	ps, err := s.ListParticipants(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, ps, 3)
	assert.Equal(t, []string{"m-3", "m-1", "m-2"}, []string{ps[0].MemberID, ps[1].MemberID, ps[2].MemberID})

	dup := ps[0]
	dup.ID = "dup"
	err = RunInTx(ctx, s, func(tx Tx) error { return tx.InsertParticipant(ctx, &dup) })
	assert.ErrorIs(t, err, ErrConflict)

	err = RunInTx(ctx, s, func(tx Tx) error {
		p := ps[1]
		p.AmountEarned = money.MustParse("125.00")
		return tx.UpdateParticipant(ctx, &p)
	})
	require.NoError(t, err)
	ps, err = s.ListParticipants(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "125.00", ps[1].AmountEarned.String())
}

func testAccountAndLog(t *testing.T, s Store) {
	ctx := context.Background()
	member := "member-" + uuid.NewString()

	err := RunInTx(ctx, s, func(tx Tx) error {
		a, err := LockOrCreateAccount(ctx, tx, member, "team-1", now)
		if err != nil {
			return err
		}
		for _, amt := range []string{"100.00", "24.99"} {
			rec, err := a.Credit(money.MustParse(amt), ledger.KindEarning, "evt-1", "event payout", now)
			if err != nil {
				return err
			}
			if err := tx.InsertTransaction(ctx, &rec); err != nil {
				return err
			}
		}
		rec, err := a.Debit(money.MustParse("30.00"), ledger.KindUsage, "", "fee", now)
		if err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, &rec); err != nil {
			return err
		}
		return tx.UpdateAccount(ctx, a)
	})
	require.NoError(t, err)

	a, err := s.GetAccount(ctx, member, "team-1")
	require.NoError(t, err)
	assert.Equal(t, "94.99", a.CurrentAmount.String())
	assert.Equal(t, "124.99", a.TotalEarned.String())
	assert.Equal(t, int64(3), a.Version)

	txs, err := s.ListAccountTransactions(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{txs[0].Sequence, txs[1].Sequence, txs[2].Sequence})
	assert.Equal(t, "", txs[2].EventID)
	assert.NoError(t, a.Reconcile(txs))

	accounts, err := s.ListMemberAccounts(ctx, member)
	require.NoError(t, err)
	assert.Len(t, accounts, 1)

	// Opening the same account twice keeps the first one.
	err = RunInTx(ctx, s, func(tx Tx) error {
		again, err := LockOrCreateAccount(ctx, tx, member, "team-1", now)
		if err != nil {
			return err
		}
		assert.Equal(t, a.ID, again.ID)
		return nil
	})
	require.NoError(t, err)
}

func testRollback(t *testing.T, s Store) {
	ctx := context.Background()
	member := "member-" + uuid.NewString()
	boom := errors.New("boom")

	err := RunInTx(ctx, s, func(tx Tx) error {
		a, err := LockOrCreateAccount(ctx, tx, member, "team-1", now)
		if err != nil {
			return err
		}
		rec, err := a.Credit(money.MustParse("50.00"), ledger.KindEarning, "", "payout", now)
		if err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, &rec); err != nil {
			return err
		}
		if err := tx.UpdateAccount(ctx, a); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetAccount(ctx, member, "team-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func testTreasury(t *testing.T, s Store) {
	ctx := context.Background()
	club := "club-" + uuid.NewString()

	err := RunInTx(ctx, s, func(tx Tx) error {
		tr, err := LockOrCreateTreasury(ctx, tx, club, now)
		if err != nil {
			return err
		}
		rec, err := tr.CreditCommission(money.MustParse("125.06"), "evt-9", "event commission", now)
		if err != nil {
			return err
		}
		if err := tx.InsertClubTransaction(ctx, &rec); err != nil {
			return err
		}
		rec, err = tr.AdjustBalance(money.MustParse("-200.00"), "correction", now)
		if err != nil {
			return err
		}
		if err := tx.InsertClubTransaction(ctx, &rec); err != nil {
			return err
		}
		return tx.UpdateTreasury(ctx, tr)
	})
	require.NoError(t, err)

	tr, err := s.GetTreasury(ctx, club)
	require.NoError(t, err)
	assert.Equal(t, "125.06", tr.TotalCommission.String())
	assert.Equal(t, "-74.94", tr.CurrentBalance.String())

	txs, err := s.ListClubTransactions(ctx, club)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "evt-9", txs[0].EventID)
	assert.NoError(t, tr.Reconcile(txs))

	err = RunInTx(ctx, s, func(tx Tx) error {
		has, err := tx.EventHasTransactions(ctx, "evt-9")
		assert.True(t, has)
		return err
	})
	require.NoError(t, err)
}

func testDeductionRule(t *testing.T, s Store) {
	ctx := context.Background()
	maxAmount := money.MustParse("40.00")
	from := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	r, err := deduction.NewRule(deduction.Rule{
		ClubID:    "club-1",
		Name:      "Cagnotte",
		Kind:      deduction.KindCagnotte,
		Mode:      deduction.ModePercentage,
		Value:     decimal.RequireFromString("50"),
		MaxAmount: &maxAmount,
		ValidFrom: &from,
		Active:    true,
	}, now)
	require.NoError(t, err)
	require.NoError(t, RunInTx(ctx, s, func(tx Tx) error { return tx.CreateDeductionRule(ctx, r) }))

	got, err := s.GetDeductionRule(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, deduction.KindCagnotte, got.Kind)
	assert.Nil(t, got.MinAmount)
	require.NotNil(t, got.MaxAmount)
	assert.Equal(t, "40.00", got.MaxAmount.String())
	require.NotNil(t, got.ValidFrom)
	assert.True(t, got.ValidFrom.Equal(from))
	assert.Nil(t, got.ValidUntil)
	assert.True(t, got.Active)
}

// Percentages and amounts must come back exactly as written on every back
// end, or the same event pays out differently depending on storage.
func testFractionalPercentages(t *testing.T, s Store) {
	ctx := context.Background()
	e, err := event.New("club-"+uuid.NewString(), "team-1", "Gala", money.MustParse("1000.00"), decimal.RequireFromString("12.345"), now)
	require.NoError(t, err)
	require.NoError(t, RunInTx(ctx, s, func(tx Tx) error { return tx.CreateEvent(ctx, e) }))

	got, err := s.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "12.345", got.ClubPercentage.String())
	assert.Equal(t, "123.45", got.TotalBudget.MulPercent(got.ClubPercentage).String())

	err = RunInTx(ctx, s, func(tx Tx) error {
		locked, err := tx.LockEvent(ctx, e.ID)
		if err != nil {
			return err
		}
		prev := locked.Version
		if err := locked.SetBudget(money.MustParse("1000000000000.00"), decimal.RequireFromString("0.125"), now); err != nil {
			return err
		}
		return tx.UpdateEvent(ctx, locked, prev)
	})
	require.NoError(t, err)

	got, err = s.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "1000000000000.00", got.TotalBudget.String())
	assert.Equal(t, "0.125", got.ClubPercentage.String())

	r, err := deduction.NewRule(deduction.Rule{
		ClubID: "club-1",
		Name:   "Early bird",
		Kind:   deduction.KindEarlyPayment,
		Mode:   deduction.ModePercentage,
		Value:  decimal.RequireFromString("7.125"),
		Active: true,
	}, now)
	require.NoError(t, err)
	require.NoError(t, RunInTx(ctx, s, func(tx Tx) error { return tx.CreateDeductionRule(ctx, r) }))

	rule, err := s.GetDeductionRule(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "7.125", rule.Value.String())
}

func testFinishedTx(t *testing.T, s Store) {
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	assert.ErrorIs(t, tx.Rollback(ctx), ErrTxDone)
}
