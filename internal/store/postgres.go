package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/RiseNet-Web/gestasso-sub000/internal/deduction"
	"github.com/RiseNet-Web/gestasso-sub000/internal/event"
	"github.com/RiseNet-Web/gestasso-sub000/internal/ledger"
)

//go:embed schema/postgres.sql
var postgresSchema string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision and
// cross the wire as text.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}

// pgQuerier is satisfied by both the pool and an open pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func pgErr(what string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) && pe.Code == "23505" {
		return fmt.Errorf("%s: %w", what, ErrConflict)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// --- Reader ---

func (s *PostgresStore) GetEvent(ctx context.Context, id string) (*event.Event, error) {
	return pgGetEvent(ctx, s.pool, id, "")
}

func (s *PostgresStore) ListParticipants(ctx context.Context, eventID string) ([]event.Participant, error) {
	return pgListParticipants(ctx, s.pool, eventID)
}

func (s *PostgresStore) GetAccount(ctx context.Context, memberID, teamID string) (*ledger.Account, error) {
	return pgGetAccount(ctx, s.pool, memberID, teamID, "")
}

func (s *PostgresStore) ListMemberAccounts(ctx context.Context, memberID string) ([]ledger.Account, error) {
	rows, err := s.pool.Query(ctx, accountSelect+` WHERE member_id = $1 ORDER BY team_id`, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		a, err := scanPgAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func (s *PostgresStore) ListAccountTransactions(ctx context.Context, accountID string) ([]ledger.Transaction, error) {
	return pgListTransactions(ctx, s.pool, `WHERE account_id = $1 ORDER BY sequence`, accountID)
}

func (s *PostgresStore) ListEventTransactions(ctx context.Context, eventID string) ([]ledger.Transaction, error) {
	return pgListTransactions(ctx, s.pool, `WHERE event_id = $1 ORDER BY created_at, account_id, sequence`, eventID)
}

func (s *PostgresStore) GetTreasury(ctx context.Context, clubID string) (*ledger.Treasury, error) {
	return pgGetTreasury(ctx, s.pool, clubID, "")
}

func (s *PostgresStore) ListClubTransactions(ctx context.Context, clubID string) ([]ledger.ClubTransaction, error) {
	return pgListClubTransactions(ctx, s.pool, clubID)
}

func (s *PostgresStore) GetDeductionRule(ctx context.Context, id string) (*deduction.Rule, error) {
	return pgGetRule(ctx, s.pool, id)
}

// Begin opens a database transaction at READ COMMITTED; row locks taken by
// the Lock* methods serialise the writers.
func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		if errors.Is(err, pgx.ErrTxClosed) {
			return ErrTxDone
		}
		return err
	}
	return nil
}

func (t *pgTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil {
		if errors.Is(err, pgx.ErrTxClosed) {
			return ErrTxDone
		}
		return err
	}
	return nil
}

// --- Events ---

const eventSelect = `SELECT id, club_id, team_id, name, total_budget::TEXT, club_percentage::TEXT,
	        status, version, distributed_at, created_at, updated_at
	 FROM events`

func pgGetEvent(ctx context.Context, q pgQuerier, id, suffix string) (*event.Event, error) {
	var e event.Event
	var budget, pct string
	err := q.QueryRow(ctx, eventSelect+` WHERE id = $1`+suffix, id).
		Scan(&e.ID, &e.ClubID, &e.TeamID, &e.Name, &budget, &pct,
			&e.Status, &e.Version, &e.DistributedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, pgErr("get event "+id, err)
	}
	if e.TotalBudget, err = parseAmount("total_budget", budget); err != nil {
		return nil, err
	}
	if e.ClubPercentage, err = parseDecimal("club_percentage", pct); err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *pgTx) CreateEvent(ctx context.Context, e *event.Event) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO events (id, club_id, team_id, name, total_budget, club_percentage,
		                     status, version, distributed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8, $9, $10, $11)`,
		e.ID, e.ClubID, e.TeamID, e.Name, e.TotalBudget.String(), e.ClubPercentage.String(),
		e.Status, e.Version, e.DistributedAt, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return pgErr("create event", err)
	}
	return nil
}

func (t *pgTx) LockEvent(ctx context.Context, id string) (*event.Event, error) {
	return pgGetEvent(ctx, t.tx, id, ` FOR UPDATE`)
}

func (t *pgTx) UpdateEvent(ctx context.Context, e *event.Event, expectedVersion int64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE events
		 SET name = $2, total_budget = $3::NUMERIC, club_percentage = $4::NUMERIC,
		     status = $5, version = $6, distributed_at = $7, updated_at = $8
		 WHERE id = $1 AND version = $9`,
		e.ID, e.Name, e.TotalBudget.String(), e.ClubPercentage.String(),
		e.Status, e.Version, e.DistributedAt, e.UpdatedAt, expectedVersion,
	)
	if err != nil {
		return pgErr("update event", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event %s at version %d: %w", e.ID, expectedVersion, ErrConflict)
	}
	return nil
}

func pgListParticipants(ctx context.Context, q pgQuerier, eventID string) ([]event.Participant, error) {
	rows, err := q.Query(ctx,
		`SELECT id, event_id, member_id, position, amount_earned::TEXT, registered_at
		 FROM event_participants WHERE event_id = $1 ORDER BY position`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []event.Participant
	for rows.Next() {
		var p event.Participant
		var earned string
		if err := rows.Scan(&p.ID, &p.EventID, &p.MemberID, &p.Position, &earned, &p.RegisteredAt); err != nil {
			return nil, err
		}
		if p.AmountEarned, err = parseAmount("amount_earned", earned); err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

func (t *pgTx) ListParticipants(ctx context.Context, eventID string) ([]event.Participant, error) {
	return pgListParticipants(ctx, t.tx, eventID)
}

func (t *pgTx) InsertParticipant(ctx context.Context, p *event.Participant) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO event_participants (id, event_id, member_id, position, amount_earned, registered_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6)`,
		p.ID, p.EventID, p.MemberID, p.Position, p.AmountEarned.String(), p.RegisteredAt,
	)
	if err != nil {
		return pgErr("insert participant", err)
	}
	return nil
}

func (t *pgTx) UpdateParticipant(ctx context.Context, p *event.Participant) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE event_participants SET amount_earned = $2::NUMERIC WHERE id = $1`,
		p.ID, p.AmountEarned.String(),
	)
	if err != nil {
		return pgErr("update participant", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("participant %s: %w", p.ID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) EventHasTransactions(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM account_transactions WHERE event_id = $1)
		     OR EXISTS (SELECT 1 FROM club_transactions WHERE event_id = $1)`, eventID).
		Scan(&exists)
	return exists, err
}

// --- Member accounts ---

const accountSelect = `SELECT id, member_id, team_id, current_amount::TEXT, total_earned::TEXT,
	        version, closed_at, created_at, updated_at
	 FROM accounts`

func scanPgAccount(row pgx.Row) (*ledger.Account, error) {
	var a ledger.Account
	var current, earned string
	if err := row.Scan(&a.ID, &a.MemberID, &a.TeamID, &current, &earned,
		&a.Version, &a.ClosedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if a.CurrentAmount, err = parseAmount("current_amount", current); err != nil {
		return nil, err
	}
	if a.TotalEarned, err = parseAmount("total_earned", earned); err != nil {
		return nil, err
	}
	return &a, nil
}

func pgGetAccount(ctx context.Context, q pgQuerier, memberID, teamID, suffix string) (*ledger.Account, error) {
	a, err := scanPgAccount(q.QueryRow(ctx, accountSelect+` WHERE member_id = $1 AND team_id = $2`+suffix, memberID, teamID))
	if err != nil {
		return nil, pgErr(fmt.Sprintf("get account %s/%s", memberID, teamID), err)
	}
	return a, nil
}

func (t *pgTx) LockAccount(ctx context.Context, memberID, teamID string) (*ledger.Account, error) {
	return pgGetAccount(ctx, t.tx, memberID, teamID, ` FOR UPDATE`)
}

func (t *pgTx) InsertAccount(ctx context.Context, a *ledger.Account) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO accounts (id, member_id, team_id, current_amount, total_earned, version, closed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7, $8, $9)
		 ON CONFLICT (member_id, team_id) DO NOTHING`,
		a.ID, a.MemberID, a.TeamID, a.CurrentAmount.String(), a.TotalEarned.String(),
		a.Version, a.ClosedAt, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return pgErr("insert account", err)
	}
	return nil
}

func (t *pgTx) UpdateAccount(ctx context.Context, a *ledger.Account) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE accounts
		 SET current_amount = $2::NUMERIC, total_earned = $3::NUMERIC,
		     version = $4, closed_at = $5, updated_at = $6
		 WHERE id = $1`,
		a.ID, a.CurrentAmount.String(), a.TotalEarned.String(), a.Version, a.ClosedAt, a.UpdatedAt,
	)
	if err != nil {
		return pgErr("update account", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", a.ID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, tx *ledger.Transaction) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO account_transactions (id, account_id, sequence, amount, kind, direction, event_id, description, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, NULLIF($7, ''), $8, $9)`,
		tx.ID, tx.AccountID, tx.Sequence, tx.Amount.String(), tx.Kind, tx.Direction,
		tx.EventID, tx.Description, tx.CreatedAt,
	)
	if err != nil {
		return pgErr("insert transaction", err)
	}
	return nil
}

func pgListTransactions(ctx context.Context, q pgQuerier, where string, arg any) ([]ledger.Transaction, error) {
	rows, err := q.Query(ctx,
		`SELECT id, account_id, sequence, amount::TEXT, kind, direction,
		        COALESCE(event_id, ''), description, created_at
		 FROM account_transactions `+where, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		var t ledger.Transaction
		var amount string
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Sequence, &amount, &t.Kind, &t.Direction,
			&t.EventID, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		if t.Amount, err = parseAmount("amount", amount); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (t *pgTx) ListAccountTransactions(ctx context.Context, accountID string) ([]ledger.Transaction, error) {
	return pgListTransactions(ctx, t.tx, `WHERE account_id = $1 ORDER BY sequence`, accountID)
}

// --- Treasury ---

func pgGetTreasury(ctx context.Context, q pgQuerier, clubID, suffix string) (*ledger.Treasury, error) {
	var t ledger.Treasury
	var commission, balance string
	err := q.QueryRow(ctx,
		`SELECT id, club_id, total_commission::TEXT, current_balance::TEXT, version, created_at, updated_at
		 FROM treasuries WHERE club_id = $1`+suffix, clubID).
		Scan(&t.ID, &t.ClubID, &commission, &balance, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, pgErr("get treasury "+clubID, err)
	}
	if t.TotalCommission, err = parseAmount("total_commission", commission); err != nil {
		return nil, err
	}
	if t.CurrentBalance, err = parseAmount("current_balance", balance); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *pgTx) LockTreasury(ctx context.Context, clubID string) (*ledger.Treasury, error) {
	return pgGetTreasury(ctx, t.tx, clubID, ` FOR UPDATE`)
}

func (t *pgTx) InsertTreasury(ctx context.Context, tr *ledger.Treasury) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO treasuries (id, club_id, total_commission, current_balance, version, created_at, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6, $7)
		 ON CONFLICT (club_id) DO NOTHING`,
		tr.ID, tr.ClubID, tr.TotalCommission.String(), tr.CurrentBalance.String(),
		tr.Version, tr.CreatedAt, tr.UpdatedAt,
	)
	if err != nil {
		return pgErr("insert treasury", err)
	}
	return nil
}

func (t *pgTx) UpdateTreasury(ctx context.Context, tr *ledger.Treasury) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE treasuries
		 SET total_commission = $2::NUMERIC, current_balance = $3::NUMERIC, version = $4, updated_at = $5
		 WHERE id = $1`,
		tr.ID, tr.TotalCommission.String(), tr.CurrentBalance.String(), tr.Version, tr.UpdatedAt,
	)
	if err != nil {
		return pgErr("update treasury", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("treasury %s: %w", tr.ID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) InsertClubTransaction(ctx context.Context, tx *ledger.ClubTransaction) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO club_transactions (id, treasury_id, club_id, sequence, amount, kind, direction, event_id, description, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, NULLIF($8, ''), $9, $10)`,
		tx.ID, tx.TreasuryID, tx.ClubID, tx.Sequence, tx.Amount.String(), tx.Kind, tx.Direction,
		tx.EventID, tx.Description, tx.CreatedAt,
	)
	if err != nil {
		return pgErr("insert club transaction", err)
	}
	return nil
}

func pgListClubTransactions(ctx context.Context, q pgQuerier, clubID string) ([]ledger.ClubTransaction, error) {
	rows, err := q.Query(ctx,
		`SELECT id, treasury_id, club_id, sequence, amount::TEXT, kind, direction,
		        COALESCE(event_id, ''), description, created_at
		 FROM club_transactions WHERE club_id = $1 ORDER BY sequence`, clubID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []ledger.ClubTransaction
	for rows.Next() {
		var t ledger.ClubTransaction
		var amount string
		if err := rows.Scan(&t.ID, &t.TreasuryID, &t.ClubID, &t.Sequence, &amount, &t.Kind, &t.Direction,
			&t.EventID, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		if t.Amount, err = parseAmount("amount", amount); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (t *pgTx) ListClubTransactions(ctx context.Context, clubID string) ([]ledger.ClubTransaction, error) {
	return pgListClubTransactions(ctx, t.tx, clubID)
}

// --- Deduction rules ---

func pgGetRule(ctx context.Context, q pgQuerier, id string) (*deduction.Rule, error) {
	var r deduction.Rule
	var value string
	var minAmount, maxAmount *string
	var validFrom, validUntil *time.Time
	err := q.QueryRow(ctx,
		`SELECT id, club_id, name, kind, mode, value::TEXT, min_amount::TEXT, max_amount::TEXT,
		        valid_from, valid_until, active, created_at
		 FROM deduction_rules WHERE id = $1`, id).
		Scan(&r.ID, &r.ClubID, &r.Name, &r.Kind, &r.Mode, &value, &minAmount, &maxAmount,
			&validFrom, &validUntil, &r.Active, &r.CreatedAt)
	if err != nil {
		return nil, pgErr("get deduction rule "+id, err)
	}
	if r.Value, err = parseDecimal("value", value); err != nil {
		return nil, err
	}
	if r.MinAmount, err = parseOptAmount("min_amount", minAmount); err != nil {
		return nil, err
	}
	if r.MaxAmount, err = parseOptAmount("max_amount", maxAmount); err != nil {
		return nil, err
	}
	r.ValidFrom, r.ValidUntil = validFrom, validUntil
	return &r, nil
}

func (t *pgTx) CreateDeductionRule(ctx context.Context, r *deduction.Rule) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO deduction_rules (id, club_id, name, kind, mode, value, min_amount, max_amount,
		                              valid_from, valid_until, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10, $11, $12)`,
		r.ID, r.ClubID, r.Name, r.Kind, r.Mode, r.Value.String(), optAmount(r.MinAmount), optAmount(r.MaxAmount),
		r.ValidFrom, r.ValidUntil, r.Active, r.CreatedAt,
	)
	if err != nil {
		return pgErr("create deduction rule", err)
	}
	return nil
}

func (t *pgTx) GetDeductionRule(ctx context.Context, id string) (*deduction.Rule, error) {
	return pgGetRule(ctx, t.tx, id)
}
