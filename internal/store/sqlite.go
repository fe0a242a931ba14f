package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/RiseNet-Web/gestasso-sub000/internal/deduction"
	"github.com/RiseNet-Web/gestasso-sub000/internal/event"
	"github.com/RiseNet-Web/gestasso-sub000/internal/ledger"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

// SQLiteStore implements Store on an embedded SQLite database, for
// single-node deployments without PostgreSQL.
//
// Every unit of work starts with BEGIN IMMEDIATE, which takes the database
// write lock up front; the Lock* methods are therefore plain reads.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
// ":memory:" opens a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	memory := path == ":memory:"
	if !memory {
		path = filepath.Clean(path)
	}
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	if !memory {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if memory {
		// Each connection to :memory: is its own database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func sqliteErr(what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_UNIQUE, sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%s: %w", what, ErrConflict)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

// --- Time columns ---

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func fmtOptTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(column, s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("column %s: %w", column, err)
	}
	return t, nil
}

func parseOptTime(column string, s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(column, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// --- Reader ---

func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (*event.Event, error) {
	return sqliteGetEvent(ctx, s.db, id)
}

func (s *SQLiteStore) ListParticipants(ctx context.Context, eventID string) ([]event.Participant, error) {
	return sqliteListParticipants(ctx, s.db, eventID)
}

func (s *SQLiteStore) GetAccount(ctx context.Context, memberID, teamID string) (*ledger.Account, error) {
	return sqliteGetAccount(ctx, s.db, memberID, teamID)
}

func (s *SQLiteStore) ListMemberAccounts(ctx context.Context, memberID string) ([]ledger.Account, error) {
	rows, err := s.db.QueryContext(ctx, sqliteAccountSelect+` WHERE member_id = ? ORDER BY team_id`, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		a, err := scanSQLiteAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func (s *SQLiteStore) ListAccountTransactions(ctx context.Context, accountID string) ([]ledger.Transaction, error) {
	return sqliteListTransactions(ctx, s.db, `WHERE account_id = ? ORDER BY sequence`, accountID)
}

func (s *SQLiteStore) ListEventTransactions(ctx context.Context, eventID string) ([]ledger.Transaction, error) {
	return sqliteListTransactions(ctx, s.db, `WHERE event_id = ? ORDER BY created_at, account_id, sequence`, eventID)
}

func (s *SQLiteStore) GetTreasury(ctx context.Context, clubID string) (*ledger.Treasury, error) {
	return sqliteGetTreasury(ctx, s.db, clubID)
}

func (s *SQLiteStore) ListClubTransactions(ctx context.Context, clubID string) ([]ledger.ClubTransaction, error) {
	return sqliteListClubTransactions(ctx, s.db, clubID)
}

func (s *SQLiteStore) GetDeductionRule(ctx context.Context, id string) (*deduction.Rule, error) {
	return sqliteGetRule(ctx, s.db, id)
}

func (s *SQLiteStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx}, nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Commit(context.Context) error {
	if err := t.tx.Commit(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return ErrTxDone
		}
		return err
	}
	return nil
}

func (t *sqliteTx) Rollback(context.Context) error {
	if err := t.tx.Rollback(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return ErrTxDone
		}
		return err
	}
	return nil
}

// --- Events ---

func sqliteGetEvent(ctx context.Context, q sqlQuerier, id string) (*event.Event, error) {
	var e event.Event
	var budget, pct, created, updated string
	var distributed sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT id, club_id, team_id, name, total_budget, club_percentage,
		        status, version, distributed_at, created_at, updated_at
		 FROM events WHERE id = ?`, id).
		Scan(&e.ID, &e.ClubID, &e.TeamID, &e.Name, &budget, &pct,
			&e.Status, &e.Version, &distributed, &created, &updated)
	if err != nil {
		return nil, sqliteErr("get event "+id, err)
	}
	if e.TotalBudget, err = parseAmount("total_budget", budget); err != nil {
		return nil, err
	}
	if e.ClubPercentage, err = parseDecimal("club_percentage", pct); err != nil {
		return nil, err
	}
	if e.DistributedAt, err = parseOptTime("distributed_at", distributed); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = parseTime("created_at", created); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime("updated_at", updated); err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *sqliteTx) CreateEvent(ctx context.Context, e *event.Event) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO events (id, club_id, team_id, name, total_budget, club_percentage,
		                     status, version, distributed_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ClubID, e.TeamID, e.Name, e.TotalBudget.String(), e.ClubPercentage.String(),
		string(e.Status), e.Version, fmtOptTime(e.DistributedAt), fmtTime(e.CreatedAt), fmtTime(e.UpdatedAt),
	)
	if err != nil {
		return sqliteErr("create event", err)
	}
	return nil
}

func (t *sqliteTx) LockEvent(ctx context.Context, id string) (*event.Event, error) {
	return sqliteGetEvent(ctx, t.tx, id)
}

func (t *sqliteTx) UpdateEvent(ctx context.Context, e *event.Event, expectedVersion int64) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE events
		 SET name = ?, total_budget = ?, club_percentage = ?, status = ?, version = ?,
		     distributed_at = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		e.Name, e.TotalBudget.String(), e.ClubPercentage.String(), string(e.Status), e.Version,
		fmtOptTime(e.DistributedAt), fmtTime(e.UpdatedAt), e.ID, expectedVersion,
	)
	if err != nil {
		return sqliteErr("update event", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("event %s at version %d: %w", e.ID, expectedVersion, ErrConflict)
	}
	return nil
}

func sqliteListParticipants(ctx context.Context, q sqlQuerier, eventID string) ([]event.Participant, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, event_id, member_id, position, amount_earned, registered_at
		 FROM event_participants WHERE event_id = ? ORDER BY position`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []event.Participant
	for rows.Next() {
		var p event.Participant
		var earned, registered string
		if err := rows.Scan(&p.ID, &p.EventID, &p.MemberID, &p.Position, &earned, &registered); err != nil {
			return nil, err
		}
		if p.AmountEarned, err = parseAmount("amount_earned", earned); err != nil {
			return nil, err
		}
		if p.RegisteredAt, err = parseTime("registered_at", registered); err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

func (t *sqliteTx) ListParticipants(ctx context.Context, eventID string) ([]event.Participant, error) {
	return sqliteListParticipants(ctx, t.tx, eventID)
}

func (t *sqliteTx) InsertParticipant(ctx context.Context, p *event.Participant) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO event_participants (id, event_id, member_id, position, amount_earned, registered_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.EventID, p.MemberID, p.Position, p.AmountEarned.String(), fmtTime(p.RegisteredAt),
	)
	if err != nil {
		return sqliteErr("insert participant", err)
	}
	return nil
}

func (t *sqliteTx) UpdateParticipant(ctx context.Context, p *event.Participant) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE event_participants SET amount_earned = ? WHERE id = ?`,
		p.AmountEarned.String(), p.ID,
	)
	if err != nil {
		return sqliteErr("update participant", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("participant %s: %w", p.ID, ErrNotFound)
	}
	return nil
}

func (t *sqliteTx) EventHasTransactions(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM account_transactions WHERE event_id = ?)
		     OR EXISTS (SELECT 1 FROM club_transactions WHERE event_id = ?)`, eventID, eventID).
		Scan(&exists)
	return exists, err
}

// --- Member accounts ---

const sqliteAccountSelect = `SELECT id, member_id, team_id, current_amount, total_earned,
	        version, closed_at, created_at, updated_at
	 FROM accounts`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteAccount(row rowScanner) (*ledger.Account, error) {
	var a ledger.Account
	var current, earned, created, updated string
	var closed sql.NullString
	if err := row.Scan(&a.ID, &a.MemberID, &a.TeamID, &current, &earned,
		&a.Version, &closed, &created, &updated); err != nil {
		return nil, err
	}
	var err error
	if a.CurrentAmount, err = parseAmount("current_amount", current); err != nil {
		return nil, err
	}
	if a.TotalEarned, err = parseAmount("total_earned", earned); err != nil {
		return nil, err
	}
	if a.ClosedAt, err = parseOptTime("closed_at", closed); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTime("created_at", created); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime("updated_at", updated); err != nil {
		return nil, err
	}
	return &a, nil
}

func sqliteGetAccount(ctx context.Context, q sqlQuerier, memberID, teamID string) (*ledger.Account, error) {
	a, err := scanSQLiteAccount(q.QueryRowContext(ctx,
		sqliteAccountSelect+` WHERE member_id = ? AND team_id = ?`, memberID, teamID))
	if err != nil {
		return nil, sqliteErr(fmt.Sprintf("get account %s/%s", memberID, teamID), err)
	}
	return a, nil
}

func (t *sqliteTx) LockAccount(ctx context.Context, memberID, teamID string) (*ledger.Account, error) {
	return sqliteGetAccount(ctx, t.tx, memberID, teamID)
}

func (t *sqliteTx) InsertAccount(ctx context.Context, a *ledger.Account) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO accounts (id, member_id, team_id, current_amount, total_earned, version, closed_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (member_id, team_id) DO NOTHING`,
		a.ID, a.MemberID, a.TeamID, a.CurrentAmount.String(), a.TotalEarned.String(),
		a.Version, fmtOptTime(a.ClosedAt), fmtTime(a.CreatedAt), fmtTime(a.UpdatedAt),
	)
	if err != nil {
		return sqliteErr("insert account", err)
	}
	return nil
}

func (t *sqliteTx) UpdateAccount(ctx context.Context, a *ledger.Account) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE accounts
		 SET current_amount = ?, total_earned = ?, version = ?, closed_at = ?, updated_at = ?
		 WHERE id = ?`,
		a.CurrentAmount.String(), a.TotalEarned.String(), a.Version, fmtOptTime(a.ClosedAt), fmtTime(a.UpdatedAt), a.ID,
	)
	if err != nil {
		return sqliteErr("update account", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("account %s: %w", a.ID, ErrNotFound)
	}
	return nil
}

func (t *sqliteTx) InsertTransaction(ctx context.Context, tx *ledger.Transaction) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO account_transactions (id, account_id, sequence, amount, kind, direction, event_id, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.AccountID, tx.Sequence, tx.Amount.String(), string(tx.Kind), string(tx.Direction),
		nullIfEmpty(tx.EventID), tx.Description, fmtTime(tx.CreatedAt),
	)
	if err != nil {
		return sqliteErr("insert transaction", err)
	}
	return nil
}

func sqliteListTransactions(ctx context.Context, q sqlQuerier, where string, arg any) ([]ledger.Transaction, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, account_id, sequence, amount, kind, direction,
		        COALESCE(event_id, ''), description, created_at
		 FROM account_transactions `+where, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		var t ledger.Transaction
		var amount, created string
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Sequence, &amount, &t.Kind, &t.Direction,
			&t.EventID, &t.Description, &created); err != nil {
			return nil, err
		}
		if t.Amount, err = parseAmount("amount", amount); err != nil {
			return nil, err
		}
		if t.CreatedAt, err = parseTime("created_at", created); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (t *sqliteTx) ListAccountTransactions(ctx context.Context, accountID string) ([]ledger.Transaction, error) {
	return sqliteListTransactions(ctx, t.tx, `WHERE account_id = ? ORDER BY sequence`, accountID)
}

// --- Treasury ---

func sqliteGetTreasury(ctx context.Context, q sqlQuerier, clubID string) (*ledger.Treasury, error) {
	var t ledger.Treasury
	var commission, balance, created, updated string
	err := q.QueryRowContext(ctx,
		`SELECT id, club_id, total_commission, current_balance, version, created_at, updated_at
		 FROM treasuries WHERE club_id = ?`, clubID).
		Scan(&t.ID, &t.ClubID, &commission, &balance, &t.Version, &created, &updated)
	if err != nil {
		return nil, sqliteErr("get treasury "+clubID, err)
	}
	if t.TotalCommission, err = parseAmount("total_commission", commission); err != nil {
		return nil, err
	}
	if t.CurrentBalance, err = parseAmount("current_balance", balance); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime("created_at", created); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime("updated_at", updated); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *sqliteTx) LockTreasury(ctx context.Context, clubID string) (*ledger.Treasury, error) {
	return sqliteGetTreasury(ctx, t.tx, clubID)
}

func (t *sqliteTx) InsertTreasury(ctx context.Context, tr *ledger.Treasury) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO treasuries (id, club_id, total_commission, current_balance, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (club_id) DO NOTHING`,
		tr.ID, tr.ClubID, tr.TotalCommission.String(), tr.CurrentBalance.String(),
		tr.Version, fmtTime(tr.CreatedAt), fmtTime(tr.UpdatedAt),
	)
	if err != nil {
		return sqliteErr("insert treasury", err)
	}
	return nil
}

func (t *sqliteTx) UpdateTreasury(ctx context.Context, tr *ledger.Treasury) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE treasuries SET total_commission = ?, current_balance = ?, version = ?, updated_at = ?
		 WHERE id = ?`,
		tr.TotalCommission.String(), tr.CurrentBalance.String(), tr.Version, fmtTime(tr.UpdatedAt), tr.ID,
	)
	if err != nil {
		return sqliteErr("update treasury", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("treasury %s: %w", tr.ID, ErrNotFound)
	}
	return nil
}

func (t *sqliteTx) InsertClubTransaction(ctx context.Context, tx *ledger.ClubTransaction) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO club_transactions (id, treasury_id, club_id, sequence, amount, kind, direction, event_id, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.TreasuryID, tx.ClubID, tx.Sequence, tx.Amount.String(), string(tx.Kind), string(tx.Direction),
		nullIfEmpty(tx.EventID), tx.Description, fmtTime(tx.CreatedAt),
	)
	if err != nil {
		return sqliteErr("insert club transaction", err)
	}
	return nil
}

func sqliteListClubTransactions(ctx context.Context, q sqlQuerier, clubID string) ([]ledger.ClubTransaction, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, treasury_id, club_id, sequence, amount, kind, direction,
		        COALESCE(event_id, ''), description, created_at
		 FROM club_transactions WHERE club_id = ? ORDER BY sequence`, clubID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []ledger.ClubTransaction
	for rows.Next() {
		var t ledger.ClubTransaction
		var amount, created string
		if err := rows.Scan(&t.ID, &t.TreasuryID, &t.ClubID, &t.Sequence, &amount, &t.Kind, &t.Direction,
			&t.EventID, &t.Description, &created); err != nil {
			return nil, err
		}
		if t.Amount, err = parseAmount("amount", amount); err != nil {
			return nil, err
		}
		if t.CreatedAt, err = parseTime("created_at", created); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (t *sqliteTx) ListClubTransactions(ctx context.Context, clubID string) ([]ledger.ClubTransaction, error) {
	return sqliteListClubTransactions(ctx, t.tx, clubID)
}

// --- Deduction rules ---

func sqliteGetRule(ctx context.Context, q sqlQuerier, id string) (*deduction.Rule, error) {
	var r deduction.Rule
	var value, created string
	var minAmount, maxAmount, validFrom, validUntil sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT id, club_id, name, kind, mode, value, min_amount, max_amount,
		        valid_from, valid_until, active, created_at
		 FROM deduction_rules WHERE id = ?`, id).
		Scan(&r.ID, &r.ClubID, &r.Name, &r.Kind, &r.Mode, &value, &minAmount, &maxAmount,
			&validFrom, &validUntil, &r.Active, &created)
	if err != nil {
		return nil, sqliteErr("get deduction rule "+id, err)
	}
	if r.Value, err = parseDecimal("value", value); err != nil {
		return nil, err
	}
	if r.MinAmount, err = parseOptAmount("min_amount", nullString(minAmount)); err != nil {
		return nil, err
	}
	if r.MaxAmount, err = parseOptAmount("max_amount", nullString(maxAmount)); err != nil {
		return nil, err
	}
	if r.ValidFrom, err = parseOptTime("valid_from", validFrom); err != nil {
		return nil, err
	}
	if r.ValidUntil, err = parseOptTime("valid_until", validUntil); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = parseTime("created_at", created); err != nil {
		return nil, err
	}
	return &r, nil
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func (t *sqliteTx) CreateDeductionRule(ctx context.Context, r *deduction.Rule) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO deduction_rules (id, club_id, name, kind, mode, value, min_amount, max_amount,
		                              valid_from, valid_until, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ClubID, r.Name, string(r.Kind), string(r.Mode), r.Value.String(),
		optAmount(r.MinAmount), optAmount(r.MaxAmount),
		fmtOptTime(r.ValidFrom), fmtOptTime(r.ValidUntil), r.Active, fmtTime(r.CreatedAt),
	)
	if err != nil {
		return sqliteErr("create deduction rule", err)
	}
	return nil
}

func (t *sqliteTx) GetDeductionRule(ctx context.Context, id string) (*deduction.Rule, error) {
	return sqliteGetRule(ctx, t.tx, id)
}
