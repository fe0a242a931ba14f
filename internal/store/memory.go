package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/RiseNet-Web/gestasso-sub000/internal/deduction"
	"github.com/RiseNet-Web/gestasso-sub000/internal/event"
	"github.com/RiseNet-Web/gestasso-sub000/internal/ledger"
)

type accountKey struct {
	memberID string
	teamID   string
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Entities live in maps keyed by ID; relations (account → transactions,
// event → participants) are separate tables. A unit of work holds the write
// lock for its whole life and undoes its writes on rollback, so units of
// work are fully serialised. Do not call Reader methods from a goroutine
// that holds an open Tx: they wait for the same lock. Begin waits for the
// writer slot and gives up when its context is done.
type MemoryStore struct {
	writer chan struct{} // one slot; held by the open unit of work
	mu     sync.RWMutex

	events       map[string]*event.Event
	participants map[string][]event.Participant // eventID → registration order

	accounts     map[string]*ledger.Account // accountID → account
	accountIndex map[accountKey]string
	transactions map[string][]ledger.Transaction // accountID → log

	treasuries   map[string]*ledger.Treasury         // clubID → treasury
	clubTxs      map[string][]ledger.ClubTransaction // clubID → log
	eventTxCount map[string]int

	rules map[string]*deduction.Rule
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		writer:       make(chan struct{}, 1),
		events:       make(map[string]*event.Event),
		participants: make(map[string][]event.Participant),
		accounts:     make(map[string]*ledger.Account),
		accountIndex: make(map[accountKey]string),
		transactions: make(map[string][]ledger.Transaction),
		treasuries:   make(map[string]*ledger.Treasury),
		clubTxs:      make(map[string][]ledger.ClubTransaction),
		eventTxCount: make(map[string]int),
		rules:        make(map[string]*deduction.Rule),
	}
}

// --- Reader ---

func (s *MemoryStore) GetEvent(_ context.Context, id string) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.event(id)
}

func (s *MemoryStore) ListParticipants(_ context.Context, eventID string) ([]event.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.participantsOf(eventID), nil
}

func (s *MemoryStore) GetAccount(_ context.Context, memberID, teamID string) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account(memberID, teamID)
}

func (s *MemoryStore) ListMemberAccounts(_ context.Context, memberID string) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []ledger.Account
	for _, a := range s.accounts {
		if a.MemberID == memberID {
			result = append(result, *a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TeamID < result[j].TeamID })
	return result, nil
}

func (s *MemoryStore) ListAccountTransactions(_ context.Context, accountID string) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ledger.Transaction(nil), s.transactions[accountID]...), nil
}

func (s *MemoryStore) ListEventTransactions(_ context.Context, eventID string) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.events[eventID]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", eventID, ErrNotFound)
	}
	var result []ledger.Transaction
	for _, p := range s.participants[eventID] {
		id, ok := s.accountIndex[accountKey{p.MemberID, e.TeamID}]
		if !ok {
			continue
		}
		for _, t := range s.transactions[id] {
			if t.EventID == eventID {
				result = append(result, t)
			}
		}
	}
	return result, nil
}

func (s *MemoryStore) GetTreasury(_ context.Context, clubID string) (*ledger.Treasury, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.treasury(clubID)
}

func (s *MemoryStore) ListClubTransactions(_ context.Context, clubID string) ([]ledger.ClubTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ledger.ClubTransaction(nil), s.clubTxs[clubID]...), nil
}

func (s *MemoryStore) GetDeductionRule(_ context.Context, id string) (*deduction.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rule(id)
}

// Begin takes the write lock until Commit or Rollback.
func (s *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case s.writer <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.Lock()
	return &memoryTx{s: s}, nil
}

// --- Lock-free helpers; callers hold s.mu ---

func (s *MemoryStore) event(id string) (*event.Event, error) {
	e, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	copy := *e
	return &copy, nil
}

func (s *MemoryStore) participantsOf(eventID string) []event.Participant {
	return append([]event.Participant(nil), s.participants[eventID]...)
}

func (s *MemoryStore) account(memberID, teamID string) (*ledger.Account, error) {
	id, ok := s.accountIndex[accountKey{memberID, teamID}]
	if !ok {
		return nil, fmt.Errorf("account %s/%s: %w", memberID, teamID, ErrNotFound)
	}
	copy := *s.accounts[id]
	return &copy, nil
}

func (s *MemoryStore) treasury(clubID string) (*ledger.Treasury, error) {
	t, ok := s.treasuries[clubID]
	if !ok {
		return nil, fmt.Errorf("treasury %s: %w", clubID, ErrNotFound)
	}
	copy := *t
	return &copy, nil
}

func (s *MemoryStore) rule(id string) (*deduction.Rule, error) {
	r, ok := s.rules[id]
	if !ok {
		return nil, fmt.Errorf("deduction rule %s: %w", id, ErrNotFound)
	}
	copy := *r
	return &copy, nil
}

// memoryTx records an undo step for every write.
type memoryTx struct {
	s    *MemoryStore
	undo []func()
	done bool
}

func (t *memoryTx) Commit(_ context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	t.undo = nil
	t.s.release()
	return nil
}

func (t *memoryTx) Rollback(_ context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.s.release()
	return nil
}

func (s *MemoryStore) release() {
	s.mu.Unlock()
	<-s.writer
}

func (t *memoryTx) check(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}
	return ctx.Err()
}

// --- Events ---

func (t *memoryTx) CreateEvent(ctx context.Context, e *event.Event) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	if _, ok := t.s.events[e.ID]; ok {
		return fmt.Errorf("event %s: %w", e.ID, ErrConflict)
	}
	copy := *e
	t.s.events[e.ID] = &copy
	t.undo = append(t.undo, func() { delete(t.s.events, e.ID) })
	return nil
}

func (t *memoryTx) LockEvent(ctx context.Context, id string) (*event.Event, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	return t.s.event(id)
}

func (t *memoryTx) UpdateEvent(ctx context.Context, e *event.Event, expectedVersion int64) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	prev, ok := t.s.events[e.ID]
	if !ok {
		return fmt.Errorf("event %s: %w", e.ID, ErrNotFound)
	}
	if prev.Version != expectedVersion {
		return fmt.Errorf("event %s version %d, expected %d: %w", e.ID, prev.Version, expectedVersion, ErrConflict)
	}
	copy := *e
	t.s.events[e.ID] = &copy
	t.undo = append(t.undo, func() { t.s.events[e.ID] = prev })
	return nil
}

func (t *memoryTx) ListParticipants(ctx context.Context, eventID string) ([]event.Participant, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	return t.s.participantsOf(eventID), nil
}

func (t *memoryTx) InsertParticipant(ctx context.Context, p *event.Participant) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	existing := t.s.participants[p.EventID]
	for _, other := range existing {
		if other.MemberID == p.MemberID {
			return fmt.Errorf("participant %s/%s: %w", p.EventID, p.MemberID, ErrConflict)
		}
	}
	n := len(existing)
	t.s.participants[p.EventID] = append(existing, *p)
	t.undo = append(t.undo, func() { t.s.participants[p.EventID] = t.s.participants[p.EventID][:n] })
	return nil
}

func (t *memoryTx) UpdateParticipant(ctx context.Context, p *event.Participant) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	list := t.s.participants[p.EventID]
	for i := range list {
		if list[i].ID == p.ID {
			prev := list[i]
			list[i] = *p
			t.undo = append(t.undo, func() { t.s.participants[p.EventID][i] = prev })
			return nil
		}
	}
	return fmt.Errorf("participant %s: %w", p.ID, ErrNotFound)
}

func (t *memoryTx) EventHasTransactions(ctx context.Context, eventID string) (bool, error) {
	if err := t.check(ctx); err != nil {
		return false, err
	}
	return t.s.eventTxCount[eventID] > 0, nil
}

// --- Member accounts ---

func (t *memoryTx) LockAccount(ctx context.Context, memberID, teamID string) (*ledger.Account, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	return t.s.account(memberID, teamID)
}

func (t *memoryTx) InsertAccount(ctx context.Context, a *ledger.Account) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	key := accountKey{a.MemberID, a.TeamID}
	if _, ok := t.s.accountIndex[key]; ok {
		return nil
	}
	copy := *a
	t.s.accounts[a.ID] = &copy
	t.s.accountIndex[key] = a.ID
	t.undo = append(t.undo, func() {
		delete(t.s.accounts, a.ID)
		delete(t.s.accountIndex, key)
	})
	return nil
}

func (t *memoryTx) UpdateAccount(ctx context.Context, a *ledger.Account) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	prev, ok := t.s.accounts[a.ID]
	if !ok {
		return fmt.Errorf("account %s: %w", a.ID, ErrNotFound)
	}
	copy := *a
	t.s.accounts[a.ID] = &copy
	t.undo = append(t.undo, func() { t.s.accounts[a.ID] = prev })
	return nil
}

func (t *memoryTx) InsertTransaction(ctx context.Context, tx *ledger.Transaction) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	if _, ok := t.s.accounts[tx.AccountID]; !ok {
		return fmt.Errorf("account %s: %w", tx.AccountID, ErrNotFound)
	}
	n := len(t.s.transactions[tx.AccountID])
	t.s.transactions[tx.AccountID] = append(t.s.transactions[tx.AccountID], *tx)
	t.countEventTx(tx.EventID)
	t.undo = append(t.undo, func() {
		t.s.transactions[tx.AccountID] = t.s.transactions[tx.AccountID][:n]
	})
	return nil
}

func (t *memoryTx) ListAccountTransactions(ctx context.Context, accountID string) ([]ledger.Transaction, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	return append([]ledger.Transaction(nil), t.s.transactions[accountID]...), nil
}

// --- Treasury ---

func (t *memoryTx) LockTreasury(ctx context.Context, clubID string) (*ledger.Treasury, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	return t.s.treasury(clubID)
}

func (t *memoryTx) InsertTreasury(ctx context.Context, tr *ledger.Treasury) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	if _, ok := t.s.treasuries[tr.ClubID]; ok {
		return nil
	}
	copy := *tr
	t.s.treasuries[tr.ClubID] = &copy
	t.undo = append(t.undo, func() { delete(t.s.treasuries, tr.ClubID) })
	return nil
}

func (t *memoryTx) UpdateTreasury(ctx context.Context, tr *ledger.Treasury) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	prev, ok := t.s.treasuries[tr.ClubID]
	if !ok || prev.ID != tr.ID {
		return fmt.Errorf("treasury %s: %w", tr.ID, ErrNotFound)
	}
	copy := *tr
	t.s.treasuries[tr.ClubID] = &copy
	t.undo = append(t.undo, func() { t.s.treasuries[tr.ClubID] = prev })
	return nil
}

func (t *memoryTx) InsertClubTransaction(ctx context.Context, tx *ledger.ClubTransaction) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	n := len(t.s.clubTxs[tx.ClubID])
	t.s.clubTxs[tx.ClubID] = append(t.s.clubTxs[tx.ClubID], *tx)
	t.countEventTx(tx.EventID)
	t.undo = append(t.undo, func() { t.s.clubTxs[tx.ClubID] = t.s.clubTxs[tx.ClubID][:n] })
	return nil
}

func (t *memoryTx) ListClubTransactions(ctx context.Context, clubID string) ([]ledger.ClubTransaction, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	return append([]ledger.ClubTransaction(nil), t.s.clubTxs[clubID]...), nil
}

func (t *memoryTx) countEventTx(eventID string) {
	if eventID == "" {
		return
	}
	t.s.eventTxCount[eventID]++
	t.undo = append(t.undo, func() { t.s.eventTxCount[eventID]-- })
}

// --- Deduction rules ---

func (t *memoryTx) CreateDeductionRule(ctx context.Context, r *deduction.Rule) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	if _, ok := t.s.rules[r.ID]; ok {
		return fmt.Errorf("deduction rule %s: %w", r.ID, ErrConflict)
	}
	copy := *r
	t.s.rules[r.ID] = &copy
	t.undo = append(t.undo, func() { delete(t.s.rules, r.ID) })
	return nil
}

func (t *memoryTx) GetDeductionRule(ctx context.Context, id string) (*deduction.Rule, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	return t.s.rule(id)
}
