// Package memory is an in-process store with the same locking and
// all-or-nothing semantics as the Postgres one. Writes are staged on the
// transaction and applied on commit.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Iacob98/cometa-warehouse/internal/domain/allocations"
	"github.com/Iacob98/cometa-warehouse/internal/domain/moves"
	"github.com/Iacob98/cometa-warehouse/internal/domain/stock"
	"github.com/Iacob98/cometa-warehouse/internal/store"
)

var errNotLocked = errors.New("memory: material is not locked by this transaction")

type Store struct {
	mu     sync.RWMutex
	stocks map[uuid.UUID]stock.Stock
	allocs map[uuid.UUID]allocations.Allocation
	moves  []moves.Move

	locksMu sync.Mutex
	locks   map[uuid.UUID]chan struct{}
}

func New() *Store {
	return &Store{
		stocks: make(map[uuid.UUID]stock.Stock),
		allocs: make(map[uuid.UUID]allocations.Allocation),
		locks:  make(map[uuid.UUID]chan struct{}),
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) lockFor(materialID uuid.UUID) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	ch, ok := s.locks[materialID]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[materialID] = ch
	}
	return ch
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &tx{
		s:      s,
		held:   make(map[uuid.UUID]chan struct{}),
		stocks: make(map[uuid.UUID]stock.Stock),
		allocs: make(map[uuid.UUID]*allocations.Allocation),
	}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	// a cancelled caller never sees a half-applied write
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *Store) GetStock(_ context.Context, materialID uuid.UUID) (*stock.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stocks[materialID]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (s *Store) ListStock(_ context.Context) ([]stock.Stock, error) {
	s.mu.RLock()
	out := make([]stock.Stock, 0, len(s.stocks))
	for _, st := range s.stocks {
		out = append(out, st)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].MaterialID.String() < out[j].MaterialID.String()
	})
	return out, nil
}

func (s *Store) GetAllocation(_ context.Context, id uuid.UUID) (*allocations.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.allocs[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s *Store) ListAllocations(_ context.Context, f store.AllocationFilter) ([]allocations.Allocation, error) {
	s.mu.RLock()
	out := make([]allocations.Allocation, 0)
	for _, a := range s.allocs {
		if matchAllocation(a, f) {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *Store) ListMoves(_ context.Context, f moves.Filter) ([]moves.Move, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]moves.Move, 0)
	// newest first
	for i := len(s.moves) - 1; i >= 0; i-- {
		m := s.moves[i]
		if f.MaterialID != nil && m.MaterialID != *f.MaterialID {
			continue
		}
		if f.AllocationID != nil && (m.AllocationID == nil || *m.AllocationID != *f.AllocationID) {
			continue
		}
		if f.Type != nil && m.Type != *f.Type {
			continue
		}
		out = append(out, m)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func matchAllocation(a allocations.Allocation, f store.AllocationFilter) bool {
	if f.MaterialID != nil && a.MaterialID != *f.MaterialID {
		return false
	}
	if f.ProjectID != nil && (a.ProjectID == nil || *a.ProjectID != *f.ProjectID) {
		return false
	}
	if f.CrewID != nil && (a.CrewID == nil || *a.CrewID != *f.CrewID) {
		return false
	}
	if f.Status != nil && a.Status != *f.Status {
		return false
	}
	return true
}

type tx struct {
	s    *Store
	held map[uuid.UUID]chan struct{}

	stocks map[uuid.UUID]stock.Stock
	// nil marks a deleted allocation
	allocs map[uuid.UUID]*allocations.Allocation
	moves  []moves.Move
}

func (t *tx) lock(ctx context.Context, materialID uuid.UUID) error {
	if _, ok := t.held[materialID]; ok {
		return nil
	}
	ch := t.s.lockFor(materialID)
	select {
	case ch <- struct{}{}:
		t.held[materialID] = ch
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *tx) release() {
	for id, ch := range t.held {
		<-ch
		delete(t.held, id)
	}
}

func (t *tx) commit() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for id, st := range t.stocks {
		t.s.stocks[id] = st
	}
	for id, a := range t.allocs {
		if a == nil {
			delete(t.s.allocs, id)
			continue
		}
		t.s.allocs[id] = *a
	}
	t.s.moves = append(t.s.moves, t.moves...)
}

func (t *tx) LockStock(ctx context.Context, materialID uuid.UUID) (stock.Stock, error) {
	if err := t.lock(ctx, materialID); err != nil {
		return stock.Stock{}, err
	}
	if st, ok := t.stocks[materialID]; ok {
		return st, nil
	}
	t.s.mu.RLock()
	st, ok := t.s.stocks[materialID]
	t.s.mu.RUnlock()
	if !ok {
		st = stock.Empty(materialID)
		t.stocks[materialID] = st
	}
	return st, nil
}

func (t *tx) SaveStock(_ context.Context, st stock.Stock) error {
	if _, ok := t.held[st.MaterialID]; !ok {
		return errNotLocked
	}
	if err := st.Validate(); err != nil {
		return err
	}
	t.stocks[st.MaterialID] = st
	return nil
}

func (t *tx) lookup(id uuid.UUID) (*allocations.Allocation, bool) {
	if a, ok := t.allocs[id]; ok {
		if a == nil {
			return nil, false
		}
		cp := *a
		return &cp, true
	}
	t.s.mu.RLock()
	a, ok := t.s.allocs[id]
	t.s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return &a, true
}

func (t *tx) LockAllocation(ctx context.Context, id uuid.UUID) (*allocations.Allocation, error) {
	a, ok := t.lookup(id)
	if !ok {
		return nil, nil
	}
	if _, err := t.LockStock(ctx, a.MaterialID); err != nil {
		return nil, err
	}
	// re-read under the material lock; another transaction may have changed it
	a, ok = t.lookup(id)
	if !ok {
		return nil, nil
	}
	return a, nil
}

func (t *tx) InsertAllocation(_ context.Context, a *allocations.Allocation) error {
	if _, ok := t.held[a.MaterialID]; !ok {
		return errNotLocked
	}
	if err := a.Validate(); err != nil {
		return err
	}
	if _, exists := t.lookup(a.ID); exists {
		return errors.New("memory: allocation already exists")
	}
	cp := *a
	t.allocs[a.ID] = &cp
	return nil
}

func (t *tx) UpdateAllocation(_ context.Context, a *allocations.Allocation) error {
	if _, ok := t.held[a.MaterialID]; !ok {
		return errNotLocked
	}
	if err := a.Validate(); err != nil {
		return err
	}
	if _, exists := t.lookup(a.ID); !exists {
		return errors.New("memory: allocation does not exist")
	}
	cp := *a
	t.allocs[a.ID] = &cp
	return nil
}

func (t *tx) DeleteAllocation(_ context.Context, id uuid.UUID) error {
	a, exists := t.lookup(id)
	if !exists {
		return nil
	}
	if _, ok := t.held[a.MaterialID]; !ok {
		return errNotLocked
	}
	t.allocs[id] = nil
	return nil
}

func (t *tx) ActiveAllocations(_ context.Context, materialID uuid.UUID) ([]allocations.Allocation, error) {
	seen := make(map[uuid.UUID]struct{})
	out := make([]allocations.Allocation, 0)
	for id, a := range t.allocs {
		seen[id] = struct{}{}
		if a != nil && a.MaterialID == materialID && !a.Status.Terminal() {
			out = append(out, *a)
		}
	}
	t.s.mu.RLock()
	for id, a := range t.s.allocs {
		if _, ok := seen[id]; ok {
			continue
		}
		if a.MaterialID == materialID && !a.Status.Terminal() {
			out = append(out, a)
		}
	}
	t.s.mu.RUnlock()
	return out, nil
}

func (t *tx) AppendMove(_ context.Context, m moves.Move) error {
	if !m.Type.Valid() {
		return errors.New("memory: unknown move type " + string(m.Type))
	}
	t.moves = append(t.moves, m)
	return nil
}

func (t *tx) MoveTotals(_ context.Context, materialID uuid.UUID) (store.MoveTotals, error) {
	tot := store.MoveTotals{Total: decimal.Zero, Reserved: decimal.Zero}
	add := func(m moves.Move) {
		if m.MaterialID != materialID {
			return
		}
		tot.Total = tot.Total.Add(m.TotalDelta)
		tot.Reserved = tot.Reserved.Add(m.ReservedDelta)
		tot.Count++
	}
	t.s.mu.RLock()
	for _, m := range t.s.moves {
		add(m)
	}
	t.s.mu.RUnlock()
	for _, m := range t.moves {
		add(m)
	}
	return tot, nil
}
