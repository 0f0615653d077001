package ledger

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/fentz26/escrowd/internal/events"
	"github.com/fentz26/escrowd/internal/models"
)

type entry struct {
	kind models.Kind
	data []byte
}

// Memory is a map-backed Ledger. Transactions are serialized by a single
// mutex and work on copies of the maps, swapped in on commit.
type Memory struct {
	mu       sync.Mutex
	clock    Clock
	records  map[models.Address]entry
	balances map[models.Address]uint64
	journal  []events.Envelope
}

// NewMemory creates an empty in-memory ledger. A nil clock uses SystemClock.
func NewMemory(clock Clock) *Memory {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Memory{
		clock:    clock,
		records:  make(map[models.Address]entry),
		balances: make(map[models.Address]uint64),
	}
}

func (m *Memory) Update(ctx context.Context, fn func(Tx) error) ([]events.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{
		now:      m.clock.Now(),
		records:  maps.Clone(m.records),
		balances: maps.Clone(m.balances),
	}
	if err := fn(tx); err != nil {
		return nil, err
	}

	next := int64(len(m.journal))
	for i := range tx.emitted {
		next++
		tx.emitted[i].Seq = next
	}
	m.records = tx.records
	m.balances = tx.balances
	m.journal = append(m.journal, tx.emitted...)
	return tx.emitted, nil
}

func (m *Memory) View(ctx context.Context, fn func(Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&memTx{now: m.clock.Now(), records: m.records, balances: m.balances})
}

func (m *Memory) History(ctx context.Context, q events.Query) ([]events.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []events.Envelope
	for _, env := range m.journal {
		if !q.Matches(env) {
			continue
		}
		out = append(out, env)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) Mint(ctx context.Context, account models.Address, amount uint64) error {
	_, err := m.Update(ctx, func(tx Tx) error {
		return tx.(*memTx).credit(account, amount)
	})
	return err
}

type memTx struct {
	now      time.Time
	records  map[models.Address]entry
	balances map[models.Address]uint64
	emitted  []events.Envelope
}

func (tx *memTx) Now() time.Time { return tx.now }

func (tx *memTx) Get(addr models.Address, rec models.Record) error {
	e, ok := tx.records[addr]
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrNotFound, rec.RecordKind(), addr)
	}
	return Decode(e.kind, e.data, rec)
}

func (tx *memTx) Exists(addr models.Address) (bool, error) {
	_, ok := tx.records[addr]
	return ok, nil
}

func (tx *memTx) Balance(addr models.Address) (uint64, error) {
	return tx.balances[addr], nil
}

func (tx *memTx) Scan(kind models.Kind, fn func(models.Address, func(models.Record) error) error) error {
	var addrs []models.Address
	for addr, e := range tx.records {
		if e.kind == kind {
			addrs = append(addrs, addr)
		}
	}
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })

	for _, addr := range addrs {
		e := tx.records[addr]
		decode := func(rec models.Record) error { return Decode(e.kind, e.data, rec) }
		if err := fn(addr, decode); err != nil {
			return err
		}
	}
	return nil
}

func (tx *memTx) Create(addr models.Address, rec models.Record) error {
	if _, ok := tx.records[addr]; ok {
		return fmt.Errorf("%w: %s %s", ErrExists, rec.RecordKind(), addr)
	}
	return tx.store(addr, rec)
}

func (tx *memTx) Put(addr models.Address, rec models.Record) error {
	e, ok := tx.records[addr]
	if !ok {
		return fmt.Errorf("%w: %s %s", ErrNotFound, rec.RecordKind(), addr)
	}
	if e.kind != rec.RecordKind() {
		return fmt.Errorf("%w: stored %s, want %s", ErrKindMismatch, e.kind, rec.RecordKind())
	}
	return tx.store(addr, rec)
}

func (tx *memTx) store(addr models.Address, rec models.Record) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}
	tx.records[addr] = entry{kind: rec.RecordKind(), data: data}
	return nil
}

func (tx *memTx) Close(addr, beneficiary models.Address) (uint64, error) {
	if _, ok := tx.records[addr]; !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	if beneficiary == addr {
		return 0, fmt.Errorf("close %s: beneficiary is the closed account", addr)
	}
	residual := tx.balances[addr]
	if err := tx.Transfer(addr, beneficiary, residual); err != nil {
		return 0, err
	}
	delete(tx.records, addr)
	delete(tx.balances, addr)
	return residual, nil
}

func (tx *memTx) Transfer(from, to models.Address, amount uint64) error {
	if amount == 0 || from == to {
		return nil
	}
	debited, err := Debit(tx.balances[from], amount)
	if err != nil {
		return fmt.Errorf("transfer from %s: %w", from, err)
	}
	credited, err := Credit(tx.balances[to], amount)
	if err != nil {
		return fmt.Errorf("transfer to %s: %w", to, err)
	}
	tx.balances[from] = debited
	tx.balances[to] = credited
	return nil
}

func (tx *memTx) credit(account models.Address, amount uint64) error {
	credited, err := Credit(tx.balances[account], amount)
	if err != nil {
		return err
	}
	tx.balances[account] = credited
	return nil
}

func (tx *memTx) Emit(env events.Envelope) {
	tx.emitted = append(tx.emitted, env)
}
