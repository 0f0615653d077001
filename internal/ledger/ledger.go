// Package ledger defines the shared record store the escrow program runs
// against: content-addressed records, account balances and a journal of
// committed events, mutated only inside atomic transactions.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/bits"
	"time"

	"github.com/fentz26/escrowd/internal/events"
	"github.com/fentz26/escrowd/internal/models"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrExists            = errors.New("record already exists")
	ErrKindMismatch      = errors.New("record kind mismatch")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrBalanceOverflow   = errors.New("balance overflow")
)

// Reader is the read side of the store.
type Reader interface {
	// Get loads the record at addr into rec. It fails with ErrNotFound or,
	// when the stored kind differs from rec's, ErrKindMismatch.
	Get(addr models.Address, rec models.Record) error
	Exists(addr models.Address) (bool, error)
	Balance(addr models.Address) (uint64, error)
	// Scan calls fn for every record of kind, in address order.
	Scan(kind models.Kind, fn func(addr models.Address, decode func(models.Record) error) error) error
}

// Tx is one atomic unit of work. Nothing it writes is visible to others
// until the surrounding Update returns without error.
type Tx interface {
	Reader
	// Now is the transaction clock, read once when the transaction began.
	Now() time.Time
	// Create stores rec at a fresh address, failing with ErrExists.
	Create(addr models.Address, rec models.Record) error
	// Put overwrites an existing record, failing with ErrNotFound.
	Put(addr models.Address, rec models.Record) error
	// Close deletes the record at addr and moves its whole balance to
	// beneficiary in one step. It returns the amount moved.
	Close(addr, beneficiary models.Address) (uint64, error)
	Transfer(from, to models.Address, amount uint64) error
	// Emit appends a sealed envelope to the journal on commit.
	Emit(env events.Envelope)
}

// Ledger runs transactions against the store.
type Ledger interface {
	// Update runs fn atomically and returns the envelopes it committed,
	// with sequence numbers assigned.
	Update(ctx context.Context, fn func(Tx) error) ([]events.Envelope, error)
	View(ctx context.Context, fn func(Reader) error) error
	History(ctx context.Context, q events.Query) ([]events.Envelope, error)
	// Mint credits account from outside the program (devnet faucet).
	Mint(ctx context.Context, account models.Address, amount uint64) error
}

// Encode serializes a record for storage.
func Encode(rec models.Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", rec.RecordKind(), err)
	}
	return data, nil
}

// Decode deserializes stored data into rec after checking the kind.
func Decode(stored models.Kind, data []byte, rec models.Record) error {
	if stored != rec.RecordKind() {
		return fmt.Errorf("%w: stored %s, want %s", ErrKindMismatch, stored, rec.RecordKind())
	}
	if err := json.Unmarshal(data, rec); err != nil {
		return fmt.Errorf("decode %s: %w", stored, err)
	}
	return nil
}

// Credit adds amount to balance, failing on overflow.
func Credit(balance, amount uint64) (uint64, error) {
	sum, carry := bits.Add64(balance, amount, 0)
	if carry != 0 {
		return 0, ErrBalanceOverflow
	}
	return sum, nil
}

// Debit subtracts amount from balance, failing when funds are short.
func Debit(balance, amount uint64) (uint64, error) {
	if amount > balance {
		return 0, fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, balance, amount)
	}
	return balance - amount, nil
}
