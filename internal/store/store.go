// Package store provides the SQLite-backed ledger for the escrow daemon.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fentz26/escrowd/internal/events"
	"github.com/fentz26/escrowd/internal/ledger"
	"github.com/fentz26/escrowd/internal/models"
	_ "modernc.org/sqlite"
)

// Store is a ledger.Ledger persisted in a SQLite database. Every Update is
// one SQL transaction; SQLite's single writer serializes them.
type Store struct {
	db    *sql.DB
	clock ledger.Clock
}

var _ ledger.Ledger = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock sets the transaction clock.
func WithClock(c ledger.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// New creates a new Store and runs migrations.
func New(dbPath string, opts ...Option) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, clock: ledger.SystemClock{}}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		address TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		data BLOB NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS balances (
		account TEXT PRIMARY KEY,
		amount TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		subject TEXT NOT NULL,
		at INTEGER NOT NULL,
		payload BLOB NOT NULL,
		digest TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_kind ON records(kind);
	CREATE INDEX IF NOT EXISTS idx_events_name ON events(name);
	CREATE INDEX IF NOT EXISTS idx_events_subject ON events(subject);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Update runs fn in a single SQL transaction. Events emitted by fn are
// written to the journal in the same transaction.
func (s *Store) Update(ctx context.Context, fn func(ledger.Tx) error) ([]events.Envelope, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	tx := &txn{ctx: ctx, tx: sqlTx, now: s.clock.Now()}
	if err := fn(tx); err != nil {
		return nil, err
	}

	for i := range tx.emitted {
		env := &tx.emitted[i]
		res, err := sqlTx.ExecContext(ctx,
			`INSERT INTO events (id, name, subject, at, payload, digest) VALUES (?, ?, ?, ?, ?, ?)`,
			env.ID, env.Name, env.Subject.String(), env.At, []byte(env.Payload), env.Digest,
		)
		if err != nil {
			return nil, fmt.Errorf("insert event: %w", err)
		}
		if env.Seq, err = res.LastInsertId(); err != nil {
			return nil, fmt.Errorf("event seq: %w", err)
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return tx.emitted, nil
}

// View runs fn in a transaction that is always rolled back.
func (s *Store) View(ctx context.Context, fn func(ledger.Reader) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	return fn(&txn{ctx: ctx, tx: sqlTx, now: s.clock.Now()})
}

// History returns committed events in sequence order.
func (s *Store) History(ctx context.Context, q events.Query) ([]events.Envelope, error) {
	query := `SELECT seq, id, name, subject, at, payload, digest FROM events WHERE seq > ?`
	args := []interface{}{q.AfterSeq}

	if q.Name != "" {
		query += ` AND name = ?`
		args = append(args, q.Name)
	}
	if !q.Subject.IsZero() {
		query += ` AND subject = ?`
		args = append(args, q.Subject.String())
	}
	query += ` ORDER BY seq ASC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []events.Envelope
	for rows.Next() {
		var env events.Envelope
		var subject string
		var payload []byte
		if err := rows.Scan(&env.Seq, &env.ID, &env.Name, &subject, &env.At, &payload, &env.Digest); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if env.Subject, err = models.ParseAddress(subject); err != nil {
			return nil, err
		}
		env.Payload = payload
		out = append(out, env)
	}
	return out, rows.Err()
}

// Mint credits account outside any program operation.
func (s *Store) Mint(ctx context.Context, account models.Address, amount uint64) error {
	_, err := s.Update(ctx, func(tx ledger.Tx) error {
		t := tx.(*txn)
		balance, err := t.Balance(account)
		if err != nil {
			return err
		}
		credited, err := ledger.Credit(balance, amount)
		if err != nil {
			return err
		}
		return t.setBalance(account, credited)
	})
	return err
}

// txn implements ledger.Tx over a *sql.Tx.
type txn struct {
	ctx     context.Context
	tx      *sql.Tx
	now     time.Time
	emitted []events.Envelope
}

func (t *txn) Now() time.Time { return t.now }

func (t *txn) Get(addr models.Address, rec models.Record) error {
	var kind string
	var data []byte
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT kind, data FROM records WHERE address = ?`, addr.String(),
	).Scan(&kind, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", ledger.ErrNotFound, rec.RecordKind(), addr)
	}
	if err != nil {
		return fmt.Errorf("query record: %w", err)
	}
	return ledger.Decode(models.Kind(kind), data, rec)
}

func (t *txn) Exists(addr models.Address) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT COUNT(1) FROM records WHERE address = ?`, addr.String(),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query record: %w", err)
	}
	return n > 0, nil
}

func (t *txn) Balance(addr models.Address) (uint64, error) {
	var amount string
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT amount FROM balances WHERE account = ?`, addr.String(),
	).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query balance: %w", err)
	}
	v, err := strconv.ParseUint(amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse balance of %s: %w", addr, err)
	}
	return v, nil
}

func (t *txn) Scan(kind models.Kind, fn func(models.Address, func(models.Record) error) error) error {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT address, data FROM records WHERE kind = ? ORDER BY address`, string(kind),
	)
	if err != nil {
		return fmt.Errorf("query records: %w", err)
	}

	type row struct {
		addr models.Address
		data []byte
	}
	var all []row
	for rows.Next() {
		var addr string
		var r row
		if err := rows.Scan(&addr, &r.data); err != nil {
			rows.Close()
			return fmt.Errorf("scan record: %w", err)
		}
		if r.addr, err = models.ParseAddress(addr); err != nil {
			rows.Close()
			return err
		}
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	// Rows are drained before calling fn: the single connection cannot
	// serve nested queries while a result set is open.
	for _, r := range all {
		data := r.data
		decode := func(rec models.Record) error { return ledger.Decode(kind, data, rec) }
		if err := fn(r.addr, decode); err != nil {
			return err
		}
	}
	return nil
}

func (t *txn) Create(addr models.Address, rec models.Record) error {
	exists, err := t.Exists(addr)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s %s", ledger.ErrExists, rec.RecordKind(), addr)
	}
	data, err := ledger.Encode(rec)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(t.ctx,
		`INSERT INTO records (address, kind, data, updated_at) VALUES (?, ?, ?, ?)`,
		addr.String(), string(rec.RecordKind()), data, t.now,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (t *txn) Put(addr models.Address, rec models.Record) error {
	data, err := ledger.Encode(rec)
	if err != nil {
		return err
	}
	result, err := t.tx.ExecContext(t.ctx,
		`UPDATE records SET data = ?, updated_at = ? WHERE address = ? AND kind = ?`,
		data, t.now, addr.String(), string(rec.RecordKind()),
	)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s %s", ledger.ErrNotFound, rec.RecordKind(), addr)
	}
	return nil
}

func (t *txn) Close(addr, beneficiary models.Address) (uint64, error) {
	if beneficiary == addr {
		return 0, fmt.Errorf("close %s: beneficiary is the closed account", addr)
	}
	result, err := t.tx.ExecContext(t.ctx, `DELETE FROM records WHERE address = ?`, addr.String())
	if err != nil {
		return 0, fmt.Errorf("delete record: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return 0, fmt.Errorf("%w: %s", ledger.ErrNotFound, addr)
	}

	residual, err := t.Balance(addr)
	if err != nil {
		return 0, err
	}
	if err := t.Transfer(addr, beneficiary, residual); err != nil {
		return 0, err
	}
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM balances WHERE account = ?`, addr.String()); err != nil {
		return 0, fmt.Errorf("delete balance: %w", err)
	}
	return residual, nil
}

func (t *txn) Transfer(from, to models.Address, amount uint64) error {
	if amount == 0 || from == to {
		return nil
	}
	fromBalance, err := t.Balance(from)
	if err != nil {
		return err
	}
	toBalance, err := t.Balance(to)
	if err != nil {
		return err
	}
	debited, err := ledger.Debit(fromBalance, amount)
	if err != nil {
		return fmt.Errorf("transfer from %s: %w", from, err)
	}
	credited, err := ledger.Credit(toBalance, amount)
	if err != nil {
		return fmt.Errorf("transfer to %s: %w", to, err)
	}
	if err := t.setBalance(from, debited); err != nil {
		return err
	}
	return t.setBalance(to, credited)
}

func (t *txn) setBalance(account models.Address, amount uint64) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO balances (account, amount) VALUES (?, ?)
		 ON CONFLICT(account) DO UPDATE SET amount = excluded.amount`,
		account.String(), strconv.FormatUint(amount, 10),
	)
	if err != nil {
		return fmt.Errorf("write balance: %w", err)
	}
	return nil
}

func (t *txn) Emit(env events.Envelope) {
	t.emitted = append(t.emitted, env)
}
