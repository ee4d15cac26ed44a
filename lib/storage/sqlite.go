/*
 * Triggerr
 * Copyright (C) 2025  Triggerr, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/e3o8o/triggerr-sub002/lib/cache"
	"github.com/e3o8o/triggerr-sub002/lib/escrow"
	"github.com/e3o8o/triggerr-sub002/lib/policy"
	"github.com/e3o8o/triggerr-sub002/lib/quote"
	"github.com/e3o8o/triggerr-sub002/lib/scheduler"
)

// All timestamps are stored as UTC unix nanoseconds, zero for unset.
const schema = `
CREATE TABLE IF NOT EXISTS quote (
	id TEXT PRIMARY KEY,
	quote_number TEXT NOT NULL UNIQUE,
	provider_ref TEXT NOT NULL,
	flight_number TEXT NOT NULL,
	flight_date INTEGER NOT NULL,
	coverage TEXT NOT NULL,
	coverage_amount INTEGER NOT NULL,
	premium INTEGER NOT NULL,
	risk TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	valid_until INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS policy (
	id TEXT PRIMARY KEY,
	policy_number TEXT NOT NULL UNIQUE,
	user_id TEXT,
	anonymous_session_id TEXT,
	flight_number TEXT NOT NULL,
	flight_date INTEGER NOT NULL,
	quote_id TEXT NOT NULL UNIQUE REFERENCES quote(id),
	coverage TEXT NOT NULL,
	coverage_amount INTEGER NOT NULL,
	premium INTEGER NOT NULL,
	delay_threshold_minutes INTEGER NOT NULL,
	escrow_id TEXT,
	beneficiary TEXT NOT NULL,
	status TEXT NOT NULL,
	expires_at INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	CHECK ((user_id IS NULL) != (anonymous_session_id IS NULL))
);
CREATE INDEX IF NOT EXISTS policy_status ON policy(status);
CREATE TABLE IF NOT EXISTS policy_event (
	policy_id TEXT NOT NULL REFERENCES policy(id),
	seq INTEGER NOT NULL,
	type TEXT NOT NULL,
	data TEXT,
	triggered_by TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (policy_id, seq)
);
CREATE TABLE IF NOT EXISTS escrow (
	internal_id TEXT PRIMARY KEY,
	blockchain_id TEXT UNIQUE,
	amount INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	recipient TEXT NOT NULL,
	purpose TEXT NOT NULL,
	status TEXT NOT NULL,
	tx_hash TEXT,
	block_number INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS user_wallets (
	id TEXT PRIMARY KEY,
	user_id TEXT UNIQUE,
	anonymous_session_id TEXT UNIQUE,
	address TEXT NOT NULL UNIQUE,
	public_key TEXT NOT NULL,
	encrypted_private_key TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	CHECK ((user_id IS NULL) != (anonymous_session_id IS NULL))
);
CREATE TABLE IF NOT EXISTS cache_entry (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS cache_tag (
	tag TEXT NOT NULL,
	key TEXT NOT NULL REFERENCES cache_entry(key) ON DELETE CASCADE,
	PRIMARY KEY (tag, key)
);
CREATE TABLE IF NOT EXISTS scheduled_task (
	name TEXT PRIMARY KEY,
	interval_ns INTEGER NOT NULL,
	enabled INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS task_execution (
	id TEXT PRIMARY KEY,
	task_name TEXT NOT NULL REFERENCES scheduled_task(name),
	started_at INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	status TEXT NOT NULL,
	error TEXT
);
CREATE INDEX IF NOT EXISTS task_execution_name ON task_execution(task_name, started_at);
`

// SQLiteConfig configures a SQLite store.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string
	// BusyTimeout bounds waiting on the database lock.
	BusyTimeout time.Duration
	// Clock is optional and can be used to control time in tests. It drives
	// cache expiry only; records carry caller-supplied timestamps.
	Clock clockwork.Clock
}

// CheckAndSetDefaults checks and sets defaults.
func (c *SQLiteConfig) CheckAndSetDefaults() error {
	if c.Path == "" {
		return trace.BadParameter("missing parameter Path")
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = 10 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// NewSQLite opens (creating if needed) the database at cfg.Path and applies
// the schema.
func NewSQLite(cfg SQLiteConfig) (*SQLite, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	dsn := fmt.Sprintf("file:%v?_busy_timeout=%v&_foreign_keys=on&_journal_mode=WAL",
		cfg.Path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	// one connection serialises writers, the append-only event log depends
	// on it
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, trace.Wrap(err)
	}
	return &SQLite{cfg: cfg, db: db}, nil
}

// SQLite is the durable store. It implements the quote, policy, escrow,
// wallet and scheduler store interfaces plus cache.Cache over cache_entry.
type SQLite struct {
	cfg SQLiteConfig
	db  *sql.DB
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	return trace.Wrap(s.db.Close())
}

func (s *SQLite) inTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return trace.NewAggregate(err, rbErr)
		}
		return trace.Wrap(err)
	}
	return trace.Wrap(tx.Commit())
}

// convertError maps driver errors onto trace classifiers.
func convertError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return trace.NotFound("record not found")
	}
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		switch serr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return trace.AlreadyExists("%v", err)
		}
		if serr.Code == sqlite3.ErrConstraint {
			return trace.BadParameter("%v", err)
		}
	}
	return trace.Wrap(err)
}

func encodeTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func decodeTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func nullable(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// CreateQuote persists a new quote.
func (s *SQLite) CreateQuote(ctx context.Context, q *quote.Quote) error {
	risk, err := json.Marshal(q.Risk)
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO quote
		(id, quote_number, provider_ref, flight_number, flight_date, coverage,
		 coverage_amount, premium, risk, status, created_at, valid_until)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.QuoteNumber, q.ProviderRef, q.FlightNumber, encodeTime(q.FlightDate),
		string(q.Coverage), q.CoverageAmount, q.Premium, string(risk), string(q.Status),
		encodeTime(q.CreatedAt), encodeTime(q.ValidUntil))
	return convertError(err)
}

const quoteColumns = `id, quote_number, provider_ref, flight_number, flight_date,
	coverage, coverage_amount, premium, risk, status, created_at, valid_until`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuote(row rowScanner) (*quote.Quote, error) {
	var q quote.Quote
	var flightDate, createdAt, validUntil int64
	var risk, coverage, status string
	err := row.Scan(&q.ID, &q.QuoteNumber, &q.ProviderRef, &q.FlightNumber, &flightDate,
		&coverage, &q.CoverageAmount, &q.Premium, &risk, &status, &createdAt, &validUntil)
	if err != nil {
		return nil, convertError(err)
	}
	if err := json.Unmarshal([]byte(risk), &q.Risk); err != nil {
		return nil, trace.Wrap(err)
	}
	q.Coverage = quote.CoverageType(coverage)
	q.Status = quote.QuoteStatus(status)
	q.FlightDate = decodeTime(flightDate)
	q.CreatedAt = decodeTime(createdAt)
	q.ValidUntil = decodeTime(validUntil)
	return &q, nil
}

// GetQuote fetches a quote by id.
func (s *SQLite) GetQuote(ctx context.Context, id string) (*quote.Quote, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+quoteColumns+` FROM quote WHERE id = ?`, id)
	q, err := scanQuote(row)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("quote %v not found", id)
		}
		return nil, trace.Wrap(err)
	}
	return q, nil
}

// ExpirePendingQuotes marks lapsed PENDING quotes EXPIRED.
func (s *SQLite) ExpirePendingQuotes(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE quote SET status = ? WHERE status = ? AND valid_until < ?`,
		string(quote.QuoteStatusExpired), string(quote.QuoteStatusPending), encodeTime(now))
	if err != nil {
		return 0, convertError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, trace.Wrap(err)
	}
	return int(n), nil
}

// BindQuote atomically marks the quote ACCEPTED and inserts the policy.
func (s *SQLite) BindQuote(ctx context.Context, q *quote.Quote, p *policy.Policy) error {
	if err := p.Check(); err != nil {
		return trace.Wrap(err)
	}
	return s.inTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE quote SET status = ? WHERE id = ? AND status = ?`,
			string(quote.QuoteStatusAccepted), q.ID, string(quote.QuoteStatusPending))
		if err != nil {
			return convertError(err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return trace.Wrap(err)
		}
		if rows == 0 {
			var status string
			err := tx.QueryRowContext(ctx, `SELECT status FROM quote WHERE id = ?`, q.ID).Scan(&status)
			if errors.Is(err, sql.ErrNoRows) {
				return trace.NotFound("quote %v not found", q.ID)
			}
			if err != nil {
				return convertError(err)
			}
			var bound int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM policy WHERE quote_id = ?`, q.ID).Scan(&bound); err != nil {
				return convertError(err)
			}
			if bound > 0 {
				return trace.AlreadyExists("quote %v is already bound to a policy", q.ID)
			}
			return trace.CompareFailed("quote %v is %v, not PENDING", q.ID, status)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO policy
			(id, policy_number, user_id, anonymous_session_id, flight_number, flight_date,
			 quote_id, coverage, coverage_amount, premium, delay_threshold_minutes,
			 escrow_id, beneficiary, status, expires_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.PolicyNumber, nullable(p.Owner.UserID), nullable(p.Owner.AnonymousSessionID),
			p.FlightNumber, encodeTime(p.FlightDate), p.QuoteID, string(p.Coverage),
			p.CoverageAmount, p.Premium, p.DelayThresholdMinutes, nullable(p.EscrowID),
			p.Beneficiary, string(p.Status), encodeTime(p.ExpiresAt), encodeTime(p.CreatedAt))
		return convertError(err)
	})
}

const policyColumns = `id, policy_number, user_id, anonymous_session_id, flight_number,
	flight_date, quote_id, coverage, coverage_amount, premium, delay_threshold_minutes,
	escrow_id, beneficiary, status, expires_at, created_at`

func scanPolicy(row rowScanner) (*policy.Policy, error) {
	var p policy.Policy
	var userID, sessionID, escrowID sql.NullString
	var flightDate, expiresAt, createdAt int64
	var coverage, status string
	err := row.Scan(&p.ID, &p.PolicyNumber, &userID, &sessionID, &p.FlightNumber,
		&flightDate, &p.QuoteID, &coverage, &p.CoverageAmount, &p.Premium,
		&p.DelayThresholdMinutes, &escrowID, &p.Beneficiary, &status, &expiresAt, &createdAt)
	if err != nil {
		return nil, convertError(err)
	}
	p.Owner = policy.Owner{UserID: userID.String, AnonymousSessionID: sessionID.String}
	p.EscrowID = escrowID.String
	p.Coverage = quote.CoverageType(coverage)
	p.Status = policy.PolicyStatus(status)
	p.FlightDate = decodeTime(flightDate)
	p.ExpiresAt = decodeTime(expiresAt)
	p.CreatedAt = decodeTime(createdAt)
	return &p, nil
}

// GetPolicy fetches a policy by id.
func (s *SQLite) GetPolicy(ctx context.Context, id string) (*policy.Policy, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+policyColumns+` FROM policy WHERE id = ?`, id)
	p, err := scanPolicy(row)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("policy %v not found", id)
		}
		return nil, trace.Wrap(err)
	}
	return p, nil
}

// UpdatePolicy replaces an existing policy record.
func (s *SQLite) UpdatePolicy(ctx context.Context, p *policy.Policy) error {
	res, err := s.db.ExecContext(ctx, `UPDATE policy SET
		user_id = ?, anonymous_session_id = ?, delay_threshold_minutes = ?,
		escrow_id = ?, beneficiary = ?, status = ?, expires_at = ?
		WHERE id = ?`,
		nullable(p.Owner.UserID), nullable(p.Owner.AnonymousSessionID),
		p.DelayThresholdMinutes, nullable(p.EscrowID), p.Beneficiary,
		string(p.Status), encodeTime(p.ExpiresAt), p.ID)
	if err != nil {
		return convertError(err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return trace.Wrap(err)
	}
	if rows == 0 {
		return trace.NotFound("policy %v not found", p.ID)
	}
	return nil
}

// ListPoliciesByStatus returns the policies in one state, ordered by id.
func (s *SQLite) ListPoliciesByStatus(ctx context.Context, status policy.PolicyStatus) ([]*policy.Policy, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+policyColumns+` FROM policy WHERE status = ? ORDER BY id`, string(status))
	if err != nil {
		return nil, convertError(err)
	}
	defer rows.Close()
	var out []*policy.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, p)
	}
	return out, trace.Wrap(rows.Err())
}

// AppendEvent appends to the policy's event log. The single-connection pool
// plus the transaction serialise appends, so seq assignment is race-free.
func (s *SQLite) AppendEvent(ctx context.Context, event *policy.Event) error {
	data := []byte("null")
	if event.Data != nil {
		var err error
		data, err = json.Marshal(event.Data)
		if err != nil {
			return trace.Wrap(err)
		}
	}
	return s.inTransaction(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM policy WHERE id = ?`, event.PolicyID).Scan(&exists); err != nil {
			return convertError(err)
		}
		if exists == 0 {
			return trace.NotFound("policy %v not found", event.PolicyID)
		}
		var maxSeq int64
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), 0) FROM policy_event WHERE policy_id = ?`,
			event.PolicyID).Scan(&maxSeq); err != nil {
			return convertError(err)
		}
		event.Seq = maxSeq + 1
		_, err := tx.ExecContext(ctx, `INSERT INTO policy_event
			(policy_id, seq, type, data, triggered_by, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			event.PolicyID, event.Seq, string(event.Type), string(data),
			event.TriggeredBy, encodeTime(event.CreatedAt))
		return convertError(err)
	})
}

// ListEvents returns the policy's event log in append order.
func (s *SQLite) ListEvents(ctx context.Context, policyID string) ([]policy.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT policy_id, seq, type, data, triggered_by, created_at
		FROM policy_event WHERE policy_id = ? ORDER BY seq`, policyID)
	if err != nil {
		return nil, convertError(err)
	}
	defer rows.Close()
	var out []policy.Event
	for rows.Next() {
		var e policy.Event
		var eventType, data string
		var createdAt int64
		if err := rows.Scan(&e.PolicyID, &e.Seq, &eventType, &data, &e.TriggeredBy, &createdAt); err != nil {
			return nil, convertError(err)
		}
		if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
			return nil, trace.Wrap(err)
		}
		e.Type = policy.EventType(eventType)
		e.CreatedAt = decodeTime(createdAt)
		out = append(out, e)
	}
	return out, trace.Wrap(rows.Err())
}

// CreateEscrow persists a new escrow record.
func (s *SQLite) CreateEscrow(ctx context.Context, e *escrow.Escrow) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO escrow
		(internal_id, blockchain_id, amount, expires_at, recipient, purpose,
		 status, tx_hash, block_number, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.InternalID, nullable(e.BlockchainID), e.Amount, encodeTime(e.ExpiresAt),
		e.Recipient, string(e.Purpose), string(e.Status), nullable(e.TxHash),
		e.BlockNumber, encodeTime(e.CreatedAt))
	return convertError(err)
}

// GetEscrow fetches an escrow by internal id.
func (s *SQLite) GetEscrow(ctx context.Context, internalID string) (*escrow.Escrow, error) {
	var e escrow.Escrow
	var blockchainID, txHash sql.NullString
	var expiresAt, createdAt int64
	var purpose, status string
	err := s.db.QueryRowContext(ctx, `SELECT internal_id, blockchain_id, amount, expires_at,
		recipient, purpose, status, tx_hash, block_number, created_at
		FROM escrow WHERE internal_id = ?`, internalID).Scan(
		&e.InternalID, &blockchainID, &e.Amount, &expiresAt, &e.Recipient,
		&purpose, &status, &txHash, &e.BlockNumber, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, trace.NotFound("escrow %v not found", internalID)
	}
	if err != nil {
		return nil, convertError(err)
	}
	e.BlockchainID = blockchainID.String
	e.TxHash = txHash.String
	e.Purpose = escrow.EscrowPurpose(purpose)
	e.Status = escrow.EscrowStatus(status)
	e.ExpiresAt = decodeTime(expiresAt)
	e.CreatedAt = decodeTime(createdAt)
	return &e, nil
}

// UpdateEscrow replaces an existing escrow record.
func (s *SQLite) UpdateEscrow(ctx context.Context, e *escrow.Escrow) error {
	res, err := s.db.ExecContext(ctx, `UPDATE escrow SET
		blockchain_id = ?, status = ?, tx_hash = ?, block_number = ?
		WHERE internal_id = ?`,
		nullable(e.BlockchainID), string(e.Status), nullable(e.TxHash),
		e.BlockNumber, e.InternalID)
	if err != nil {
		return convertError(err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return trace.Wrap(err)
	}
	if rows == 0 {
		return trace.NotFound("escrow %v not found", e.InternalID)
	}
	return nil
}

// CreateWallet persists a new wallet, one per owner.
func (s *SQLite) CreateWallet(ctx context.Context, w *Wallet) error {
	if err := w.Check(); err != nil {
		return trace.Wrap(err)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO user_wallets
		(id, user_id, anonymous_session_id, address, public_key, encrypted_private_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		w.ID, nullable(w.Owner.UserID), nullable(w.Owner.AnonymousSessionID),
		w.Address, w.PublicKey, w.EncryptedPrivateKey, encodeTime(w.CreatedAt))
	return convertError(err)
}

func scanWallet(row rowScanner) (*Wallet, error) {
	var w Wallet
	var userID, sessionID sql.NullString
	var createdAt int64
	err := row.Scan(&w.ID, &userID, &sessionID, &w.Address, &w.PublicKey,
		&w.EncryptedPrivateKey, &createdAt)
	if err != nil {
		return nil, convertError(err)
	}
	w.Owner = policy.Owner{UserID: userID.String, AnonymousSessionID: sessionID.String}
	w.CreatedAt = decodeTime(createdAt)
	return &w, nil
}

const walletColumns = `id, user_id, anonymous_session_id, address, public_key,
	encrypted_private_key, created_at`

// GetWalletByOwner fetches the owner's wallet.
func (s *SQLite) GetWalletByOwner(ctx context.Context, owner policy.Owner) (*Wallet, error) {
	if err := owner.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	var row *sql.Row
	if owner.UserID != "" {
		row = s.db.QueryRowContext(ctx, `SELECT `+walletColumns+` FROM user_wallets WHERE user_id = ?`, owner.UserID)
	} else {
		row = s.db.QueryRowContext(ctx, `SELECT `+walletColumns+` FROM user_wallets WHERE anonymous_session_id = ?`, owner.AnonymousSessionID)
	}
	w, err := scanWallet(row)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("owner has no wallet")
		}
		return nil, trace.Wrap(err)
	}
	return w, nil
}

// GetWalletByAddress fetches a wallet by chain address.
func (s *SQLite) GetWalletByAddress(ctx context.Context, address string) (*Wallet, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+walletColumns+` FROM user_wallets WHERE address = ?`, address)
	w, err := scanWallet(row)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("no wallet with address %v", address)
		}
		return nil, trace.Wrap(err)
	}
	return w, nil
}

// UpsertTask registers or refreshes a task record.
func (s *SQLite) UpsertTask(ctx context.Context, task *scheduler.TaskRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO scheduled_task (name, interval_ns, enabled, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET interval_ns = excluded.interval_ns,
			enabled = excluded.enabled, updated_at = excluded.updated_at`,
		task.Name, int64(task.Interval), task.Enabled, encodeTime(task.UpdatedAt))
	return convertError(err)
}

// RecordExecution appends one execution record.
func (s *SQLite) RecordExecution(ctx context.Context, execution *scheduler.Execution) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO task_execution
		(id, task_name, started_at, finished_at, status, error)
		VALUES (?, ?, ?, ?, ?, ?)`,
		execution.ID, execution.TaskName, encodeTime(execution.StartedAt),
		encodeTime(execution.FinishedAt), string(execution.Status), nullable(execution.Error))
	return convertError(err)
}

// ListExecutions returns the most recent executions of a task, newest first.
func (s *SQLite) ListExecutions(ctx context.Context, taskName string, limit int) ([]scheduler.Execution, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, task_name, started_at, finished_at, status, error
		FROM task_execution WHERE task_name = ? ORDER BY started_at DESC LIMIT ?`, taskName, limit)
	if err != nil {
		return nil, convertError(err)
	}
	defer rows.Close()
	var out []scheduler.Execution
	for rows.Next() {
		var e scheduler.Execution
		var status string
		var errMsg sql.NullString
		var startedAt, finishedAt int64
		if err := rows.Scan(&e.ID, &e.TaskName, &startedAt, &finishedAt, &status, &errMsg); err != nil {
			return nil, convertError(err)
		}
		e.Status = scheduler.ExecutionStatus(status)
		e.Error = errMsg.String
		e.StartedAt = decodeTime(startedAt)
		e.FinishedAt = decodeTime(finishedAt)
		out = append(out, e)
	}
	return out, trace.Wrap(rows.Err())
}

// Get returns the cached value for key as json.RawMessage, or NotFound on
// miss or expiry. Part of the cache.Cache implementation over cache_entry.
func (s *SQLite) Get(ctx context.Context, key string) (any, error) {
	var value string
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM cache_entry WHERE key = ?`, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, trace.NotFound("key %q is not cached", key)
	}
	if err != nil {
		return nil, convertError(err)
	}
	if expiresAt != 0 && !decodeTime(expiresAt).After(s.cfg.Clock.Now()) {
		if err := s.Delete(ctx, key); err != nil {
			return nil, trace.Wrap(err)
		}
		return nil, trace.NotFound("key %q has expired", key)
	}
	return json.RawMessage(value), nil
}

// Put stores value under key. Values are stored as JSON.
func (s *SQLite) Put(ctx context.Context, key string, value any, ttl time.Duration, tags ...string) error {
	if key == "" {
		return trace.BadParameter("missing cache key")
	}
	var encoded []byte
	switch v := value.(type) {
	case json.RawMessage:
		encoded = v
	case []byte:
		encoded = v
	default:
		var err error
		encoded, err = json.Marshal(value)
		if err != nil {
			return trace.Wrap(err)
		}
	}
	var expires int64
	if ttl != cache.Forever {
		expires = encodeTime(s.cfg.Clock.Now().UTC().Add(ttl))
	}
	return s.inTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cache_tag WHERE key = ?`, key); err != nil {
			return convertError(err)
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO cache_entry (key, value, expires_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
			key, string(encoded), expires)
		if err != nil {
			return convertError(err)
		}
		for _, tag := range tags {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO cache_tag (tag, key) VALUES (?, ?)`, tag, key); err != nil {
				return convertError(err)
			}
		}
		return nil
	})
}

// InvalidateByTag removes every entry carrying the tag.
func (s *SQLite) InvalidateByTag(ctx context.Context, tag string) (int, error) {
	var removed int
	err := s.inTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM cache_entry WHERE key IN (SELECT key FROM cache_tag WHERE tag = ?)`, tag)
		if err != nil {
			return convertError(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return trace.Wrap(err)
		}
		removed = int(n)
		return nil
	})
	return removed, trace.Wrap(err)
}

// Delete removes a single cache entry if present.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entry WHERE key = ?`, key)
	return convertError(err)
}
