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

// Package storage implements the persistence behind the quote engine, the
// policy monitor, the escrow adapter and the scheduler. Two implementations
// ship: Memory for tests and single-process runs, SQLite for durable state.
package storage

import (
	"context"
	"time"

	"github.com/gravitational/trace"

	"github.com/e3o8o/triggerr-sub002/lib/policy"
)

// Wallet is a custodial chain wallet held for one owner. Ownership follows
// the policy rule: a user id or an anonymous session id, never both.
type Wallet struct {
	// ID is the internal wallet identifier.
	ID    string       `json:"id"`
	Owner policy.Owner `json:"owner"`
	// Address is the chain address.
	Address string `json:"address"`
	// PublicKey is the hex-encoded verification key.
	PublicKey string `json:"public_key"`
	// EncryptedPrivateKey is the sealed signing key. Encryption is the
	// caller's concern; storage never sees plaintext keys.
	EncryptedPrivateKey string    `json:"encrypted_private_key"`
	CreatedAt           time.Time `json:"created_at"`
}

// Check verifies the wallet invariants.
func (w *Wallet) Check() error {
	if w.ID == "" {
		return trace.BadParameter("wallet is missing an id")
	}
	if err := w.Owner.Check(); err != nil {
		return trace.Wrap(err)
	}
	if w.Address == "" {
		return trace.BadParameter("wallet %v has no address", w.ID)
	}
	return nil
}

// WalletStore persists custodial wallets, one per owner.
type WalletStore interface {
	// CreateWallet persists a new wallet. Fails with AlreadyExists when the
	// owner already has one or the address is taken.
	CreateWallet(ctx context.Context, w *Wallet) error
	// GetWalletByOwner fetches the owner's wallet.
	GetWalletByOwner(ctx context.Context, owner policy.Owner) (*Wallet, error)
	// GetWalletByAddress fetches a wallet by chain address.
	GetWalletByAddress(ctx context.Context, address string) (*Wallet, error)
}

// ownerKey collapses an owner into one index key. Owner.Check guarantees
// exactly one side is set.
func ownerKey(o policy.Owner) string {
	if o.UserID != "" {
		return "user:" + o.UserID
	}
	return "anon:" + o.AnonymousSessionID
}
