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

package escrow

import (
	"time"

	"github.com/gravitational/trace"
)

// EscrowPurpose classifies what an escrow holds funds for.
type EscrowPurpose string

const (
	PurposeDeposit    EscrowPurpose = "DEPOSIT"
	PurposeWithdraw   EscrowPurpose = "WITHDRAW"
	PurposeStake      EscrowPurpose = "STAKE"
	PurposeBond       EscrowPurpose = "BOND"
	PurposeCollateral EscrowPurpose = "COLLATERAL"
	PurposeInvestment EscrowPurpose = "INVESTMENT"
	PurposeReserve    EscrowPurpose = "RESERVE"
	PurposePool       EscrowPurpose = "POOL"
	PurposeCustom     EscrowPurpose = "CUSTOM"
)

// EscrowStatus is the escrow lifecycle state.
type EscrowStatus string

const (
	StatusPending   EscrowStatus = "PENDING"
	StatusFulfilled EscrowStatus = "FULFILLED"
	StatusReleased  EscrowStatus = "RELEASED"
	StatusExpired   EscrowStatus = "EXPIRED"
	StatusCancelled EscrowStatus = "CANCELLED"
)

// Terminal reports whether the status is absorbing.
func (s EscrowStatus) Terminal() bool {
	switch s {
	case StatusReleased, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Escrow is the adapter-side record of one chain escrow.
type Escrow struct {
	// InternalID is always present and generated by the adapter.
	InternalID string `json:"internal_id"`
	// BlockchainID is set once the chain has acknowledged the escrow.
	BlockchainID string `json:"blockchain_id,omitempty"`

	// Amount is in chain units (cents).
	Amount int64 `json:"amount"`
	// ExpiresAt is when the escrow lapses unfulfilled.
	ExpiresAt time.Time `json:"expires_at"`
	// Recipient is the chain address the funds go to on release.
	Recipient string        `json:"recipient"`
	Purpose   EscrowPurpose `json:"purpose"`

	Status EscrowStatus `json:"status"`
	// TxHash is the normalised hash of the creating transaction.
	TxHash string `json:"tx_hash,omitempty"`
	// BlockNumber is zero until the creating transaction is included.
	BlockNumber int64 `json:"block_number,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Check verifies the record invariants.
func (e *Escrow) Check() error {
	if e.InternalID == "" {
		return trace.BadParameter("escrow is missing an internal id")
	}
	if e.Amount <= 0 {
		return trace.BadParameter("escrow %v has a non-positive amount", e.InternalID)
	}
	if e.Recipient == "" {
		return trace.BadParameter("escrow %v has no recipient", e.InternalID)
	}
	return nil
}

// CheckTransition verifies a status change. Terminal states are absorbing
// and every transition has a fixed origin.
func (e *Escrow) CheckTransition(to EscrowStatus) error {
	if e.Status.Terminal() {
		return trace.CompareFailed("escrow %v is %v, which is terminal", e.InternalID, e.Status)
	}
	switch to {
	case StatusFulfilled:
		if e.Status != StatusPending {
			return trace.CompareFailed("escrow %v is %v, only PENDING escrows can be fulfilled", e.InternalID, e.Status)
		}
	case StatusReleased:
		if e.Status != StatusPending && e.Status != StatusFulfilled {
			return trace.CompareFailed("escrow %v is %v and cannot be released", e.InternalID, e.Status)
		}
	case StatusExpired, StatusCancelled:
	default:
		return trace.BadParameter("unknown escrow status %q", to)
	}
	return nil
}
