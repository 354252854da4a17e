// Package ledger is the process-wide in-memory balance store. Balances
// are signed 64-bit integer cents keyed by user id. The ledger lives for
// the lifetime of the process; there is no persistence.
package ledger

import (
	"errors"
	"sync"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
)

type account struct {
	uid     int64
	balance int64
}

// Ledger serializes every operation through one mutex. Transfer touches
// two accounts and must be all-or-nothing with respect to Balance and
// Snapshot, so per-account locking is not enough.
type Ledger struct {
	mu       sync.Mutex
	accounts map[int64]*account
}

func New() *Ledger {
	return &Ledger{accounts: make(map[int64]*account)}
}

// Credit adds amount to uid's balance, creating the account on first
// sight. Credit never fails; negative amounts are not rejected.
func (l *Ledger) Credit(uid, amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acct, ok := l.accounts[uid]; ok {
		acct.balance += amount
		return
	}
	l.accounts[uid] = &account{uid: uid, balance: amount}
}

// Balance returns uid's current balance.
func (l *Ledger) Balance(uid int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[uid]
	if !ok {
		return 0, ErrAccountNotFound
	}
	return acct.balance, nil
}

// Transfer atomically moves amount from one account to the other. Both
// accounts must already exist and the source must cover the amount.
func (l *Ledger) Transfer(from, to, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	src, ok := l.accounts[from]
	if !ok {
		return ErrAccountNotFound
	}
	dst, ok := l.accounts[to]
	if !ok {
		return ErrAccountNotFound
	}
	if src.balance < amount {
		return ErrInsufficientFunds
	}
	src.balance -= amount
	dst.balance += amount
	return nil
}

// Snapshot returns a consistent point-in-time copy of every balance.
func (l *Ledger) Snapshot() map[int64]int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[int64]int64, len(l.accounts))
	for uid, acct := range l.accounts {
		out[uid] = acct.balance
	}
	return out
}

// TotalBalance returns the sum of all balances. Transfers conserve it.
func (l *Ledger) TotalBalance() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total int64
	for _, acct := range l.accounts {
		total += acct.balance
	}
	return total
}
