package payout

import (
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/stake-plus/tribunal/src/tribunal/types"
)

var ErrNothingToWithdraw = errors.New("nothing to withdraw")

// Ledger is the single pull-withdrawal path for value leaving the system.
// Components credit claimable balances here; recipients withdraw explicitly.
type Ledger struct {
	db *gorm.DB
	mu sync.Mutex
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Credit adds amount to addr's claimable balance.
func (l *Ledger) Credit(addr string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var bal types.ClaimBalance
	err := l.db.First(&bal, "address = ?", addr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		bal = types.ClaimBalance{Address: addr, Amount: amount, UpdatedAt: time.Now()}
		return l.db.Create(&bal).Error
	}
	if err != nil {
		return err
	}
	bal.Amount += amount
	bal.UpdatedAt = time.Now()
	return l.db.Save(&bal).Error
}

// Withdraw zeroes addr's balance and returns the amount owed.
func (l *Ledger) Withdraw(addr string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var bal types.ClaimBalance
	err := l.db.First(&bal, "address = ?", addr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrNothingToWithdraw
	}
	if err != nil {
		return 0, err
	}
	if bal.Amount == 0 {
		return 0, ErrNothingToWithdraw
	}
	amount := bal.Amount
	bal.Amount = 0
	bal.UpdatedAt = time.Now()
	if err := l.db.Save(&bal).Error; err != nil {
		return 0, err
	}
	return amount, nil
}

// Balance returns addr's current claimable amount.
func (l *Ledger) Balance(addr string) (uint64, error) {
	var bal types.ClaimBalance
	err := l.db.First(&bal, "address = ?", addr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return bal.Amount, nil
}
