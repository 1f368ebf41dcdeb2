// Package eligibility implements the rolling purchase quota.
//
// A customer may buy at most Limit units within any trailing Window. The window
// is anchored to the oldest purchase still inside it, so a denied customer
// becomes eligible again exactly Window after that purchase.
package eligibility

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/iurnickita/teapot/internal/model"
)

const (
	Limit  = 5
	Window = 24 * time.Hour
)

type Status string

const (
	StatusAllowed Status = "allowed"
	StatusDenied  Status = "denied"
)

var (
	ErrInvalidCustomerID  = errors.New("customer id must be exactly 4 digits")
	ErrReservedCustomerID = errors.New("customer id is reserved for inventory management")
	ErrInvalidQuantity    = errors.New("quantity must be between 1 and 5")
	ErrNotEligible        = errors.New("purchase not allowed yet")
	ErrExceedsRemaining   = errors.New("quantity exceeds remaining purchases")
)

var customerIDPattern = regexp.MustCompile(`^\d{4}$`)

// ParseCustomerID validates the 4-digit form and rejects the reserved account.
func ParseCustomerID(s string) (int, error) {
	if !customerIDPattern.MatchString(s) {
		return 0, ErrInvalidCustomerID
	}
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, ErrInvalidCustomerID
	}
	if id == model.ReservedCustomerID {
		return 0, ErrReservedCustomerID
	}
	return id, nil
}

type Decision struct {
	Customer      int
	Status        Status
	NewCustomer   bool
	TotalBought   int
	Remaining     int
	NextAllowedAt time.Time
	Transactions  []model.Transaction
}

// NewCustomer - полная квота для только что созданного покупателя
func NewCustomer(customer int) Decision {
	return Decision{
		Customer:    customer,
		Status:      StatusAllowed,
		NewCustomer: true,
		Remaining:   Limit,
	}
}

// InWindow reports whether a transaction created at t still counts against the
// quota at now. The bound is exclusive. Timestamps come from the database
// clock, so t may be slightly ahead of now and still counts.
func InWindow(t, now time.Time) bool {
	return t.After(now.Add(-Window))
}

// Evaluate applies the quota to a customer's transactions. Transactions outside
// the window are ignored, so the caller may pass a superset.
func Evaluate(customer int, txs []model.Transaction, now time.Time) Decision {
	d := Decision{Customer: customer}

	var oldest time.Time
	for _, tx := range txs {
		if !InWindow(tx.Data.CreatedAt, now) {
			continue
		}
		d.Transactions = append(d.Transactions, tx)
		d.TotalBought += tx.Abs()
		if oldest.IsZero() || tx.Data.CreatedAt.Before(oldest) {
			oldest = tx.Data.CreatedAt
		}
	}

	if d.TotalBought >= Limit {
		d.Status = StatusDenied
		d.NextAllowedAt = oldest.Add(Window)
		return d
	}

	d.Status = StatusAllowed
	d.Remaining = Limit - d.TotalBought
	return d
}

// Allows checks a purchase of quantity units against the decision.
func (d Decision) Allows(quantity int) error {
	if quantity <= 0 || quantity > Limit {
		return ErrInvalidQuantity
	}
	if d.Status != StatusAllowed {
		return ErrNotEligible
	}
	if quantity > d.Remaining {
		return fmt.Errorf("%w: only %d remaining", ErrExceedsRemaining, d.Remaining)
	}
	return nil
}

// TimeLeft is the countdown to NextAllowedAt, never negative.
func (d Decision) TimeLeft(now time.Time) time.Duration {
	if d.Status != StatusDenied {
		return 0
	}
	left := d.NextAllowedAt.Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// FormatCountdown renders a duration as HH:MM:SS, rounding down to whole seconds.
func FormatCountdown(left time.Duration) string {
	if left < 0 {
		left = 0
	}
	secs := int64(left / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}
