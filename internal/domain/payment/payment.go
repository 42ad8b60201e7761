package payment

import (
	"net/mail"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Strategy charges an amount and reports whether the charge succeeded.
type Strategy interface {
	Process(amount decimal.Decimal) bool
}

// Func adapts a function to Strategy.
type Func func(amount decimal.Decimal) bool

// Process calls f(amount).
func (f Func) Process(amount decimal.Decimal) bool { return f(amount) }

// Approve accepts every charge.
func Approve() Strategy {
	return Func(func(decimal.Decimal) bool { return true })
}

// Decline rejects every charge.
func Decline() Strategy {
	return Func(func(decimal.Decimal) bool { return false })
}

// CreditCard simulates a card gateway. Charges are approved for card numbers
// passing the Luhn check, up to Limit. A zero Limit means no limit.
type CreditCard struct {
	Number string
	Limit  decimal.Decimal
}

// Process implements Strategy.
func (c CreditCard) Process(amount decimal.Decimal) bool {
	if amount.IsNegative() || !withinLimit(amount, c.Limit) {
		return false
	}
	return luhnValid(c.Number)
}

// PayPal simulates a wallet gateway. Charges are approved for well-formed
// account emails, up to Limit. A zero Limit means no limit.
type PayPal struct {
	Email string
	Limit decimal.Decimal
}

// Process implements Strategy.
func (p PayPal) Process(amount decimal.Decimal) bool {
	if amount.IsNegative() || !withinLimit(amount, p.Limit) {
		return false
	}
	addr, err := mail.ParseAddress(p.Email)
	return err == nil && addr.Address == p.Email
}

// Method names a payment method accepted by FromMethod.
type Method string

const (
	MethodCard   Method = "card"
	MethodPayPal Method = "paypal"
)

// Limits caps the amount each simulated gateway will approve.
type Limits struct {
	Card   decimal.Decimal
	PayPal decimal.Decimal
}

// FromMethod builds the strategy for method. account is the card number for
// MethodCard and the account email for MethodPayPal.
func FromMethod(method Method, account string, limits Limits) (Strategy, error) {
	if account == "" {
		return nil, errors.Errorf("payment account is required for %q", method)
	}
	switch Method(strings.ToLower(string(method))) {
	case MethodCard:
		return CreditCard{Number: account, Limit: limits.Card}, nil
	case MethodPayPal:
		return PayPal{Email: account, Limit: limits.PayPal}, nil
	default:
		return nil, errors.Errorf("unsupported payment method: %q", method)
	}
}

func withinLimit(amount, limit decimal.Decimal) bool {
	return limit.IsZero() || amount.LessThanOrEqual(limit)
}

// luhnValid reports whether number (digits, optional spaces or dashes) passes
// the Luhn checksum.
func luhnValid(number string) bool {
	var (
		sum    int
		digits int
		double bool
	)
	for i := len(number) - 1; i >= 0; i-- {
		c := number[i]
		switch {
		case c == ' ' || c == '-':
			continue
		case c < '0' || c > '9':
			return false
		}
		n := int(c - '0')
		if double {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		digits++
		double = !double
	}
	return digits >= 12 && sum%10 == 0
}
