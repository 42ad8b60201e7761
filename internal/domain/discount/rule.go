package discount

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type enumerates the configurable discount strategies.
type Type string

const (
	// TypeFixed subtracts Value per unit.
	TypeFixed Type = "fixed"
	// TypePercentage takes Value percent off the line.
	TypePercentage Type = "percentage"
	// TypeBulk takes Value percent off lines with at least MinQuantity units.
	TypeBulk Type = "bulk"
)

// ErrUnknownCode is returned when no rule matches a discount code.
var ErrUnknownCode = errors.New("unknown discount code")

// Rule is a named, configurable discount.
type Rule struct {
	Code        string
	Type        Type
	Value       decimal.Decimal
	MinQuantity int
	Description string
}

// Strategy builds the Strategy described by the rule.
func (r Rule) Strategy() (Strategy, error) {
	switch r.Type {
	case TypeFixed:
		return NewFixed(r.Value), nil
	case TypePercentage:
		return NewPercentage(r.Value), nil
	case TypeBulk:
		return NewBulk(r.MinQuantity, r.Value), nil
	default:
		return nil, errors.Errorf("unsupported discount type: %q", r.Type)
	}
}

// Registry resolves discount codes to strategies. Codes are matched
// case-insensitively.
type Registry struct {
	rules map[string]Rule
}

// NewRegistry validates rules and indexes them by code.
func NewRegistry(rules []Rule) (*Registry, error) {
	r := &Registry{rules: make(map[string]Rule, len(rules))}
	for _, rule := range rules {
		if rule.Code == "" {
			return nil, errors.New("discount code is required")
		}
		if _, err := rule.Strategy(); err != nil {
			return nil, errors.Wrapf(err, "rule %s", rule.Code)
		}
		key := strings.ToUpper(rule.Code)
		if _, dup := r.rules[key]; dup {
			return nil, errors.Errorf("duplicate discount code %q", rule.Code)
		}
		r.rules[key] = rule
	}
	return r, nil
}

// Lookup returns the rule for code, or ErrUnknownCode.
func (r *Registry) Lookup(code string) (Rule, error) {
	rule, ok := r.rules[strings.ToUpper(code)]
	if !ok {
		return Rule{}, ErrUnknownCode
	}
	return rule, nil
}

// Resolve returns the strategy for code, or ErrUnknownCode.
func (r *Registry) Resolve(code string) (Strategy, error) {
	rule, err := r.Lookup(code)
	if err != nil {
		return nil, err
	}
	return rule.Strategy()
}

// Len returns the number of registered rules.
func (r *Registry) Len() int {
	return len(r.rules)
}
