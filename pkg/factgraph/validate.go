package factgraph

import (
	"fmt"
	"math"
	"strings"
)

// Bank account value keys.
const (
	AccountType   = "accountType"
	RoutingNumber = "routingNumber"
	AccountNumber = "accountNumber"
)

// validateValue checks a value against its definition type and returns the
// normalized form that is stored.
func validateValue(def *FactDef, value any) (any, error) {
	if value == nil {
		return nil, fmt.Errorf("%w: nil value, use Delete to clear a fact", ErrInvalidValue)
	}

	switch def.Type {
	case TypeString:
		s, ok := value.(string)
		if !ok {
			return nil, typeError(def, "a string")
		}
		return s, nil

	case TypeDollar:
		n, ok := toFloat(value)
		if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
			return nil, typeError(def, "a number")
		}
		return math.Round(n*100) / 100, nil

	case TypeInt:
		n, ok := toFloat(value)
		if !ok || n != math.Trunc(n) {
			return nil, typeError(def, "an integer")
		}
		return n, nil

	case TypeBoolean:
		b, ok := value.(bool)
		if !ok {
			return nil, typeError(def, "a boolean")
		}
		return b, nil

	case TypeEnum:
		s, ok := value.(string)
		if !ok {
			return nil, typeError(def, "a string")
		}
		if !isValidOption(s, def.Options) {
			return nil, fmt.Errorf("%w: %q is not a valid option for %s", ErrInvalidValue, s, def.path)
		}
		return s, nil

	case TypeMultiEnum:
		return validateMultiEnum(def, value)

	case TypeDate:
		t, ok := parseDate(value)
		if !ok {
			return nil, typeError(def, "a valid date")
		}
		return t.Format("2006-01-02"), nil

	case TypeTIN, TypeEIN:
		return validateDigits(def, value, 9)

	case TypePIN:
		return validateDigits(def, value, 6)

	case TypeBankAccount:
		return validateBankAccount(def, value)
	}
	return nil, fmt.Errorf("%w: %s has type %s which cannot be written", ErrInvalidValue, def.path, def.Type)
}

func validateMultiEnum(def *FactDef, value any) (any, error) {
	var raw []string
	switch v := value.(type) {
	case []string:
		raw = v
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, typeError(def, "a list of strings")
			}
			raw = append(raw, s)
		}
	default:
		return nil, typeError(def, "a list of strings")
	}

	out := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, s := range raw {
		if !isValidOption(s, def.Options) {
			return nil, fmt.Errorf("%w: %q is not a valid option for %s", ErrInvalidValue, s, def.path)
		}
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out, nil
}

// validateDigits strips separators and requires exactly n digits.
func validateDigits(def *FactDef, value any, n int) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, typeError(def, "a string of digits")
	}
	digits := stripSeparators(s)
	if len(digits) != n || strings.Trim(digits, "0123456789") != "" {
		return nil, fmt.Errorf("%w: %s must have %d digits", ErrInvalidValue, def.path, n)
	}
	return digits, nil
}

func validateBankAccount(def *FactDef, value any) (any, error) {
	m, ok := value.(map[string]any)
	if !ok {
		return nil, typeError(def, "a bank account object")
	}
	kind, _ := m[AccountType].(string)
	if kind != "checking" && kind != "savings" {
		return nil, fmt.Errorf("%w: %s account type must be checking or savings", ErrInvalidValue, def.path)
	}
	routing, _ := m[RoutingNumber].(string)
	routing = stripSeparators(routing)
	if len(routing) != 9 || strings.Trim(routing, "0123456789") != "" {
		return nil, fmt.Errorf("%w: %s routing number must have 9 digits", ErrInvalidValue, def.path)
	}
	account, _ := m[AccountNumber].(string)
	account = stripSeparators(account)
	if len(account) < 5 || len(account) > 17 || strings.Trim(account, "0123456789") != "" {
		return nil, fmt.Errorf("%w: %s account number must have 5 to 17 digits", ErrInvalidValue, def.path)
	}
	return map[string]any{
		AccountType:   kind,
		RoutingNumber: routing,
		AccountNumber: account,
	}, nil
}

func stripSeparators(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' {
			return -1
		}
		return r
	}, s)
}

// isValidOption checks if a value is in the allowed options list.
func isValidOption(value string, options []string) bool {
	if options == nil {
		return true
	}
	for _, opt := range options {
		if opt == value {
			return true
		}
	}
	return false
}

func typeError(def *FactDef, want string) error {
	return fmt.Errorf("%w: %s must be %s", ErrInvalidValue, def.path, want)
}
