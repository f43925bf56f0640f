package ledger

import (
	"encoding/json"
	"fmt"
	"regexp"
	"unicode/utf8"
)

const (
	MaxDescriptionLength    = 500
	MaxIdempotencyKeyLength = 255
	MaxAccountNameLength    = 255
	DefaultCurrency         = "USD"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

func validateAmount(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidAmount, amount)
	}
	return nil
}

func validateOptionalFields(description, idempotencyKey *string, metadata json.RawMessage) error {
	if description != nil && utf8.RuneCountInString(*description) > MaxDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidRequest, MaxDescriptionLength)
	}
	if idempotencyKey != nil {
		n := utf8.RuneCountInString(*idempotencyKey)
		if n == 0 || n > MaxIdempotencyKeyLength {
			return fmt.Errorf("%w: idempotency key must be 1..%d characters", ErrInvalidRequest, MaxIdempotencyKeyLength)
		}
	}
	if len(metadata) > 0 && !json.Valid(metadata) {
		return fmt.Errorf("%w: metadata is not valid JSON", ErrInvalidRequest)
	}
	return nil
}

// ValidateCurrency checks for an ISO 4217 style code (three upper-case letters).
func ValidateCurrency(code string) error {
	if !currencyPattern.MatchString(code) {
		return fmt.Errorf("%w: currency code %q must be three upper-case letters", ErrInvalidRequest, code)
	}
	return nil
}

func validateNewAccount(req NewAccount) error {
	n := utf8.RuneCountInString(req.Name)
	if n == 0 || n > MaxAccountNameLength {
		return fmt.Errorf("%w: account name must be 1..%d characters", ErrInvalidRequest, MaxAccountNameLength)
	}
	if req.InitialBalanceCents < 0 {
		return fmt.Errorf("%w: initial balance must not be negative", ErrInvalidAmount)
	}
	return ValidateCurrency(req.Currency)
}
