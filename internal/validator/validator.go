package validator

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	ErrInvalidAmount   = errors.New("amount must be greater than zero")
	ErrInvalidCurrency = errors.New("invalid currency")
	ErrInvalidMethod   = errors.New("invalid top-up method")
	ErrNoteTooLong     = errors.New("note too long")
)

// maxNoteLength counts characters, not bytes.
const maxNoteLength = 500

var currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)

var topupMethods = map[string]struct{}{
	"bank_transfer": {},
	"mobile_money":  {},
	"cash":          {},
	"card":          {},
}

func ValidateAmount(minor int64) error {
	if minor <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func ValidateCurrency(currency string) error {
	if !currencyRegex.MatchString(currency) {
		return ErrInvalidCurrency
	}
	return nil
}

func ValidateMethod(method string) error {
	if _, ok := topupMethods[strings.ToLower(method)]; !ok {
		return ErrInvalidMethod
	}
	return nil
}

func ValidateNote(note string) error {
	if utf8.RuneCountInString(note) > maxNoteLength {
		return ErrNoteTooLong
	}
	return nil
}
