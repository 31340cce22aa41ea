// Package locator validates content locators before they are admitted into
// ledger state. A locator is the binary form of a CID referencing encrypted
// off-ledger content; the ledger never resolves it.
package locator

import (
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ipfs/go-cid"
)

var (
	// ErrEmptyLocator is returned for zero-length locators.
	ErrEmptyLocator = errors.New("locator is empty")
	// ErrLocatorTooLong is returned when a locator exceeds the configured
	// maximum length.
	ErrLocatorTooLong = errors.New("locator too long")
	// ErrInvalidLocator is returned when the bytes do not parse as a CID.
	ErrInvalidLocator = errors.New("invalid locator")
)

// defaultCacheSize bounds the validation cache. Group conversations resend
// the same locator shape rarely but re-validation of hot locators is free to
// skip, so a small cache is enough.
const defaultCacheSize = 1024

// Validator checks locator shape and length. Validation is pure; the only
// internal state is a cache of recently accepted locators.
type Validator struct {
	maxLen int
	cache  *lru.Cache[string, struct{}]
}

// NewValidator returns a Validator enforcing len(locator) <= maxLen.
func NewValidator(maxLen int) (*Validator, error) {
	if maxLen <= 0 {
		return nil, fmt.Errorf("max locator length must be positive, got %d", maxLen)
	}
	cache, err := lru.New[string, struct{}](defaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create validation cache: %w", err)
	}
	return &Validator{maxLen: maxLen, cache: cache}, nil
}

// MaxLen returns the configured maximum locator length in bytes.
func (v *Validator) MaxLen() int {
	return v.maxLen
}

// Validate returns nil if loc is admissible: non-empty, within the length
// bound, and parseable as a binary CID.
func (v *Validator) Validate(loc []byte) error {
	if len(loc) == 0 {
		return ErrEmptyLocator
	}
	if len(loc) > v.maxLen {
		return fmt.Errorf("%w: %d bytes exceeds maximum %d", ErrLocatorTooLong, len(loc), v.maxLen)
	}
	if _, ok := v.cache.Get(string(loc)); ok {
		return nil
	}
	if _, err := cid.Cast(loc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLocator, err)
	}
	v.cache.Add(string(loc), struct{}{})
	return nil
}
