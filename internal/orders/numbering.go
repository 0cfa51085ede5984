package orders

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var prefixPattern = regexp.MustCompile(`^[A-Z]{1,6}$`)

// SequenceStore backs the per-year order number counter. All calls run in
// the order transaction; LockSequence holds the counter row until commit.
type SequenceStore interface {
	// LockSequence locks the counter for key and returns its last value;
	// found is false when the counter does not exist yet.
	LockSequence(ctx context.Context, key string) (last int64, found bool, err error)
	// HighestNumber returns the highest existing order number starting with
	// key followed by "-".
	HighestNumber(ctx context.Context, key string) (number string, found bool, err error)
	// InitSequence creates the counter unless another transaction did.
	InitSequence(ctx context.Context, key string, last int64) error
	// StoreSequence writes the new last value.
	StoreSequence(ctx context.Context, key string, last int64) error
}

// Allocator hands out numbers of the form <PREFIX><YY>-<SEQ>.
type Allocator struct {
	prefix string
}

// NewAllocator validates prefix and returns an Allocator.
func NewAllocator(prefix string) (*Allocator, error) {
	if !prefixPattern.MatchString(prefix) {
		return nil, fmt.Errorf("orders: invalid order number prefix %q", prefix)
	}
	return &Allocator{prefix: prefix}, nil
}

// Prefix returns the configured prefix.
func (a *Allocator) Prefix() string { return a.prefix }

// Key returns the counter key for the year of at, e.g. ORD26.
func (a *Allocator) Key(at time.Time) string {
	return fmt.Sprintf("%s%02d", a.prefix, at.Year()%100)
}

// Next allocates the next number for the year of at. The counter row lock
// serialises concurrent allocations until the surrounding transaction ends.
// A missing counter is seeded from the highest number already stored.
func (a *Allocator) Next(ctx context.Context, store SequenceStore, at time.Time) (string, error) {
	key := a.Key(at)
	last, found, err := store.LockSequence(ctx, key)
	if err != nil {
		return "", err
	}
	if !found {
		var seed int64
		highest, ok, err := store.HighestNumber(ctx, key)
		if err != nil {
			return "", err
		}
		if ok {
			if seed, err = ParseSequence(key, highest); err != nil {
				return "", err
			}
		}
		if err := store.InitSequence(ctx, key, seed); err != nil {
			return "", err
		}
		if last, found, err = store.LockSequence(ctx, key); err != nil {
			return "", err
		}
		if !found {
			return "", fmt.Errorf("orders: counter %s missing after init", key)
		}
	}
	next := last + 1
	if err := store.StoreSequence(ctx, key, next); err != nil {
		return "", err
	}
	return FormatNumber(key, next), nil
}

// FormatNumber renders key and seq, zero-padding seq to five digits.
func FormatNumber(key string, seq int64) string {
	return fmt.Sprintf("%s-%05d", key, seq)
}

// ParseSequence extracts the numeric suffix of number issued under key.
func ParseSequence(key, number string) (int64, error) {
	rest, ok := strings.CutPrefix(number, key+"-")
	if !ok || rest == "" {
		return 0, fmt.Errorf("orders: %q is not a %s order number", number, key)
	}
	seq, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || seq < 0 {
		return 0, fmt.Errorf("orders: %q has a malformed sequence", number)
	}
	return seq, nil
}
