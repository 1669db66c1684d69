// Package numbering produces the human readable document numbers used on
// invoices (INV-0001), quotations (Q001) and receipts (REC-001).
package numbering

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
)

// DocType identifies a numbered document family.
type DocType string

const (
	Invoice   DocType = "invoice"
	Quotation DocType = "quotation"
	Receipt   DocType = "receipt"
)

type format struct {
	prefix  string
	width   int
	pattern *regexp.Regexp
}

var formats = map[DocType]format{
	Invoice:   {prefix: "INV-", width: 4, pattern: regexp.MustCompile(`^INV-(\d+)$`)},
	Quotation: {prefix: "Q", width: 3, pattern: regexp.MustCompile(`^Q(\d+)$`)},
	Receipt:   {prefix: "REC-", width: 3, pattern: regexp.MustCompile(`^REC-(\d+)$`)},
}

// Types lists every numbered document family.
func Types() []DocType {
	return []DocType{Invoice, Quotation, Receipt}
}

// Valid reports whether t is a known document family.
func (t DocType) Valid() bool {
	_, ok := formats[t]
	return ok
}

// Format renders n with the prefix and zero padding of t. Values wider than
// the padding are printed in full.
func Format(t DocType, n int64) string {
	f, ok := formats[t]
	if !ok {
		return strconv.FormatInt(n, 10)
	}
	return fmt.Sprintf("%s%0*d", f.prefix, f.width, n)
}

// First is the number given to the first document of t.
func First(t DocType) string {
	return Format(t, 1)
}

// Parse extracts the numeric suffix of s. ok is false when s does not follow
// the pattern of t.
func Parse(t DocType, s string) (int64, bool) {
	f, found := formats[t]
	if !found {
		return 0, false
	}
	m := f.pattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Next returns the number following last. An empty or malformed last falls
// back to the first number of t.
func Next(t DocType, last string) string {
	n, ok := Parse(t, last)
	if !ok {
		return First(t)
	}
	return Format(t, n+1)
}

// Store is the persistent counter backing Allocate. Implementations run inside
// the caller's transaction so a rolled back document also rolls back its number.
type Store interface {
	// IncrementSequence bumps the counter for t and returns the new value.
	// ok is false when no counter row exists yet.
	IncrementSequence(ctx context.Context, t DocType) (value int64, ok bool, err error)
	// LatestNumber returns the most recently issued number of t, or "".
	LatestNumber(ctx context.Context, t DocType) (string, error)
	// SeedSequence creates the counter for t at value, or bumps an existing
	// counter that a concurrent caller created first, returning the stored value.
	SeedSequence(ctx context.Context, t DocType, value int64) (int64, error)
}

// Allocate reserves the next number of t. The counter is seeded from the
// latest stored document number the first time a family is used, so data
// imported with existing numbers keeps its sequence.
func Allocate(ctx context.Context, store Store, t DocType) (string, error) {
	if !t.Valid() {
		return "", fmt.Errorf("numbering: unknown document type %q", t)
	}
	value, ok, err := store.IncrementSequence(ctx, t)
	if err != nil {
		return "", fmt.Errorf("numbering: increment %s: %w", t, err)
	}
	if !ok {
		last, err := store.LatestNumber(ctx, t)
		if err != nil {
			return "", fmt.Errorf("numbering: latest %s: %w", t, err)
		}
		seed, _ := Parse(t, Next(t, last))
		value, err = store.SeedSequence(ctx, t, seed)
		if err != nil {
			return "", fmt.Errorf("numbering: seed %s: %w", t, err)
		}
	}
	return Format(t, value), nil
}
