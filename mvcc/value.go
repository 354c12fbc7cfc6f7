package mvcc

import (
	"fmt"
	"strings"
)

// Value is the spec's three-variant sum type: NULL, INT (signed 32-bit) and
// STRING (UTF-8 bytes). It is deliberately narrower than sql.Value (which
// also carries bool and float64) because the storage format this package
// owns never needs those, and a second encoder for a wider type would just
// be dead cases, the way mvcc/colval.go kept its own tag scheme instead of
// reusing another package's.
type Value interface {
	fmt.Stringer
	isValue()
}

type NullValue struct{}

func (NullValue) String() string { return "NULL" }
func (NullValue) isValue()       {}

type IntValue int32

func (v IntValue) String() string { return fmt.Sprintf("%d", int32(v)) }
func (IntValue) isValue()         {}

type StringValue string

func (v StringValue) String() string { return string(v) }
func (StringValue) isValue()         {}

// CompareResult is the outcome of comparing two values of the same type.
type CompareResult int

const (
	Less CompareResult = iota - 1
	Equal
	Greater
	NotMatched // operands are not the same type
)

// Compare implements the type-within-type comparison §3 specifies:
// cross-type comparison always yields NotMatched.
func Compare(a, b Value) CompareResult {
	switch av := a.(type) {
	case NullValue:
		if _, ok := b.(NullValue); ok {
			return Equal
		}
		return NotMatched
	case IntValue:
		bv, ok := b.(IntValue)
		if !ok {
			return NotMatched
		}
		switch {
		case av < bv:
			return Less
		case av > bv:
			return Greater
		default:
			return Equal
		}
	case StringValue:
		bv, ok := b.(StringValue)
		if !ok {
			return NotMatched
		}
		switch {
		case av < bv:
			return Less
		case av > bv:
			return Greater
		default:
			return Equal
		}
	default:
		return NotMatched
	}
}

// Like implements the substring-contains semantics spec.md decided on for
// LIKE (no %/_ wildcards); non-string operands never match.
func Like(a, b Value) bool {
	av, ok := a.(StringValue)
	if !ok {
		return false
	}
	bv, ok := b.(StringValue)
	if !ok {
		return false
	}
	return strings.Contains(string(av), string(bv))
}

// EncodeKey produces the ordered string encoding the B+tree index keys on:
// a fixed-width, sign-flipped encoding for ints so byte-order comparison
// matches numeric order, and the raw bytes for strings and NULL mapped to
// the empty string (NULLs are never indexed by callers, but the encoder
// does not special-case it further than that).
func EncodeKey(v Value) string {
	switch v := v.(type) {
	case NullValue:
		return ""
	case IntValue:
		return fmt.Sprintf("%010d", uint32(v)^0x80000000)
	case StringValue:
		return string(v)
	default:
		return ""
	}
}
