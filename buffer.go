package ptnk

import "bytes"

// bufState distinguishes the three states a Buffer can hold.
// Invalid ("no such record") and Null ("SQL-style NULL value
// present") are semantically distinct, so Buffer is never collapsed
// into a nullable byte slice.
type bufState uint8

const (
	bufValid bufState = iota
	bufNull
	bufInvalid
)

// Buffer is a three-valued reference to a byte range: a present value
// (possibly empty), an explicit SQL-style NULL, or Invalid (absence,
// "no such record"). All store entry points accept and return Buffer.
type Buffer struct {
	data  []byte
	state bufState
}

// ValidBuffer wraps b as a present value. A nil or empty slice is a
// valid, empty value, distinct from Null and from Invalid.
func ValidBuffer(b []byte) Buffer {
	return Buffer{data: b, state: bufValid}
}

// NullBuffer returns the SQL-style NULL value.
func NullBuffer() Buffer {
	return Buffer{state: bufNull}
}

// InvalidBuffer returns the "no such record" sentinel.
func InvalidBuffer() Buffer {
	return Buffer{state: bufInvalid}
}

// IsValid reports whether b holds a present value (possibly empty).
func (b Buffer) IsValid() bool { return b.state == bufValid }

// IsNull reports whether b is the SQL-style NULL value.
func (b Buffer) IsNull() bool { return b.state == bufNull }

// IsInvalid reports whether b represents absence of a record.
func (b Buffer) IsInvalid() bool { return b.state == bufInvalid }

// Bytes returns the underlying bytes. Only meaningful when IsValid.
func (b Buffer) Bytes() []byte { return b.data }

// Len returns len(Bytes()); 0 for Null and Invalid.
func (b Buffer) Len() int { return len(b.data) }

// rank orders the three states for comparison: null < empty < any
// nonempty valid buffer < ... ; Invalid never participates in key
// ordering and compares as greater than everything (it should never
// reach a comparison in correct code, but must still total-order).
func (b Buffer) rank() int {
	switch b.state {
	case bufNull:
		return 0
	case bufValid:
		return 1
	default:
		return 2
	}
}

// Compare implements the store's total order: null < empty
// < any nonempty, byte sequences ordered by length first (shorter <
// longer) and then unsigned lexicographic comparison of equal-length
// prefixes.
func Compare(a, b Buffer) int {
	if ra, rb := a.rank(), b.rank(); ra != rb {
		return ra - rb
	}
	if a.state != bufValid {
		return 0
	}
	if len(a.data) != len(b.data) {
		if len(a.data) < len(b.data) {
			return -1
		}
		return 1
	}
	return bytes.Compare(a.data, b.data)
}

// Equal reports whether a and b compare equal under Compare.
func Equal(a, b Buffer) bool { return Compare(a, b) == 0 }

// compareKeys orders two raw key byte slices: shorter <
// longer; equal length compared as unsigned lexicographic bytes. Keys
// on pages are always present (never Null/Invalid) so this operates
// directly on []byte rather than Buffer.
func compareKeys(a, b []byte) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return bytes.Compare(a, b)
}
