// Package samplekey implements the dynamic (int | string) sample key
// variant described in spec §9: a tagged union with total ordering, Int
// keys sorting before Str keys, each class then ordered naturally. This
// ordering is what makes the ref blob's "samples sorted by key" clause in
// §4.5 well defined.
package samplekey

import (
	"fmt"
	"regexp"
	"sort"
)

// Kind discriminates the two key variants.
type Kind uint8

const (
	KindInt Kind = iota
	KindStr
)

// MaxStrLen bounds string key length per §3/§8.
const MaxStrLen = 64

var strKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// Key is a sample key: either a non-negative integer or a string of
// length 1-64 over [A-Za-z0-9_.-].
type Key struct {
	kind Kind
	i    uint64
	s    string
}

// Int constructs an integer key.
func Int(v uint64) Key {
	return Key{kind: KindInt, i: v}
}

// Str constructs a string key, validating its character set and length.
// Returns an error rather than panicking so callers can surface
// errcode.ErrorCodeInvalidKey without a partial mutation (§7 Validation).
func Str(v string) (Key, error) {
	if !strKeyPattern.MatchString(v) {
		return Key{}, fmt.Errorf("samplekey: invalid string key %q: must be 1-64 chars of [A-Za-z0-9_.-]", v)
	}
	return Key{kind: KindStr, s: v}, nil
}

// Kind reports which variant k holds.
func (k Key) Kind() Kind { return k.kind }

// IntValue returns the integer payload; only meaningful if Kind() == KindInt.
func (k Key) IntValue() uint64 { return k.i }

// StrValue returns the string payload; only meaningful if Kind() == KindStr.
func (k Key) StrValue() string { return k.s }

// String renders k for logging and as the canonical ref-blob encoding key.
func (k Key) String() string {
	if k.kind == KindInt {
		return fmt.Sprintf("i:%d", k.i)
	}
	return "s:" + k.s
}

// Less implements the total order: all Int keys before all Str keys, each
// group then ordered naturally (§4.5 "samples sorted by key with integer
// keys ordered before string keys").
func (k Key) Less(other Key) bool {
	if k.kind != other.kind {
		return k.kind == KindInt
	}
	if k.kind == KindInt {
		return k.i < other.i
	}
	return k.s < other.s
}

// Equal reports whether k and other denote the same key.
func (k Key) Equal(other Key) bool {
	return k.kind == other.kind && k.i == other.i && k.s == other.s
}

// Parse parses a key previously rendered by Key.Parse's inverse,
// String(), used when reading back the ref blob.
func Parse(s string) (Key, error) {
	if len(s) < 2 || s[1] != ':' {
		return Key{}, fmt.Errorf("samplekey: malformed encoded key %q", s)
	}
	switch s[0] {
	case 'i':
		var v uint64
		if _, err := fmt.Sscanf(s[2:], "%d", &v); err != nil {
			return Key{}, fmt.Errorf("samplekey: malformed integer key %q: %w", s, err)
		}
		return Int(v), nil
	case 's':
		return Str(s[2:])
	default:
		return Key{}, fmt.Errorf("samplekey: unknown key tag in %q", s)
	}
}

// Sort sorts keys in place using Less.
func Sort(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}

// ValidateName checks a name against the same character rules as a
// string sample key (§3 "Arrayset", §4.6 "Branch" — both name validation
// as for sample keys).
func ValidateName(name string) error {
	if !strKeyPattern.MatchString(name) {
		return fmt.Errorf("samplekey: invalid name %q: must be 1-64 chars of [A-Za-z0-9_.-]", name)
	}
	return nil
}
