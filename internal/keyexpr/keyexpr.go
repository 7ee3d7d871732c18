// Package keyexpr implements the key expression namespace of the pub/sub network:
// "/"-separated chunks, "*" matching exactly one chunk and "**" matching any
// number of chunks (including none).
package keyexpr

import (
	"errors"
	"fmt"
	"strings"
)

const (
	Separator   = "/"
	SingleWild  = "*"
	DoubleWild  = "**"
	forbiddenCh = "#?$"
)

var ErrInvalid = errors.New("invalid key expression")

// KeyExpr is a validated key expression.
type KeyExpr string

// New validates s and returns it as a KeyExpr.
func New(s string) (KeyExpr, error) {
	if err := Validate(s); err != nil {
		return "", err
	}
	return KeyExpr(s), nil
}

// MustNew is New for constants known to be valid.
func MustNew(s string) KeyExpr {
	ke, err := New(s)
	if err != nil {
		panic(err)
	}
	return ke
}

// Validate reports whether s is a syntactically valid key expression.
func Validate(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty", ErrInvalid)
	}
	if strings.HasPrefix(s, Separator) || strings.HasSuffix(s, Separator) {
		return fmt.Errorf("%w: %q starts or ends with '/'", ErrInvalid, s)
	}
	if i := strings.IndexAny(s, forbiddenCh); i >= 0 {
		return fmt.Errorf("%w: %q contains forbidden character %q", ErrInvalid, s, s[i])
	}
	previous := ""
	for _, chunk := range strings.Split(s, Separator) {
		switch {
		case chunk == "":
			return fmt.Errorf("%w: %q contains an empty chunk", ErrInvalid, s)
		case chunk == DoubleWild && previous == DoubleWild:
			return fmt.Errorf("%w: %q contains '**/**'", ErrInvalid, s)
		case chunk != SingleWild && chunk != DoubleWild && strings.Contains(chunk, SingleWild):
			return fmt.Errorf("%w: %q mixes '*' with other characters in a chunk", ErrInvalid, s)
		}
		previous = chunk
	}
	return nil
}

// Join concatenates two key expressions with a separator and validates the result.
func Join(prefix, suffix string) (KeyExpr, error) {
	if prefix == "" {
		return New(suffix)
	}
	return New(prefix + Separator + suffix)
}

func (k KeyExpr) String() string {
	return string(k)
}

// Chunks splits the expression on the separator.
func (k KeyExpr) Chunks() []string {
	return strings.Split(string(k), Separator)
}

// IsWild reports whether the expression contains a wildcard chunk.
func (k KeyExpr) IsWild() bool {
	for _, chunk := range k.Chunks() {
		if chunk == SingleWild || chunk == DoubleWild {
			return true
		}
	}
	return false
}

// Intersects reports whether at least one concrete key matches both expressions.
func Intersects(a, b KeyExpr) bool {
	return intersects(a.Chunks(), b.Chunks())
}

// Includes reports whether every key matched by b is also matched by a.
func Includes(a, b KeyExpr) bool {
	return includes(a.Chunks(), b.Chunks())
}

func intersects(a, b []string) bool {
	if len(a) == 0 {
		return onlyDoubleWild(b)
	}
	if len(b) == 0 {
		return onlyDoubleWild(a)
	}
	if a[0] == DoubleWild {
		return intersects(a[1:], b) || intersects(a, b[1:])
	}
	if b[0] == DoubleWild {
		return intersects(a, b[1:]) || intersects(a[1:], b)
	}
	if a[0] == SingleWild || b[0] == SingleWild || a[0] == b[0] {
		return intersects(a[1:], b[1:])
	}
	return false
}

func includes(a, b []string) bool {
	if len(a) == 0 {
		return len(b) == 0
	}
	if a[0] == DoubleWild {
		return includes(a[1:], b) || (len(b) > 0 && includes(a, b[1:]))
	}
	if len(b) == 0 || b[0] == DoubleWild {
		return false
	}
	if a[0] == SingleWild || a[0] == b[0] {
		return includes(a[1:], b[1:])
	}
	return false
}

func onlyDoubleWild(chunks []string) bool {
	for _, chunk := range chunks {
		if chunk != DoubleWild {
			return false
		}
	}
	return true
}
