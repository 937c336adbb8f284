// Package tile parses and compares mahjong tile identities.
//
// Two notations are accepted:
//
//   - event notation: "1m".."9m", "1p".."9p", "1s".."9s", red fives as "5mr"/"5pr"/"5sr",
//     honors as "E", "S", "W", "N", "P", "F", "C"
//   - client notation: red fives as "0m"/"0p"/"0s", honors as "1z".."7z"
//
// String renders event notation; ClientString renders client notation.
package tile

import (
	"fmt"
	"strings"
)

// Suit identifies the tile family.
type Suit int

const (
	SuitNone Suit = iota
	SuitMan
	SuitPin
	SuitSou
	SuitHonor
)

var suitLetters = map[Suit]byte{
	SuitMan:   'm',
	SuitPin:   'p',
	SuitSou:   's',
	SuitHonor: 'z',
}

// honors in event notation, indexed by rank-1.
var honorNames = []string{"E", "S", "W", "N", "P", "F", "C"}

// Tile is a physical tile identity: suit, rank and the red-five flag.
// The zero value is "no tile".
type Tile struct {
	Suit Suit
	Rank int
	Red  bool
}

// Parse accepts either notation.
func Parse(s string) (Tile, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Tile{}, fmt.Errorf("empty tile")
	}

	for i, name := range honorNames {
		if s == name {
			return Tile{Suit: SuitHonor, Rank: i + 1}, nil
		}
	}

	red := false
	if len(s) == 3 && s[2] == 'r' {
		red = true
		s = s[:2]
	}
	if len(s) != 2 {
		return Tile{}, fmt.Errorf("invalid tile %q", s)
	}

	var suit Suit
	switch s[1] {
	case 'm':
		suit = SuitMan
	case 'p':
		suit = SuitPin
	case 's':
		suit = SuitSou
	case 'z':
		suit = SuitHonor
	default:
		return Tile{}, fmt.Errorf("invalid tile suit %q", s)
	}

	if s[0] < '0' || s[0] > '9' {
		return Tile{}, fmt.Errorf("invalid tile rank %q", s)
	}
	rank := int(s[0] - '0')

	if rank == 0 {
		if suit == SuitHonor {
			return Tile{}, fmt.Errorf("invalid honor tile %q", s)
		}
		rank = 5
		red = true
	}
	if red && rank != 5 {
		return Tile{}, fmt.Errorf("only fives can be red: %q", s)
	}
	if suit == SuitHonor && (rank > 7 || red) {
		return Tile{}, fmt.Errorf("invalid honor tile %q", s)
	}

	return Tile{Suit: suit, Rank: rank, Red: red}, nil
}

// MustParse is Parse for literals; it panics on malformed input.
func MustParse(s string) Tile {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

// IsZero reports whether t is the "no tile" value.
func (t Tile) IsZero() bool {
	return t.Suit == SuitNone
}

// String renders event notation ("5pr", "E").
func (t Tile) String() string {
	if t.IsZero() {
		return "?"
	}
	if t.Suit == SuitHonor {
		if t.Rank >= 1 && t.Rank <= len(honorNames) {
			return honorNames[t.Rank-1]
		}
		return "?"
	}
	s := fmt.Sprintf("%d%c", t.Rank, suitLetters[t.Suit])
	if t.Red {
		s += "r"
	}
	return s
}

// ClientString renders client notation ("0p", "1z").
func (t Tile) ClientString() string {
	if t.IsZero() {
		return ""
	}
	rank := t.Rank
	if t.Red {
		rank = 0
	}
	return fmt.Sprintf("%d%c", rank, suitLetters[t.Suit])
}

// Equal is an exact match including the red flag.
func (t Tile) Equal(o Tile) bool {
	return t == o
}

// SameKind ignores the red flag.
func (t Tile) SameKind(o Tile) bool {
	return t.Suit == o.Suit && t.Rank == o.Rank
}

// MarshalText implements encoding.TextMarshaler using event notation.
func (t Tile) MarshalText() ([]byte, error) {
	if t.IsZero() {
		return []byte{}, nil
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for either notation.
func (t *Tile) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*t = Tile{}
		return nil
	}
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseList parses each entry of ss.
func ParseList(ss []string) ([]Tile, error) {
	out := make([]Tile, 0, len(ss))
	for i, s := range ss {
		t, err := Parse(s)
		if err != nil {
			return nil, fmt.Errorf("tile[%d]: %w", i, err)
		}
		out = append(out, t)
	}
	return out, nil
}
