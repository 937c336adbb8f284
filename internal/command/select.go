package command

import (
	"fmt"

	"github.com/roach88/tsumo/internal/tile"
)

// SelectDiscard picks the hand index to discard for want.
//
// Order:
//  1. the drawn tile, when tsumogiri is requested and it matches exactly
//  2. the first exact match (suit, rank, red flag) outside the drawn slot
//  3. the drawn tile on an exact match
//  4. the first same-kind tile outside the drawn slot, red flag ignored
//  5. the drawn tile on a same-kind match
//
// Steps 4 and 5 can pick the plain five when the red one was asked for (or
// the reverse); they only apply when no exact match exists.
func SelectDiscard(hand []tile.Tile, drawn int, want tile.Tile, tsumogiri bool) (int, error) {
	if want.IsZero() {
		return 0, fmt.Errorf("%w: no tile requested", ErrTileNotFound)
	}
	hasDrawn := drawn >= 0 && drawn < len(hand)

	if tsumogiri && hasDrawn && hand[drawn].Equal(want) {
		return drawn, nil
	}
	for i, t := range hand {
		if i != drawn && t.Equal(want) {
			return i, nil
		}
	}
	if hasDrawn && hand[drawn].Equal(want) {
		return drawn, nil
	}
	for i, t := range hand {
		if i != drawn && t.SameKind(want) {
			return i, nil
		}
	}
	if hasDrawn && hand[drawn].SameKind(want) {
		return drawn, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrTileNotFound, want)
}

// ResolveCombination picks the option index for a meld.
//
// An option whose tiles equal consumed wins (exact first, then ignoring red
// flags). Otherwise the requested index is used when the live option list is
// long enough, and 0 when it is not.
func ResolveCombination(opts [][]tile.Tile, consumed []tile.Tile, requested int) int {
	if len(consumed) > 0 {
		for i, o := range opts {
			if sameTiles(o, consumed, tile.Tile.Equal) {
				return i
			}
		}
		for i, o := range opts {
			if sameTiles(o, consumed, tile.Tile.SameKind) {
				return i
			}
		}
	}
	if requested >= 0 && requested < len(opts) {
		return requested
	}
	return 0
}

// sameTiles compares two tile multisets under eq.
func sameTiles(a, b []tile.Tile, eq func(tile.Tile, tile.Tile) bool) bool {
	if len(a) != len(b) {
		return false
	}
	used := make([]bool, len(b))
	for _, x := range a {
		found := false
		for j, y := range b {
			if !used[j] && eq(x, y) {
				used[j] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
