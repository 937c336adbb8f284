// Package action defines the recommended action produced by the decision oracle.
package action

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/tsumo/internal/tile"
)

// Kind is the action discriminant.
type Kind string

const (
	KindDiscard Kind = "discard"
	KindRiichi  Kind = "riichi"
	KindChi     Kind = "chi"
	KindPon     Kind = "pon"
	KindKan     Kind = "kan"
	KindWin     Kind = "win"
	KindPass    Kind = "pass"
)

// Known reports whether k is handled by the executor.
func (k Kind) Known() bool {
	switch k {
	case KindDiscard, KindRiichi, KindChi, KindPon, KindKan, KindWin, KindPass:
		return true
	}
	return false
}

// IsCall reports whether k claims another seat's tile or declares a meld.
func (k Kind) IsCall() bool {
	return k == KindChi || k == KindPon || k == KindKan
}

// KanVariant distinguishes the three kan forms.
type KanVariant string

const (
	KanOpen   KanVariant = "open"
	KanClosed KanVariant = "closed"
	KanAdded  KanVariant = "added"
)

// Action is an immutable recommended move for the local seat.
type Action struct {
	Kind Kind `json:"kind"`

	// Tile is the discard target, the claimed tile for calls, or the
	// preferred riichi discard when known.
	Tile      tile.Tile `json:"tile"`
	Tsumogiri bool      `json:"tsumogiri,omitempty"`

	// Consumed are the hand tiles a meld uses.
	Consumed []tile.Tile `json:"consumed,omitempty"`
	Variant  KanVariant  `json:"variant,omitempty"`

	// Combination is the requested option index for chi/kan when the
	// consumed tiles don't identify one.
	Combination int `json:"combination,omitempty"`
}

// Discard builds a discard action.
func Discard(t tile.Tile, tsumogiri bool) Action {
	return Action{Kind: KindDiscard, Tile: t, Tsumogiri: tsumogiri}
}

// Pass builds a skip action.
func Pass() Action {
	return Action{Kind: KindPass}
}

func (a Action) String() string {
	switch a.Kind {
	case KindDiscard:
		if a.Tsumogiri {
			return fmt.Sprintf("discard(%s, tsumogiri)", a.Tile)
		}
		return fmt.Sprintf("discard(%s)", a.Tile)
	case KindRiichi:
		if !a.Tile.IsZero() {
			return fmt.Sprintf("riichi(%s)", a.Tile)
		}
		return "riichi"
	case KindChi, KindPon:
		return fmt.Sprintf("%s(%s)", a.Kind, joinTiles(a.Consumed))
	case KindKan:
		return fmt.Sprintf("kan(%s)", a.Variant)
	default:
		return string(a.Kind)
	}
}

func joinTiles(ts []tile.Tile) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = t.String()
	}
	return strings.Join(parts, ",")
}

// wireAction is the oracle's response object.
type wireAction struct {
	Type      string   `json:"type"`
	Pai       string   `json:"pai"`
	Tsumogiri bool     `json:"tsumogiri"`
	Consumed  []string `json:"consumed"`
	Index     int      `json:"index"`
}

// FromWire decodes an oracle response. "none" maps to pass; unfamiliar
// types are returned as-is so the executor can report them.
func FromWire(data []byte) (Action, error) {
	var w wireAction
	if err := json.Unmarshal(data, &w); err != nil {
		return Action{}, fmt.Errorf("decode action: %w", err)
	}
	if w.Type == "" {
		return Action{}, fmt.Errorf("action has no type")
	}

	var pai tile.Tile
	if w.Pai != "" && w.Pai != "?" {
		t, err := tile.Parse(w.Pai)
		if err != nil {
			return Action{}, fmt.Errorf("action %s: %w", w.Type, err)
		}
		pai = t
	}
	var consumed []tile.Tile
	if len(w.Consumed) > 0 {
		ts, err := tile.ParseList(w.Consumed)
		if err != nil {
			return Action{}, fmt.Errorf("action %s: %w", w.Type, err)
		}
		consumed = ts
	}

	switch w.Type {
	case "dahai":
		if pai.IsZero() {
			return Action{}, fmt.Errorf("dahai without pai")
		}
		return Discard(pai, w.Tsumogiri), nil
	case "reach":
		return Action{Kind: KindRiichi, Tile: pai}, nil
	case "chi":
		return Action{Kind: KindChi, Tile: pai, Consumed: consumed, Combination: w.Index}, nil
	case "pon":
		return Action{Kind: KindPon, Tile: pai, Consumed: consumed}, nil
	case "daiminkan":
		return Action{Kind: KindKan, Variant: KanOpen, Tile: pai, Consumed: consumed}, nil
	case "ankan":
		return Action{Kind: KindKan, Variant: KanClosed, Consumed: consumed, Combination: w.Index}, nil
	case "kakan":
		return Action{Kind: KindKan, Variant: KanAdded, Tile: pai, Consumed: consumed, Combination: w.Index}, nil
	case "hora":
		return Action{Kind: KindWin}, nil
	case "none":
		return Pass(), nil
	default:
		return Action{Kind: Kind(w.Type)}, nil
	}
}
