// Package oplist models the live client's pending-operation snapshot.
//
// A snapshot is read fresh on every check and never cached. Operation codes
// follow the client's numbering.
package oplist

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/tsumo/internal/tile"
)

// Code is an operation kind offered by the client.
type Code int

const (
	OpNone      Code = 0
	OpDiscard   Code = 1
	OpChi       Code = 2
	OpPon       Code = 3
	OpClosedKan Code = 4
	OpOpenKan   Code = 5
	OpAddedKan  Code = 6
	OpRiichi    Code = 7
	OpTsumo     Code = 8
	OpRon       Code = 9
	OpKyushu    Code = 10
	OpNukidora  Code = 11
)

var codeNames = map[Code]string{
	OpNone:      "none",
	OpDiscard:   "discard",
	OpChi:       "chi",
	OpPon:       "pon",
	OpClosedKan: "closed_kan",
	OpOpenKan:   "open_kan",
	OpAddedKan:  "added_kan",
	OpRiichi:    "riichi",
	OpTsumo:     "tsumo",
	OpRon:       "ron",
	OpKyushu:    "kyushu",
	OpNukidora:  "nukidora",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "op" + strconv.Itoa(int(c))
}

// CallCodes are the operations a pass declines.
var CallCodes = []Code{OpChi, OpPon, OpClosedKan, OpOpenKan, OpAddedKan, OpTsumo, OpRon}

// WinCodes are the two win sub-kinds.
var WinCodes = []Code{OpTsumo, OpRon}

// Operation is one offered operation with its selectable options.
type Operation struct {
	Code Code `json:"type"`

	// Combination lists options as "|"-joined tiles, e.g. "4p|6p" for a chi
	// or a single tile for riichi discards.
	Combination []string `json:"combination,omitempty"`
}

// Options parses Combination into tile groups.
func (o Operation) Options() ([][]tile.Tile, error) {
	out := make([][]tile.Tile, 0, len(o.Combination))
	for i, c := range o.Combination {
		ts, err := tile.ParseList(strings.Split(c, "|"))
		if err != nil {
			return nil, fmt.Errorf("%s option %d: %w", o.Code, i, err)
		}
		out = append(out, ts)
	}
	return out, nil
}

// Snapshot is a point-in-time read of what the client currently offers.
type Snapshot struct {
	HasOp bool        `json:"hasOp"`
	Ops   []Operation `json:"ops,omitempty"`

	// Hand is the local hand in client notation, drawn tile included.
	Hand []string `json:"hand,omitempty"`

	// Drawn is the index of the just-drawn tile in Hand.
	Drawn *int `json:"drawn,omitempty"`
}

// Decode parses a bridge result into a snapshot.
func Decode(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Drawn != nil && (*s.Drawn < 0 || *s.Drawn >= len(s.Hand)) {
		s.Drawn = nil
	}
	return s, nil
}

// Find returns the first offered operation with code c.
func (s Snapshot) Find(c Code) (Operation, bool) {
	if !s.HasOp {
		return Operation{}, false
	}
	for _, op := range s.Ops {
		if op.Code == c {
			return op, true
		}
	}
	return Operation{}, false
}

// Has reports whether c is offered.
func (s Snapshot) Has(c Code) bool {
	_, ok := s.Find(c)
	return ok
}

// HasAny reports whether any of codes is offered.
func (s Snapshot) HasAny(codes ...Code) bool {
	for _, c := range codes {
		if s.Has(c) {
			return true
		}
	}
	return false
}

// Codes lists the offered codes in client order.
func (s Snapshot) Codes() []Code {
	if !s.HasOp {
		return []Code{}
	}
	out := make([]Code, 0, len(s.Ops))
	for _, op := range s.Ops {
		out = append(out, op.Code)
	}
	return out
}

// Tiles parses the hand.
func (s Snapshot) Tiles() ([]tile.Tile, error) {
	return tile.ParseList(s.Hand)
}

// DrawnIndex is the drawn tile's position in Hand, or -1.
func (s Snapshot) DrawnIndex() int {
	if s.Drawn == nil {
		return -1
	}
	return *s.Drawn
}
