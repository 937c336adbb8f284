// Package command translates recommended actions into scripts for the live
// client.
//
// Each action kind maps to one perform command plus the snapshot query used
// to verify it. The table also says which pending operations signal an
// opportunity for the action and which must be gone once it took effect.
package command

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/tsumo/internal/action"
	"github.com/roach88/tsumo/internal/oplist"
	"github.com/roach88/tsumo/internal/tile"
)

// SnapshotQuery reads the pending-operation snapshot from the live client.
// The result shape is oplist.Snapshot.
const SnapshotQuery = `(function(){` +
	`var d=view.DesktopMgr.Inst;` +
	`if(!d||!d.mainrole){return {hasOp:false};}` +
	`var ops=(d.oplist||[]).map(function(o){return {type:o.type,combination:o.combination||[]};});` +
	`var hand=d.mainrole.hand.map(function(t){var v=t.val;return (v.dora?0:v.index)+["p","m","s","z"][v.type];});` +
	`var drawn=d.mainrole.drewPai?hand.length-1:-1;` +
	`return {hasOp:ops.length>0,ops:ops,hand:hand,drawn:drawn};` +
	`})()`

const (
	operationCall = `app.NetAgent.sendReq2MJ("FastTest","inputOperation",%s)`
	meldCall      = `app.NetAgent.sendReq2MJ("FastTest","inputChiPengGang",%s)`
)

var (
	// ErrUnrecognized marks an action kind with no table entry.
	ErrUnrecognized = errors.New("unrecognized action kind")

	// ErrNoOperation means the snapshot no longer offers what the action needs.
	ErrNoOperation = errors.New("operation not offered")

	// ErrTileNotFound means the target tile is not in the hand.
	ErrTileNotFound = errors.New("tile not in hand")
)

// Command is one perform script with the identity it addresses.
type Command struct {
	Script string
	Code   oplist.Code
	Tile   tile.Tile
	Index  int
}

// Plan describes how the executor drives one action.
type Plan struct {
	Action action.Action

	// Relevant codes signal an opportunity to perform the action.
	Relevant []oplist.Code

	// Clears must all be absent for the action to count as accepted.
	Clears []oplist.Code

	// Direct actions execute even when nothing relevant is pending.
	Direct bool

	// SingleShot actions are performed once and never verified.
	SingleShot bool
}

type entry struct {
	relevant   func(a action.Action) []oplist.Code
	direct     bool
	singleShot bool
	perform    func(a action.Action, s oplist.Snapshot) (Command, error)
}

func codes(cs ...oplist.Code) func(action.Action) []oplist.Code {
	return func(action.Action) []oplist.Code { return cs }
}

var table = map[action.Kind]entry{
	action.KindDiscard: {relevant: codes(oplist.OpDiscard), direct: true, perform: performDiscard},
	action.KindRiichi:  {relevant: codes(oplist.OpRiichi), perform: performRiichi},
	action.KindChi:     {relevant: codes(oplist.OpChi), perform: performMeld(oplist.OpChi)},
	action.KindPon:     {relevant: codes(oplist.OpPon), perform: performMeld(oplist.OpPon)},
	action.KindKan:     {relevant: kanCodes, perform: performKan},
	action.KindWin:     {relevant: codes(oplist.WinCodes...), singleShot: true, perform: performWin},
	action.KindPass:    {relevant: codes(oplist.CallCodes...), perform: performPass},
}

// PlanFor looks up the table entry for a.
func PlanFor(a action.Action) (Plan, error) {
	e, ok := table[a.Kind]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrUnrecognized, a.Kind)
	}
	relevant := e.relevant(a)
	return Plan{
		Action:     a,
		Relevant:   relevant,
		Clears:     relevant,
		Direct:     e.direct,
		SingleShot: e.singleShot,
	}, nil
}

// Opportunity reports whether s offers something this plan can act on.
func (p Plan) Opportunity(s oplist.Snapshot) bool {
	return s.HasAny(p.Relevant...)
}

// Verified reports whether every code the action meant to clear is gone.
func (p Plan) Verified(s oplist.Snapshot) bool {
	return !s.HasAny(p.Clears...)
}

// Perform builds the perform command for the live snapshot.
func (p Plan) Perform(s oplist.Snapshot) (Command, error) {
	return table[p.Action.Kind].perform(p.Action, s)
}

func kanCodes(a action.Action) []oplist.Code {
	switch a.Variant {
	case action.KanOpen:
		return []oplist.Code{oplist.OpOpenKan}
	case action.KanClosed:
		return []oplist.Code{oplist.OpClosedKan}
	case action.KanAdded:
		return []oplist.Code{oplist.OpAddedKan}
	default:
		return []oplist.Code{oplist.OpClosedKan, oplist.OpAddedKan, oplist.OpOpenKan}
	}
}

// args is the request body; field order fixes the rendered script.
type args struct {
	Type   int    `json:"type,omitempty"`
	Tile   string `json:"tile,omitempty"`
	Moqie  *bool  `json:"moqie,omitempty"`
	Index  *int   `json:"index,omitempty"`
	Cancel bool   `json:"cancel_operation,omitempty"`
}

func render(format string, a args) string {
	// args has no fields that can fail to marshal
	b, _ := json.Marshal(a)
	return fmt.Sprintf(format, b)
}

func performDiscard(a action.Action, s oplist.Snapshot) (Command, error) {
	hand, err := s.Tiles()
	if err != nil {
		return Command{}, err
	}
	idx, err := SelectDiscard(hand, s.DrawnIndex(), a.Tile, a.Tsumogiri)
	if err != nil {
		return Command{}, err
	}
	moqie := idx == s.DrawnIndex()
	t := hand[idx]
	return Command{
		Script: render(operationCall, args{Type: int(oplist.OpDiscard), Tile: t.ClientString(), Moqie: &moqie}),
		Code:   oplist.OpDiscard,
		Tile:   t,
		Index:  idx,
	}, nil
}

func performRiichi(a action.Action, s oplist.Snapshot) (Command, error) {
	op, ok := s.Find(oplist.OpRiichi)
	if !ok {
		return Command{}, fmt.Errorf("%w: %s", ErrNoOperation, oplist.OpRiichi)
	}
	opts, err := op.Options()
	if err != nil {
		return Command{}, err
	}
	target := a.Tile
	if len(opts) > 0 {
		target = chooseRiichiTile(opts, a.Tile)
	}
	if target.IsZero() {
		return Command{}, fmt.Errorf("%w: riichi offers no discard", ErrTileNotFound)
	}

	hand, err := s.Tiles()
	if err != nil {
		return Command{}, err
	}
	idx, err := SelectDiscard(hand, s.DrawnIndex(), target, a.Tsumogiri)
	if err != nil {
		return Command{}, err
	}
	moqie := idx == s.DrawnIndex()
	t := hand[idx]
	return Command{
		Script: render(operationCall, args{Type: int(oplist.OpRiichi), Tile: t.ClientString(), Moqie: &moqie}),
		Code:   oplist.OpRiichi,
		Tile:   t,
		Index:  idx,
	}, nil
}

// chooseRiichiTile prefers the requested tile among the offered discards,
// then a same-kind tile, then the first offer.
func chooseRiichiTile(opts [][]tile.Tile, want tile.Tile) tile.Tile {
	if !want.IsZero() {
		for _, o := range opts {
			if len(o) > 0 && o[0].Equal(want) {
				return o[0]
			}
		}
		for _, o := range opts {
			if len(o) > 0 && o[0].SameKind(want) {
				return o[0]
			}
		}
	}
	for _, o := range opts {
		if len(o) > 0 {
			return o[0]
		}
	}
	return tile.Tile{}
}

func performMeld(code oplist.Code) func(action.Action, oplist.Snapshot) (Command, error) {
	return func(a action.Action, s oplist.Snapshot) (Command, error) {
		op, ok := s.Find(code)
		if !ok {
			return Command{}, fmt.Errorf("%w: %s", ErrNoOperation, code)
		}
		opts, err := op.Options()
		if err != nil {
			return Command{}, err
		}
		idx := ResolveCombination(opts, a.Consumed, a.Combination)
		return Command{
			Script: render(meldCall, args{Type: int(code), Index: &idx}),
			Code:   code,
			Index:  idx,
		}, nil
	}
}

func performKan(a action.Action, s oplist.Snapshot) (Command, error) {
	for _, code := range kanCodes(a) {
		op, ok := s.Find(code)
		if !ok {
			continue
		}
		opts, err := op.Options()
		if err != nil {
			return Command{}, err
		}
		idx := ResolveCombination(opts, a.Consumed, a.Combination)
		format := operationCall
		if code == oplist.OpOpenKan {
			format = meldCall
		}
		return Command{
			Script: render(format, args{Type: int(code), Index: &idx}),
			Code:   code,
			Index:  idx,
		}, nil
	}
	return Command{}, fmt.Errorf("%w: kan(%s)", ErrNoOperation, a.Variant)
}

func performWin(_ action.Action, s oplist.Snapshot) (Command, error) {
	switch {
	case s.Has(oplist.OpTsumo):
		return Command{
			Script: render(operationCall, args{Type: int(oplist.OpTsumo)}),
			Code:   oplist.OpTsumo,
		}, nil
	case s.Has(oplist.OpRon):
		return Command{
			Script: render(meldCall, args{Type: int(oplist.OpRon)}),
			Code:   oplist.OpRon,
		}, nil
	}
	return Command{}, fmt.Errorf("%w: win", ErrNoOperation)
}

// performPass cancels on the own-turn channel when a discard is pending,
// otherwise on the call channel.
func performPass(_ action.Action, s oplist.Snapshot) (Command, error) {
	format := meldCall
	if s.Has(oplist.OpDiscard) {
		format = operationCall
	}
	return Command{
		Script: render(format, args{Cancel: true}),
		Code:   oplist.OpNone,
	}, nil
}
