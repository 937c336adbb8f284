// Package event defines the structured game events delivered by the feed.
//
// The wire form is one JSON object per event with a "type" discriminant,
// an optional "actor" seat and kind-specific payload fields.
package event

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates events.
type Kind string

const (
	KindStartGame     Kind = "start_game"
	KindStartKyoku    Kind = "start_kyoku"
	KindTsumo         Kind = "tsumo"
	KindDahai         Kind = "dahai"
	KindChi           Kind = "chi"
	KindPon           Kind = "pon"
	KindDaiminkan     Kind = "daiminkan"
	KindAnkan         Kind = "ankan"
	KindKakan         Kind = "kakan"
	KindReach         Kind = "reach"
	KindReachAccepted Kind = "reach_accepted"
	KindDora          Kind = "dora"
	KindHora          Kind = "hora"
	KindRyukyoku      Kind = "ryukyoku"
	KindEndKyoku      Kind = "end_kyoku"
	KindEndGame       Kind = "end_game"
)

var knownKinds = map[Kind]bool{
	KindStartGame: true, KindStartKyoku: true, KindTsumo: true, KindDahai: true,
	KindChi: true, KindPon: true, KindDaiminkan: true, KindAnkan: true, KindKakan: true,
	KindReach: true, KindReachAccepted: true, KindDora: true, KindHora: true,
	KindRyukyoku: true, KindEndKyoku: true, KindEndGame: true,
}

// Known reports whether k is one of the kinds above.
func (k Kind) Known() bool {
	return knownKinds[k]
}

// IsCall reports whether k forms a meld.
func (k Kind) IsCall() bool {
	switch k {
	case KindChi, KindPon, KindDaiminkan, KindAnkan, KindKakan:
		return true
	}
	return false
}

// Event is one immutable game-state change. Tiles stay in their wire notation;
// consumers parse them with the tile package when they need identities.
type Event struct {
	Kind   Kind `json:"type"`
	Actor  *int `json:"actor,omitempty"`
	Target *int `json:"target,omitempty"`

	Pai       string   `json:"pai,omitempty"`
	Consumed  []string `json:"consumed,omitempty"`
	Tsumogiri bool     `json:"tsumogiri,omitempty"`

	// start_game
	ID    *int     `json:"id,omitempty"`
	Names []string `json:"names,omitempty"`

	// start_kyoku
	Bakaze     string     `json:"bakaze,omitempty"`
	DoraMarker string     `json:"dora_marker,omitempty"`
	Kyoku      int        `json:"kyoku,omitempty"`
	Honba      int        `json:"honba,omitempty"`
	Kyotaku    int        `json:"kyotaku,omitempty"`
	Oya        *int       `json:"oya,omitempty"`
	Scores     []int      `json:"scores,omitempty"`
	Tehais     [][]string `json:"tehais,omitempty"`

	// hora / ryukyoku
	Deltas []int `json:"deltas,omitempty"`
}

// Decode parses and validates one wire event.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Validate checks the fields each kind needs downstream.
func (e Event) Validate() error {
	if e.Kind == "" {
		return fmt.Errorf("event has no type")
	}
	if !e.Kind.Known() {
		return fmt.Errorf("unknown event type %q", e.Kind)
	}
	switch e.Kind {
	case KindStartGame:
		if e.ID == nil {
			return fmt.Errorf("start_game without local seat id")
		}
	case KindTsumo, KindDahai:
		if e.Actor == nil {
			return fmt.Errorf("%s without actor", e.Kind)
		}
	}
	if e.Kind.IsCall() && e.Actor == nil {
		return fmt.Errorf("%s without actor", e.Kind)
	}
	return nil
}

// Encode renders the wire form.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Seat returns the local seat carried by a start_game event.
func (e Event) Seat() (int, bool) {
	if e.Kind != KindStartGame || e.ID == nil {
		return 0, false
	}
	return *e.ID, true
}

// PlayerCount is the table size announced by start_game; four when unspecified.
func (e Event) PlayerCount() int {
	if len(e.Names) > 0 {
		return len(e.Names)
	}
	return 4
}

// ActorIs reports whether the event was performed by seat.
func (e Event) ActorIs(seat int) bool {
	return e.Actor != nil && *e.Actor == seat
}

// IsSessionEnd reports whether e closes the session.
func (e Event) IsSessionEnd() bool {
	return e.Kind == KindEndGame
}

// SeatRef is a helper for building events in code.
func SeatRef(n int) *int {
	return &n
}
