package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tsumo/internal/tile"
)

func TestFromWire(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Action
	}{
		{
			name: "discard red five",
			in:   `{"type":"dahai","actor":0,"pai":"5pr","tsumogiri":false}`,
			want: Discard(tile.MustParse("5pr"), false),
		},
		{
			name: "tsumogiri",
			in:   `{"type":"dahai","actor":0,"pai":"E","tsumogiri":true}`,
			want: Discard(tile.MustParse("E"), true),
		},
		{
			name: "riichi",
			in:   `{"type":"reach","actor":0}`,
			want: Action{Kind: KindRiichi},
		},
		{
			name: "chi",
			in:   `{"type":"chi","actor":0,"target":3,"pai":"4p","consumed":["5p","6p"]}`,
			want: Action{
				Kind:     KindChi,
				Tile:     tile.MustParse("4p"),
				Consumed: []tile.Tile{tile.MustParse("5p"), tile.MustParse("6p")},
			},
		},
		{
			name: "closed kan",
			in:   `{"type":"ankan","actor":0,"consumed":["1z","1z","1z","1z"]}`,
			want: Action{
				Kind:     KindKan,
				Variant:  KanClosed,
				Consumed: []tile.Tile{tile.MustParse("E"), tile.MustParse("E"), tile.MustParse("E"), tile.MustParse("E")},
			},
		},
		{
			name: "win",
			in:   `{"type":"hora","actor":0,"target":2}`,
			want: Action{Kind: KindWin},
		},
		{
			name: "none is pass",
			in:   `{"type":"none"}`,
			want: Pass(),
		},
		{
			name: "unfamiliar type passes through",
			in:   `{"type":"ryukyoku","actor":0}`,
			want: Action{Kind: Kind("ryukyoku")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromWire([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromWireErrors(t *testing.T) {
	for _, in := range []string{`nope`, `{}`, `{"type":"dahai"}`, `{"type":"dahai","pai":"9x"}`} {
		_, err := FromWire([]byte(in))
		assert.Error(t, err, "input %s", in)
	}
}

func TestKnown(t *testing.T) {
	assert.True(t, KindPass.Known())
	assert.False(t, Kind("ryukyoku").Known())
	assert.True(t, KindKan.IsCall())
	assert.False(t, KindWin.IsCall())
}

func TestString(t *testing.T) {
	assert.Equal(t, "discard(5pr)", Discard(tile.MustParse("0p"), false).String())
	assert.Equal(t, "discard(1m, tsumogiri)", Discard(tile.MustParse("1m"), true).String())
	assert.Equal(t, "kan(added)", Action{Kind: KindKan, Variant: KanAdded}.String())
	assert.Equal(t, "pon(5s,5sr)", Action{Kind: KindPon, Consumed: []tile.Tile{tile.MustParse("5s"), tile.MustParse("0s")}}.String())
}
