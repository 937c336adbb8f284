package token

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type constGenerator string

func (g constGenerator) Generate() string { return string(g) }

func TestBeginSupersedes(t *testing.T) {
	a := NewAuthority(nil)

	t1 := a.Begin()
	assert.True(t, a.IsCurrent(t1))

	t2 := a.Begin()
	assert.False(t, a.IsCurrent(t1))
	assert.True(t, a.IsCurrent(t2))
	assert.Equal(t, int64(1), t1.Seq())
	assert.Equal(t, int64(2), t2.Seq())
}

func TestIdentityNotContent(t *testing.T) {
	a := NewAuthority(constGenerator("same"))

	t1 := a.Begin()
	t2 := a.Begin()

	assert.Equal(t, t1.ID(), t2.ID())
	assert.False(t, a.IsCurrent(t1), "equal ids must not make a stale token current")
	assert.True(t, a.IsCurrent(t2))
}

func TestCancel(t *testing.T) {
	a := NewAuthority(nil)
	tok := a.Begin()

	a.Cancel()
	assert.False(t, a.IsCurrent(tok))
	assert.Nil(t, a.Current())
	assert.False(t, a.IsCurrent(nil))

	next := a.Begin()
	assert.True(t, a.IsCurrent(next))
}

func TestUUIDv7Ids(t *testing.T) {
	a := NewAuthority(UUIDv7Generator{})
	tok := a.Begin()

	parsed, err := uuid.Parse(tok.ID())
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.False(t, tok.Minted().IsZero())
}

func TestNilTokenAccessors(t *testing.T) {
	var tok *Token
	assert.Equal(t, "", tok.ID())
	assert.Equal(t, "<none>", tok.String())
	assert.Equal(t, int64(0), tok.Seq())
}

func TestConcurrentBeginLeavesExactlyOneCurrent(t *testing.T) {
	a := NewAuthority(nil)

	const n = 64
	tokens := make([]*Token, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i] = a.Begin()
		}(i)
	}
	wg.Wait()

	current := 0
	for _, tok := range tokens {
		if a.IsCurrent(tok) {
			current++
		}
	}
	assert.Equal(t, 1, current)
	assert.Equal(t, int64(n), a.Minted())
}

func TestOnlyLatestTokenIsCurrent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("every earlier token is superseded", prop.ForAll(
		func(n int) bool {
			a := NewAuthority(nil)
			minted := make([]*Token, n)
			for i := range minted {
				minted[i] = a.Begin()
			}
			for i, tok := range minted {
				if a.IsCurrent(tok) != (i == n-1) {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}
