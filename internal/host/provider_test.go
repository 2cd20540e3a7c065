package host

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/intenthost/internal/testutil"
)

func TestContextProvider_Create(t *testing.T) {
	env := map[string]string{"REGION": "eu"}
	p := NewContextProvider(testutil.NewDeterministicRuntime("p"), env)
	env["REGION"] = "us"

	a := p.Create("i1")
	b := p.Create("i1")
	assert.Equal(t, int64(1), a.Now)
	assert.Equal(t, int64(2), b.Now)
	assert.Equal(t, "p:i1", a.RandomSeed)
	assert.Equal(t, "eu", a.Env["REGION"], "provider keeps its own copy of env")

	a.Env["REGION"] = "mutated"
	assert.Equal(t, "eu", p.Create("i1").Env["REGION"])
}

func TestContextProvider_DefaultsToSystemRuntime(t *testing.T) {
	p := NewContextProvider(nil, nil)
	assert.IsType(t, SystemRuntime{}, p.Runtime())

	hctx := p.Create("i9")
	assert.Equal(t, "i9", hctx.RandomSeed)
	assert.Positive(t, hctx.Now)
}

func TestIntentIDGenerators(t *testing.T) {
	var gen IntentIDGenerator = UUIDv7Generator{}
	a, b := gen.Generate(), gen.Generate()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)

	fixed := NewFixedGenerator("x", "y")
	assert.Equal(t, "x", fixed.Generate())
	assert.Equal(t, "y", fixed.Generate())
	assert.Panics(t, func() { fixed.Generate() })
}
