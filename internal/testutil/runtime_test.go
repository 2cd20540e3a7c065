package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeterministicRuntime_Replayable(t *testing.T) {
	a := NewDeterministicRuntime("run")
	b := NewDeterministicRuntime("run")

	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Now(), b.Now())
	}
	assert.Equal(t, "run:i1", a.RandomSeed("i1"))
	assert.Equal(t, a.RandomSeed("i1"), b.RandomSeed("i1"))
	assert.NotEqual(t, a.RandomSeed("i1"), a.RandomSeed("i2"))
}

func TestDeterministicRuntime_DefaultPrefixAndReset(t *testing.T) {
	rt := NewDeterministicRuntime("")
	assert.Equal(t, "seed:x", rt.RandomSeed("x"))

	rt.Now()
	rt.Now()
	assert.Equal(t, int64(2), rt.Clock().Ticks())
	rt.Reset()
	assert.Equal(t, int64(1), rt.Now())
}

func TestSequentialIDs(t *testing.T) {
	ids := NewSequentialIDs("")
	assert.Equal(t, "intent-1", ids.Generate())
	assert.Equal(t, "intent-2", ids.Generate())

	custom := NewSequentialIDs("job")
	assert.Equal(t, "job-1", custom.Generate())
}
