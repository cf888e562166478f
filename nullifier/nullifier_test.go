package nullifier_test

import (
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkidentity/attest/nullifier"
	"github.com/zkidentity/attest/store"
)

func newRegistry() *nullifier.Registry {
	return nullifier.NewRegistry(store.NewMemory[struct{}]())
}

func TestDeriveDeterministicAndOrdered(t *testing.T) {
	a, err := nullifier.Derive(big.NewInt(111), big.NewInt(222))
	require.NoError(t, err)
	b, err := nullifier.Derive(big.NewInt(111), big.NewInt(222))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	swapped, err := nullifier.Derive(big.NewInt(222), big.NewInt(111))
	require.NoError(t, err)
	assert.NotEqual(t, a, swapped, "argument order is part of the derivation")
}

func TestRegisterIfAbsent(t *testing.T) {
	r := newRegistry()
	n, err := nullifier.Derive(big.NewInt(1), big.NewInt(2))
	require.NoError(t, err)

	assert.False(t, r.Contains(n))
	assert.True(t, r.RegisterIfAbsent(n))
	assert.False(t, r.RegisterIfAbsent(n))
	assert.True(t, r.Contains(n))

	assert.ErrorIs(t, r.Register(n), nullifier.ErrReuse)
}

func TestRegisterIfAbsentConcurrent(t *testing.T) {
	r := newRegistry()
	n, err := nullifier.Derive(big.NewInt(3), big.NewInt(4))
	require.NoError(t, err)

	const callers = 24
	results := make(chan bool, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- r.RegisterIfAbsent(n)
		}()
	}
	wg.Wait()
	close(results)

	fresh := 0
	for ok := range results {
		if ok {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh, "exactly one concurrent registration must succeed")
}
