// internal/position/registry_test.go
package position

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func registryMonitor(t *testing.T, wallet, mint string) *Monitor {
	t.Helper()
	return &Monitor{
		pos: &Position{
			Wallet:    wallet,
			TokenMint: mint,
			Status:    StatusStarting,
		},
		forceExit: make(chan string, 1),
		done:      make(chan struct{}),
	}
}

func TestRegistry_RegisterRejectsDuplicatePair(t *testing.T) {
	reg := NewRegistry(zaptest.NewLogger(t))

	id, err := reg.Register(registryMonitor(t, "wallet-a", "mint-a"))
	require.NoError(t, err)
	assert.Equal(t, "pos-1", id)

	_, err = reg.Register(registryMonitor(t, "wallet-a", "mint-a"))
	assert.Error(t, err, "same wallet and mint must be rejected while open")

	// A different wallet on the same mint is fine.
	id2, err := reg.Register(registryMonitor(t, "wallet-b", "mint-a"))
	require.NoError(t, err)
	assert.Equal(t, "pos-2", id2)
}

func TestRegistry_PairFreedAfterComplete(t *testing.T) {
	reg := NewRegistry(zaptest.NewLogger(t))

	id, err := reg.Register(registryMonitor(t, "wallet-a", "mint-a"))
	require.NoError(t, err)

	reg.Complete(id, StatusFinished, ReasonStopLoss)

	_, ok := reg.Get(id)
	assert.False(t, ok, "terminal positions leave the registry")

	_, err = reg.Register(registryMonitor(t, "wallet-a", "mint-a"))
	assert.NoError(t, err, "pair is reusable after the position closed")
}

func TestRegistry_BeginCloseExactlyOneWinner(t *testing.T) {
	reg := NewRegistry(zaptest.NewLogger(t))

	m := registryMonitor(t, "wallet-a", "mint-a")
	id, err := reg.Register(m)
	require.NoError(t, err)
	require.True(t, reg.markRunning(id))

	const contenders = 16
	var wg sync.WaitGroup
	wins := make(chan bool, contenders)

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- reg.BeginClose(id)
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for w := range wins {
		if w {
			won++
		}
	}
	assert.Equal(t, 1, won, "exactly one caller may close")

	st, ok := reg.StatusOf(id)
	require.True(t, ok)
	assert.Equal(t, StatusClosing, st)
}

func TestRegistry_BeginCloseRequiresRunning(t *testing.T) {
	reg := NewRegistry(zaptest.NewLogger(t))

	id, err := reg.Register(registryMonitor(t, "wallet-a", "mint-a"))
	require.NoError(t, err)

	assert.False(t, reg.BeginClose(id), "starting positions cannot begin closing")
	assert.False(t, reg.BeginClose("pos-404"))
}

func TestRegistry_CancelStartingAndRunningOnly(t *testing.T) {
	reg := NewRegistry(zaptest.NewLogger(t))

	m := registryMonitor(t, "wallet-a", "mint-a")
	m.cancel = func() {} // stop() is called outside the registry lock
	id, err := reg.Register(m)
	require.NoError(t, err)

	assert.True(t, reg.Cancel(id))
	assert.Equal(t, StatusCanceled, m.pos.Status)
	assert.False(t, reg.Cancel(id), "already removed")

	m2 := registryMonitor(t, "wallet-a", "mint-b")
	m2.cancel = func() {}
	id2, err := reg.Register(m2)
	require.NoError(t, err)
	require.True(t, reg.markRunning(id2))
	require.True(t, reg.BeginClose(id2))

	assert.False(t, reg.Cancel(id2), "closing positions cannot be canceled")
}

func TestRegistry_ActiveSnapshot(t *testing.T) {
	reg := NewRegistry(zaptest.NewLogger(t))

	_, err := reg.Register(registryMonitor(t, "wallet-a", "mint-a"))
	require.NoError(t, err)
	id2, err := reg.Register(registryMonitor(t, "wallet-a", "mint-b"))
	require.NoError(t, err)

	assert.Len(t, reg.Active(), 2)

	reg.Complete(id2, StatusError, "entry failed")
	assert.Len(t, reg.Active(), 1)
}
