package realtime

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistryAddAndLookup(t *testing.T) {
	r := NewRegistry()

	r.Add("conn-a", 42)
	r.Add("conn-b", 42)
	r.Add("conn-c", 7)

	require.ElementsMatch(t, []string{"conn-a", "conn-b"}, r.ConnectionsFor(42))
	require.ElementsMatch(t, []string{"conn-c"}, r.ConnectionsFor(7))
	require.Empty(t, r.ConnectionsFor(999))
	require.ElementsMatch(t, []string{"conn-a", "conn-b", "conn-c"}, r.AllConnections())
	require.Equal(t, 3, r.Len())
}

func TestRegistryReRegistrationOverwrites(t *testing.T) {
	r := NewRegistry()

	r.Add("conn-a", 1)
	r.Add("conn-a", 2)

	require.Empty(t, r.ConnectionsFor(1))
	require.ElementsMatch(t, []string{"conn-a"}, r.ConnectionsFor(2))
	require.Equal(t, 1, r.Len())
}

func TestRegistryRemoveIsIdempotent(t *testing.T) {
	r := NewRegistry()

	r.Add("conn-a", 42)
	r.Remove("conn-a")
	// A second removal racing behind the first must be a silent no-op.
	r.Remove("conn-a")
	r.Remove("never-existed")

	require.Empty(t, r.ConnectionsFor(42))
	require.Equal(t, 0, r.Len())
}

func TestRegistryTouchMissingConnectionIsNoop(t *testing.T) {
	r := NewRegistry()
	r.Touch("gone")
	require.Equal(t, 0, r.Len())
}

func TestRegistryConnectionsForUsers(t *testing.T) {
	r := NewRegistry()

	r.Add("conn-a", 1)
	r.Add("conn-b", 2)
	r.Add("conn-c", 3)

	conns := r.ConnectionsForUsers([]int64{1, 2, 2, 99})
	require.ElementsMatch(t, []string{"conn-a", "conn-b"}, conns)
}

func TestRegistrySweepRemovesOnlyStaleEntries(t *testing.T) {
	current := time.Now()
	r := NewRegistry(WithRegistryClock(func() time.Time { return current }))

	r.Add("stale", 1)
	r.Add("fresh", 2)

	current = current.Add(2 * time.Minute)
	r.Touch("fresh")

	removed := r.Sweep(time.Minute)
	require.ElementsMatch(t, []string{"stale"}, removed)
	require.Empty(t, r.ConnectionsFor(1))
	require.ElementsMatch(t, []string{"fresh"}, r.ConnectionsFor(2))

	// Swept ids are fully forgotten: touching them stays a no-op.
	r.Touch("stale")
	require.Equal(t, 1, r.Len())
}

func TestRegistrySweepConcurrentWithHeartbeats(t *testing.T) {
	r := NewRegistry()

	for i := 0; i < 64; i++ {
		r.Add(fmt.Sprintf("conn-%d", i), int64(i%8+1))
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					r.Touch(fmt.Sprintf("conn-%d", offset))
				}
			}
		}(i)
	}

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.Sweep(time.Hour)
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(stop)
	wg.Wait()

	// Nothing was stale, so every entry survives the concurrent sweeps.
	require.Equal(t, 64, r.Len())
}

func TestRegistryConcurrentAddRemove(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("conn-%d", n)
			for j := 0; j < 100; j++ {
				r.Add(id, int64(n+1))
				r.Touch(id)
				r.Remove(id)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 0, r.Len())
	require.Empty(t, r.AllConnections())
}
