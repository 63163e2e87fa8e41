package event

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventsArriveNextTick(t *testing.T) {
	b := NewBus()
	var got []LootDropped
	Subscribe(b, func(ev LootDropped) { got = append(got, ev) })

	Emit(b, LootDropped{ItemID: 264, Quantity: 2})
	require.Zero(t, b.DispatchAll(), "not visible before swap")
	require.Equal(t, 1, b.Pending())

	b.SwapBuffers()
	require.Equal(t, 1, b.DispatchAll())
	require.Equal(t, []LootDropped{{ItemID: 264, Quantity: 2}}, got)

	b.SwapBuffers()
	require.Zero(t, b.DispatchAll(), "delivered events are not replayed")
}

func TestHandlersAreTyped(t *testing.T) {
	b := NewBus()
	var crafted, evicted int
	Subscribe(b, func(ItemCrafted) { crafted++ })
	Subscribe(b, func(ChunkColumnEvicted) { evicted++ })

	Emit(b, ItemCrafted{RecipeID: 1})
	Emit(b, ItemCrafted{RecipeID: 2})
	Emit(b, ChunkColumnEvicted{X: 1})
	b.SwapBuffers()
	require.Equal(t, 3, b.DispatchAll())
	require.Equal(t, 2, crafted)
	require.Equal(t, 1, evicted)
}

func TestConcurrentEmit(t *testing.T) {
	b := NewBus()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				Emit(b, ItemsTransferred{Count: 1})
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 800, b.Pending())

	n := 0
	Subscribe(b, func(ItemsTransferred) { n++ })
	b.SwapBuffers()
	b.DispatchAll()
	require.Equal(t, 800, n)
}

func TestEmitOnNilBus(t *testing.T) {
	require.NotPanics(t, func() { Emit[LootDropped](nil, LootDropped{}) })
}
