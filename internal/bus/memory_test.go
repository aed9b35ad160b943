package bus

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_DeliversInOrder(t *testing.T) {
	b := NewMemory()
	defer b.Close()

	var mu sync.Mutex
	var got []int64
	_, err := b.Subscribe(Evr, func(m Message) {
		mu.Lock()
		got = append(got, m.ContextKey)
		mu.Unlock()
	})
	require.NoError(t, err)

	for i := int64(1); i <= 50; i++ {
		require.NoError(t, b.Publish(NewMessage(Evr, i, nil)))
	}
	require.NoError(t, b.ClearAllQueuedMessages())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, int64(i+1), v)
	}
	assert.Equal(t, 0, b.Pending())
}

func TestMemory_DeliveryIsAsynchronous(t *testing.T) {
	b := NewMemory()
	defer b.Close()

	release := make(chan struct{})
	var delivered atomic.Int32
	_, err := b.Subscribe(EndOfData, func(Message) {
		<-release
		delivered.Add(1)
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(NewMessage(EndOfData, 0, nil)))
	assert.Equal(t, int32(0), delivered.Load(), "publish must not run handlers inline")
	assert.Equal(t, 1, b.Pending())

	close(release)
	require.NoError(t, b.ClearAllQueuedMessages())
	assert.Equal(t, int32(1), delivered.Load())
}

func TestMemory_Unsubscribe(t *testing.T) {
	b := NewMemory()
	defer b.Close()

	var count atomic.Int32
	sub, err := b.Subscribe(Product, func(Message) { count.Add(1) })
	require.NoError(t, err)

	require.NoError(t, b.Publish(NewMessage(Product, 0, nil)))
	require.NoError(t, b.ClearAllQueuedMessages())
	sub.Unsubscribe()
	sub.Unsubscribe()
	require.NoError(t, b.Publish(NewMessage(Product, 0, nil)))
	require.NoError(t, b.ClearAllQueuedMessages())

	assert.Equal(t, int32(1), count.Load())
}

func TestMemory_HandlerPanicDoesNotStopDispatch(t *testing.T) {
	b := NewMemory()
	defer b.Close()

	var ok atomic.Bool
	_, _ = b.Subscribe(Log, func(Message) { panic("boom") })
	_, _ = b.Subscribe(Log, func(Message) { ok.Store(true) })

	require.NoError(t, b.Publish(NewMessage(Log, 0, nil)))
	require.NoError(t, b.ClearAllQueuedMessages())
	assert.True(t, ok.Load())
}

func TestMemory_PublishAfterClose(t *testing.T) {
	b := NewMemory()
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.Error(t, b.Publish(NewMessage(Log, 0, nil)))

	done := make(chan struct{})
	go func() {
		_ = b.ClearAllQueuedMessages()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ClearAllQueuedMessages blocked on a closed bus")
	}
}
