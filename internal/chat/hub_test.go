package chat

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(connID string, userID int64, buffer int) *Client {
	return &Client{
		ConnID: connID,
		UserID: userID,
		rooms:  make(map[int64]bool),
		send:   make(chan []byte, buffer),
	}
}

func TestClientTrySendAfterKill(t *testing.T) {
	c := newTestClient("c1", 1, 1)

	require.True(t, c.trySend([]byte("a")))
	// Buffer full.
	assert.False(t, c.trySend([]byte("b")))

	c.kill()
	assert.False(t, c.trySend([]byte("c")))
	// Killing twice must not double-close.
	c.kill()

	data, ok := <-c.send
	assert.Equal(t, []byte("a"), data)
	assert.True(t, ok)
	_, ok = <-c.send
	assert.False(t, ok)
}

// Concurrent senders racing a teardown must never hit a closed channel.
func TestClientSendKillRace(t *testing.T) {
	for i := 0; i < 100; i++ {
		c := newTestClient("c1", 1, 4)

		var wg sync.WaitGroup
		for s := 0; s < 4; s++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 20; j++ {
					c.trySend([]byte("x"))
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.kill()
		}()
		wg.Wait()
	}
}

func TestHubDropsSlowConsumer(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Shutdown()

	fast := newTestClient("fast", 1, 16)
	fast.addRoom(7)
	slow := newTestClient("slow", 2, 1)
	slow.addRoom(7)

	hub.register <- fast
	hub.register <- slow

	var mu sync.Mutex
	var fastGot int
	go func() {
		for range fast.send {
			mu.Lock()
			fastGot++
			mu.Unlock()
		}
	}()

	// Nobody drains slow; the second frame overflows its buffer and the
	// hub tears it down instead of blocking the room.
	hub.BroadcastToRoom(7, []byte("one"))
	hub.BroadcastToRoom(7, []byte("two"))

	require.Eventually(t, func() bool {
		slow.mu.Lock()
		defer slow.mu.Unlock()
		return slow.dead
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fastGot == 2
	}, time.Second, 5*time.Millisecond)

	// The survivor keeps receiving.
	hub.BroadcastToRoom(7, []byte("three"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fastGot == 3
	}, time.Second, 5*time.Millisecond)
}
