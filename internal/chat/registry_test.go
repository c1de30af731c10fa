package chat

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomFromDestination(t *testing.T) {
	cases := []struct {
		dest   string
		roomID int64
		ok     bool
	}{
		{"/sub/chat/room/42", 42, true},
		{"/sub/chat/room/1", 1, true},
		{"/sub/chat/room/0", 0, false},
		{"/sub/chat/room/", 0, false},
		{"/sub/chat/room/abc", 0, false},
		{"/sub/chat/room/42/extra", 0, false},
		{"/pub/chat/room/42", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		roomID, ok := RoomFromDestination(tc.dest)
		assert.Equal(t, tc.ok, ok, "dest %q", tc.dest)
		assert.Equal(t, tc.roomID, roomID, "dest %q", tc.dest)
	}
}

func TestRegistrySubscribePresence(t *testing.T) {
	r := NewRegistry(nil)
	r.Connect("c1")

	roomID, ok := r.Subscribe("c1", "/sub/chat/room/7", 100)
	require.True(t, ok)
	assert.Equal(t, int64(7), roomID)
	assert.Equal(t, []int64{100}, r.ActiveUsers(7))

	// A second user in the same room.
	r.Connect("c2")
	_, ok = r.Subscribe("c2", "/sub/chat/room/7", 200)
	require.True(t, ok)
	assert.ElementsMatch(t, []int64{100, 200}, r.ActiveUsers(7))
}

func TestRegistrySubscribeUnauthenticatedIgnored(t *testing.T) {
	r := NewRegistry(nil)
	r.Connect("c1")

	_, ok := r.Subscribe("c1", "/sub/chat/room/7", 0)
	assert.False(t, ok)
	assert.Empty(t, r.ActiveUsers(7))
}

func TestRegistrySubscribeBadDestinationIgnored(t *testing.T) {
	r := NewRegistry(nil)
	r.Connect("c1")

	_, ok := r.Subscribe("c1", "/sub/other/7", 100)
	assert.False(t, ok)
	_, ok = r.Subscribe("c1", "/sub/chat/room/-3", 100)
	assert.False(t, ok)
	assert.Empty(t, r.ActiveUsers(7))
}

func TestRegistryUnsubscribeRemovesPresence(t *testing.T) {
	r := NewRegistry(nil)
	r.Connect("c1")
	r.Subscribe("c1", "/sub/chat/room/7", 100)

	roomID, ok := r.Unsubscribe("c1", "/sub/chat/room/7", 100)
	require.True(t, ok)
	assert.Equal(t, int64(7), roomID)
	assert.Empty(t, r.ActiveUsers(7))

	// Unsubscribing again is a no-op.
	_, ok = r.Unsubscribe("c1", "/sub/chat/room/7", 100)
	assert.False(t, ok)
}

func TestRegistryDisconnectClearsAllSubscriptions(t *testing.T) {
	r := NewRegistry(nil)
	r.Connect("c1")
	r.Subscribe("c1", "/sub/chat/room/7", 100)
	r.Subscribe("c1", "/sub/chat/room/8", 100)

	r.Disconnect("c1")
	assert.Empty(t, r.ActiveUsers(7))
	assert.Empty(t, r.ActiveUsers(8))
	assert.Equal(t, 0, r.Connections())
}

func TestRegistryOnJoinFires(t *testing.T) {
	type join struct{ roomID, userID int64 }
	var joins []join
	r := NewRegistry(func(roomID, userID int64) {
		joins = append(joins, join{roomID, userID})
	})
	r.Connect("c1")

	r.Subscribe("c1", "/sub/chat/room/7", 100)
	r.Subscribe("c1", "/sub/chat/room/nonsense", 100)
	r.Subscribe("c1", "/sub/chat/room/8", 0)

	require.Len(t, joins, 1)
	assert.Equal(t, join{7, 100}, joins[0])
}

// The join callback must be able to call back into the registry without
// deadlocking.
func TestRegistryOnJoinReentrant(t *testing.T) {
	var r *Registry
	r = NewRegistry(func(roomID, userID int64) {
		r.ActiveUsers(roomID)
	})
	r.Connect("c1")

	done := make(chan struct{})
	go func() {
		r.Subscribe("c1", "/sub/chat/room/7", 100)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("subscribe deadlocked in join callback")
	}
}

func TestRegistrySweepReapsIdle(t *testing.T) {
	r := NewRegistry(nil)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	r.now = func() time.Time { return current }

	r.Connect("stale")
	r.Subscribe("stale", "/sub/chat/room/7", 100)

	current = base.Add(10 * time.Minute)
	r.Connect("fresh")
	r.Subscribe("fresh", "/sub/chat/room/7", 200)

	reaped := r.Sweep(5 * time.Minute)
	assert.Equal(t, 1, reaped)
	assert.Equal(t, 1, r.Connections())
	assert.Equal(t, []int64{200}, r.ActiveUsers(7))

	// Touch keeps the survivor alive through the next sweep.
	current = base.Add(20 * time.Minute)
	r.Touch("fresh")
	current = base.Add(24 * time.Minute)
	assert.Equal(t, 0, r.Sweep(5*time.Minute))
	assert.Equal(t, 1, r.Connections())
}

func TestRegistryConcurrentChurn(t *testing.T) {
	r := NewRegistry(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			connID := fmt.Sprintf("c%d", i)
			userID := int64(i + 1)
			dest := fmt.Sprintf("/sub/chat/room/%d", i%5+1)
			for j := 0; j < 100; j++ {
				r.Connect(connID)
				r.Subscribe(connID, dest, userID)
				r.Touch(connID)
				r.ActiveUsers(int64(i%5 + 1))
				r.Unsubscribe(connID, dest, userID)
				r.Disconnect(connID)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, r.Connections())
	for room := int64(1); room <= 5; room++ {
		assert.Empty(t, r.ActiveUsers(room), "room %d", room)
	}
}
