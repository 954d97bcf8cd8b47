package collab

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestHubGetOrCreateReturnsSameRoom(t *testing.T) {
	hub := NewHub(newMockStore(), nil, quietConfig())
	defer hub.Shutdown()

	r1 := hub.GetOrCreate("doc-1")
	r2 := hub.GetOrCreate("doc-1")
	if r1 != r2 {
		t.Error("Two lookups for the same document produced different rooms")
	}
	if hub.GetOrCreate("doc-2") == r1 {
		t.Error("Different documents share a room")
	}
}

func TestHubGetOrCreateConcurrent(t *testing.T) {
	hub := NewHub(newMockStore(), nil, quietConfig())
	defer hub.Shutdown()

	rooms := make([]*Room, 16)
	var wg sync.WaitGroup
	for i := range rooms {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rooms[i] = hub.GetOrCreate("doc-1")
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(rooms); i++ {
		if rooms[i] != rooms[0] {
			t.Fatal("Concurrent lookups produced more than one room")
		}
	}
}

func TestHubRemovesEvictedRoom(t *testing.T) {
	hub := NewHub(newMockStore(), nil, quietConfig())
	defer hub.Shutdown()

	room, sess, err := hub.Join("doc-1", "alice@example.com", "Alice")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	recv(t, sess)

	data, _ := json.Marshal(ClientMessage{Type: ClientLeave})
	room.Deliver(sess, data)

	select {
	case <-room.done:
	case <-time.After(2 * time.Second):
		t.Fatal("Room did not evict")
	}

	// Eviction must have removed the room; the next join gets a fresh one.
	deadline := time.Now().Add(2 * time.Second)
	for len(hub.Snapshot()) != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if stats := hub.Snapshot(); len(stats) != 0 {
		t.Fatalf("Evicted room still listed: %+v", stats)
	}

	room2, sess2, err := hub.Join("doc-1", "bob@example.com", "Bob")
	if err != nil {
		t.Fatalf("Rejoin failed: %v", err)
	}
	if room2 == room {
		t.Error("Rejoin reused the evicted room")
	}
	recv(t, sess2)
}

func TestHubJoinPreservesContentAcrossEviction(t *testing.T) {
	store := newMockStore()
	hub := NewHub(store, store, quietConfig())
	defer hub.Shutdown()

	room, sess, _ := hub.Join("doc-1", "alice@example.com", "Alice")
	recv(t, sess)

	data, _ := json.Marshal(opMessage(OpInsert, 0, nil, "persisted", 0))
	room.Deliver(sess, data)
	recv(t, sess)

	data, _ = json.Marshal(ClientMessage{Type: ClientLeave})
	room.Deliver(sess, data)
	<-room.done

	// Cold start of the replacement room restores the flushed content.
	_, sess2, err := hub.Join("doc-1", "bob@example.com", "Bob")
	if err != nil {
		t.Fatalf("Rejoin failed: %v", err)
	}
	welcome := recv(t, sess2).(WelcomeMessage)
	if welcome.Content != "persisted" {
		t.Errorf("Restored content mismatch: got %q", welcome.Content)
	}
	if welcome.Version != 0 {
		t.Errorf("A restored room starts again at version 0, got %d", welcome.Version)
	}
}

func TestHubSnapshotBusiestFirst(t *testing.T) {
	hub := NewHub(newMockStore(), nil, quietConfig())
	defer hub.Shutdown()

	_, s1, _ := hub.Join("quiet-doc", "alice@example.com", "Alice")
	recv(t, s1)
	_, s2, _ := hub.Join("busy-doc", "bob@example.com", "Bob")
	recv(t, s2)
	_, s3, _ := hub.Join("busy-doc", "carol@example.com", "Carol")
	recv(t, s3)
	recv(t, s2)

	stats := hub.Snapshot()
	if len(stats) != 2 {
		t.Fatalf("Expected 2 rooms, got %d", len(stats))
	}
	if stats[0].DocumentID != "busy-doc" || stats[0].Users != 2 {
		t.Errorf("Busiest room not first: %+v", stats)
	}
	if stats[1].DocumentID != "quiet-doc" || stats[1].Users != 1 {
		t.Errorf("Quiet room mismatch: %+v", stats)
	}
}

func TestHubShutdownFlushesAllRooms(t *testing.T) {
	store := newMockStore()
	hub := NewHub(store, store, quietConfig())

	room1, s1, _ := hub.Join("doc-1", "alice@example.com", "Alice")
	recv(t, s1)
	room2, s2, _ := hub.Join("doc-2", "bob@example.com", "Bob")
	recv(t, s2)

	data, _ := json.Marshal(opMessage(OpInsert, 0, nil, "one", 0))
	room1.Deliver(s1, data)
	recv(t, s1)
	data, _ = json.Marshal(opMessage(OpInsert, 0, nil, "two", 0))
	room2.Deliver(s2, data)
	recv(t, s2)

	hub.Shutdown()

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.docs["doc-1"].Content != "one" || store.docs["doc-2"].Content != "two" {
		t.Errorf("Shutdown did not flush all rooms: %+v", store.docs)
	}
}
