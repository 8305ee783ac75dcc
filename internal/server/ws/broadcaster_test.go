package ws_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/abi50/pida/internal/model"
	"github.com/abi50/pida/internal/server/ws"
)

func TestBroadcaster_RegisterIncrementsClientCount(t *testing.T) {
	bc := ws.NewBroadcaster(nil, 4)
	bc.Register("c1")
	bc.Register("c2")

	if got := bc.ClientCount(); got != 2 {
		t.Fatalf("ClientCount = %d, want 2", got)
	}
}

func TestBroadcaster_UnregisterClosesSendChannel(t *testing.T) {
	bc := ws.NewBroadcaster(nil, 4)
	client := bc.Register("c1")
	bc.Unregister("c1")

	if bc.ClientCount() != 0 {
		t.Fatalf("ClientCount after Unregister = %d, want 0", bc.ClientCount())
	}
	if _, ok := <-client.Send(); ok {
		t.Fatal("Send channel should be closed after Unregister")
	}
}

func TestBroadcaster_BroadcastEventDeliversToAllClients(t *testing.T) {
	bc := ws.NewBroadcaster(nil, 4)
	c1 := bc.Register("c1")
	c2 := bc.Register("c2")

	event := model.NewEvent(model.SourceFolderMonitor, model.CategoryFileSystem, model.ActionFileCreated)
	bc.BroadcastEvent(event)

	for _, c := range []*ws.Client{c1, c2} {
		select {
		case raw := <-c.Send():
			var msg ws.EventMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				t.Fatalf("unmarshal broadcast message: %v", err)
			}
			if msg.Type != "event" || msg.Data.ID != event.ID {
				t.Fatalf("broadcast message = %+v, want type=event id=%s", msg, event.ID)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for broadcast event")
		}
	}
}

func TestBroadcaster_DropsWhenClientBufferFull(t *testing.T) {
	bc := ws.NewBroadcaster(nil, 1)
	client := bc.Register("c1")

	bc.BroadcastEvent(model.NewEvent(model.SourceFolderMonitor, model.CategoryFileSystem, model.ActionFileCreated))
	bc.BroadcastEvent(model.NewEvent(model.SourceFolderMonitor, model.CategoryFileSystem, model.ActionFileModified))

	if client.Dropped.Load() == 0 {
		t.Fatal("expected at least one dropped message when the client buffer is full")
	}
}

func TestBroadcaster_CloseUnregistersEveryClient(t *testing.T) {
	bc := ws.NewBroadcaster(nil, 4)
	bc.Register("c1")
	bc.Register("c2")
	bc.Close()
	bc.Close() // idempotent

	if got := bc.ClientCount(); got != 0 {
		t.Fatalf("ClientCount after Close = %d, want 0", got)
	}
}

func TestBroadcaster_RegisterAfterCloseReturnsClosedClient(t *testing.T) {
	bc := ws.NewBroadcaster(nil, 4)
	bc.Close()
	client := bc.Register("late")

	if _, ok := <-client.Send(); ok {
		t.Fatal("a client registered after Close should have an already-closed Send channel")
	}
}
