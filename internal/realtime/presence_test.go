package realtime

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	v1 "wren/contracts/realtime/v1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recvType drains a client's send queue until an envelope of the wanted type
// appears, failing when the queue empties first.
func recvType(t *testing.T, c *Client, typ string) v1.Envelope {
	t.Helper()
	for {
		select {
		case env := <-c.Send:
			if env.Type == typ {
				return env
			}
		default:
			t.Fatalf("no %q envelope queued for session %s", typ, c.SessionID)
			return v1.Envelope{}
		}
	}
}

func statusPayload(t *testing.T, env v1.Envelope) v1.UserStatusUpdatePayload {
	t.Helper()
	var p v1.UserStatusUpdatePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("decode status payload: %v", err)
	}
	return p
}

func TestRegistry_FirstHandleEmitsOnline(t *testing.T) {
	r := NewRegistry(testLogger())

	c := NewClient("sess-1", 8)
	r.Register("alice", c)

	if got := r.StatusOf("alice"); got != v1.StatusOnline {
		t.Fatalf("expected alice online, got %q", got)
	}

	p := statusPayload(t, recvType(t, c, v1.TypeUserStatusUpdate))
	if p.UserID != "alice" || p.Status != v1.StatusOnline {
		t.Fatalf("unexpected edge: %+v", p)
	}
}

func TestRegistry_SecondHandleNoDuplicateEdge(t *testing.T) {
	r := NewRegistry(testLogger())

	watcher := NewClient("sess-w", 8)
	r.Register("bob", watcher)
	recvType(t, watcher, v1.TypeUserStatusUpdate) // bob online

	tab1 := NewClient("sess-1", 8)
	tab2 := NewClient("sess-2", 8)
	r.Register("alice", tab1)
	recvType(t, watcher, v1.TypeUserStatusUpdate) // alice online
	r.Register("alice", tab2)

	select {
	case env := <-watcher.Send:
		t.Fatalf("unexpected envelope after second handle: %+v", env)
	default:
	}
}

func TestRegistry_LastHandleEmitsOffline(t *testing.T) {
	r := NewRegistry(testLogger())

	watcher := NewClient("sess-w", 8)
	r.Register("bob", watcher)
	recvType(t, watcher, v1.TypeUserStatusUpdate)

	tab1 := NewClient("sess-1", 8)
	tab2 := NewClient("sess-2", 8)
	r.Register("alice", tab1)
	r.Register("alice", tab2)
	recvType(t, watcher, v1.TypeUserStatusUpdate)

	r.Deregister("sess-1")
	select {
	case env := <-watcher.Send:
		t.Fatalf("offline edge before last handle removed: %+v", env)
	default:
	}
	if got := r.StatusOf("alice"); got != v1.StatusOnline {
		t.Fatalf("expected alice still online, got %q", got)
	}

	r.Deregister("sess-2")
	p := statusPayload(t, recvType(t, watcher, v1.TypeUserStatusUpdate))
	if p.UserID != "alice" || p.Status != v1.StatusOffline {
		t.Fatalf("unexpected edge: %+v", p)
	}
	if got := r.StatusOf("alice"); got != v1.StatusOffline {
		t.Fatalf("expected alice offline, got %q", got)
	}
}

func TestRegistry_DeregisterUnknownIsNoOp(t *testing.T) {
	r := NewRegistry(testLogger())

	watcher := NewClient("sess-w", 8)
	r.Register("bob", watcher)
	recvType(t, watcher, v1.TypeUserStatusUpdate)

	r.Deregister("never-registered")
	r.Deregister("")

	select {
	case env := <-watcher.Send:
		t.Fatalf("unexpected envelope: %+v", env)
	default:
	}
}

func TestRegistry_UserOf(t *testing.T) {
	r := NewRegistry(testLogger())

	c := NewClient("sess-1", 8)
	r.Register("alice", c)

	userID, ok := r.UserOf("sess-1")
	if !ok || userID != "alice" {
		t.Fatalf("expected alice, got %q ok=%v", userID, ok)
	}

	if _, ok := r.UserOf("sess-2"); ok {
		t.Fatalf("expected unknown session")
	}

	r.Deregister("sess-1")
	if _, ok := r.UserOf("sess-1"); ok {
		t.Fatalf("expected session gone after deregister")
	}
}

func TestRegistry_StatusOfUnknownIsOffline(t *testing.T) {
	r := NewRegistry(testLogger())
	if got := r.StatusOf("ghost"); got != v1.StatusOffline {
		t.Fatalf("expected offline, got %q", got)
	}
}
