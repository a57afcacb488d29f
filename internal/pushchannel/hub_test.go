package pushchannel

import (
	"encoding/json"
	"testing"

	"github.com/hitoshi/feereminder/internal/model"
)

func decodeFrame(t *testing.T, frame []byte) Envelope {
	t.Helper()
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatalf("failed to decode frame %s: %v", frame, err)
	}
	return env
}

func receive(t *testing.T, c *client) Envelope {
	t.Helper()
	select {
	case frame := <-c.send:
		return decodeFrame(t, frame)
	default:
		t.Fatal("expected a queued frame")
		return Envelope{}
	}
}

func assertEmpty(t *testing.T, c *client) {
	t.Helper()
	select {
	case frame := <-c.send:
		t.Errorf("unexpected frame: %s", frame)
	default:
	}
}

// TestHub_Emit_DeliversToAllConnectionsOfUser は同一ユーザーの全接続にのみ配信されることを検証する。
func TestHub_Emit_DeliversToAllConnectionsOfUser(t *testing.T) {
	hub := NewHub(nil)
	tab1 := hub.register("user-1")
	tab2 := hub.register("user-1")
	other := hub.register("user-2")

	hub.Emit("user-1", model.EventWhatsAppStatus, model.StatusPayload{Ready: true})

	for _, c := range []*client{tab1, tab2} {
		env := receive(t, c)
		if env.Event != model.EventWhatsAppStatus {
			t.Errorf("event = %q, want %q", env.Event, model.EventWhatsAppStatus)
		}
		var payload model.StatusPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			t.Fatalf("failed to decode payload: %v", err)
		}
		if !payload.Ready {
			t.Error("payload.Ready should be true")
		}
	}
	assertEmpty(t, other)
}

func TestHub_Emit_NoConnection(t *testing.T) {
	hub := NewHub(nil)
	hub.Emit("nobody", model.EventQRCode, model.QRCodePayload{QRCodeDataURL: "data:image/png;base64,AA=="})
}

// TestHub_Emit_PayloadShape はイベントのJSON形式を検証する。
func TestHub_Emit_PayloadShape(t *testing.T) {
	hub := NewHub(nil)
	c := hub.register("user-1")

	hub.Emit("user-1", model.EventMessageStatus, model.MessageStatusPayload{
		ID:     "r1",
		Status: model.DeliveryStatusFailed,
		Error:  "session is not ready",
	})

	frame := <-c.send
	var raw struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	if err := json.Unmarshal(frame, &raw); err != nil {
		t.Fatalf("failed to decode frame: %v", err)
	}
	if raw.Event != "messageStatus" {
		t.Errorf("event = %q, want %q", raw.Event, "messageStatus")
	}
	data := raw.Data
	if data["id"] != "r1" || data["status"] != "failed" || data["error"] != "session is not ready" {
		t.Errorf("unexpected payload: %v", data)
	}
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub(nil)
	a := hub.register("user-1")
	b := hub.register("user-2")

	hub.Broadcast(model.EventWhatsAppStatus, model.StatusPayload{Ready: false})

	for _, c := range []*client{a, b} {
		if env := receive(t, c); env.Event != model.EventWhatsAppStatus {
			t.Errorf("event = %q, want %q", env.Event, model.EventWhatsAppStatus)
		}
	}
}

// TestHub_Emit_DropsWhenBufferFull は送信キューが詰まっていても送出側がブロックしないことを検証する。
func TestHub_Emit_DropsWhenBufferFull(t *testing.T) {
	hub := NewHub(nil)
	c := hub.register("user-1")

	for i := 0; i < sendBufferSize+10; i++ {
		hub.Emit("user-1", model.EventWhatsAppStatus, model.StatusPayload{Ready: true})
	}
	if got := len(c.send); got != sendBufferSize {
		t.Errorf("queued = %d, want %d", got, sendBufferSize)
	}
}

func TestHub_Unregister(t *testing.T) {
	hub := NewHub(nil)
	c1 := hub.register("user-1")
	c2 := hub.register("user-1")

	if got := hub.ConnectionCount("user-1"); got != 2 {
		t.Fatalf("ConnectionCount = %d, want 2", got)
	}
	hub.unregister(c1)
	if got := hub.ConnectionCount("user-1"); got != 1 {
		t.Errorf("ConnectionCount = %d, want 1", got)
	}
	hub.unregister(c2)
	hub.unregister(c2)
	if got := hub.ConnectionCount("user-1"); got != 0 {
		t.Errorf("ConnectionCount = %d, want 0", got)
	}
}

func TestHub_Emit_NilPayload(t *testing.T) {
	hub := NewHub(nil)
	c := hub.register("user-1")

	hub.Emit("user-1", "ping", nil)

	env := receive(t, c)
	if env.Event != "ping" || len(env.Data) != 0 {
		t.Errorf("unexpected envelope: %+v", env)
	}
}
