package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestMarshalInjectsType(t *testing.T) {
	msg := New(&ActorUpdate{Actor: ActorLike{ID: "a1"}})
	data, err := Marshal(msg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var env struct {
		ID      string `json:"id"`
		Payload struct {
			Type  string `json:"type"`
			Actor struct {
				ID string `json:"id"`
			} `json:"actor"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if env.ID == "" {
		t.Error("message id should be assigned")
	}
	if env.Payload.Type != TypeActorUpdate {
		t.Errorf("payload type = %q, want %q", env.Payload.Type, TypeActorUpdate)
	}
	if env.Payload.Actor.ID != "a1" {
		t.Errorf("actor id = %q, want a1", env.Payload.Actor.ID)
	}
}

func TestMarshalEmptyPayload(t *testing.T) {
	data, err := Marshal(New(&Handshake{}))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"type":"handshake"`) {
		t.Errorf("missing type tag in %s", data)
	}
	msg, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if _, ok := msg.Payload.(*Handshake); !ok {
		t.Errorf("payload = %T, want *Handshake", msg.Payload)
	}
}

func TestUnmarshalReply(t *testing.T) {
	req := New(&Heartbeat{ServerTime: 12345})
	reply := NewReply(req, &HeartbeatReply{ServerTime: 12399})

	data, err := Marshal(reply)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !got.IsReply() {
		t.Fatal("reply should report IsReply")
	}
	if got.ReplyToID != req.ID {
		t.Errorf("replyToId = %q, want %q", got.ReplyToID, req.ID)
	}
	hb, ok := got.Payload.(*HeartbeatReply)
	if !ok {
		t.Fatalf("payload = %T, want *HeartbeatReply", got.Payload)
	}
	if hb.ServerTime != 12399 {
		t.Errorf("serverTime = %d, want 12399", hb.ServerTime)
	}
}

func TestUnmarshalUnknownType(t *testing.T) {
	_, err := Unmarshal([]byte(`{"id":"1","payload":{"type":"not-a-thing"}}`))
	if err == nil {
		t.Fatal("unknown payload type should fail, not guess")
	}
}

func TestUnmarshalMissingType(t *testing.T) {
	_, err := Unmarshal([]byte(`{"id":"1","payload":{"actor":{"id":"a"}}}`))
	if err == nil {
		t.Fatal("payload without type should fail")
	}
}

func TestUnmarshalNoPayload(t *testing.T) {
	_, err := Unmarshal([]byte(`{"id":"1"}`))
	if err == nil {
		t.Fatal("envelope without payload should fail")
	}
}

func TestRegistryRoundTripAllTypes(t *testing.T) {
	for _, typ := range Types() {
		payload, ok := NewPayload(typ)
		if !ok {
			t.Fatalf("no factory for %q", typ)
		}
		if payload.PayloadType() != typ {
			t.Errorf("factory for %q yields PayloadType %q", typ, payload.PayloadType())
		}
		data, err := Marshal(New(payload))
		if err != nil {
			t.Fatalf("marshal %q: %v", typ, err)
		}
		decoded, err := Unmarshal(data)
		if err != nil {
			t.Fatalf("unmarshal %q: %v", typ, err)
		}
		if decoded.Type() != typ {
			t.Errorf("round trip of %q came back as %q", typ, decoded.Type())
		}
	}
}

func TestAwaitingResponseSurvivesRoundTrip(t *testing.T) {
	msg := New(&LoadAssets{ContainerID: "c1"})
	msg.AwaitingResponse = true
	data, err := Marshal(msg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !got.AwaitingResponse {
		t.Error("awaitingResponse flag lost in transit")
	}
}
