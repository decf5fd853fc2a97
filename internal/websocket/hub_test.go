package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/comfyforge/comfy-mcp/internal/model"
)

func receive(t *testing.T, ch chan []byte) []byte {
	t.Helper()
	select {
	case payload, ok := <-ch:
		if !ok {
			t.Fatal("channel closed before a message arrived")
		}
		return payload
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a message")
	}
	return nil
}

func TestHubBroadcastReachesPromptWatchers(t *testing.T) {
	h := NewHub()
	go h.Run()

	watcher := &Client{PromptID: "prompt-1", Send: make(chan []byte, 4)}
	other := &Client{PromptID: "prompt-2", Send: make(chan []byte, 4)}
	h.Register(watcher)
	h.Register(other)
	defer h.Unregister(other)

	h.BroadcastProgress("prompt-1", 3, 10, model.JobStatusRunning, "Polling...")

	var msg model.WSProgressMessage
	if err := json.Unmarshal(receive(t, watcher.Send), &msg); err != nil {
		t.Fatalf("decode progress: %v", err)
	}
	if msg.Type != model.WSMessageTypeProgress || msg.PromptID != "prompt-1" {
		t.Errorf("unexpected envelope: %+v", msg)
	}
	if msg.Attempt != 3 || msg.MaxAttempts != 10 {
		t.Errorf("attempt budget not carried: %+v", msg)
	}

	select {
	case payload := <-other.Send:
		t.Errorf("watcher of another prompt received %s", payload)
	default:
	}
	h.Unregister(watcher)
}

func TestHubDropsSlowConsumer(t *testing.T) {
	h := NewHub()
	go h.Run()

	fast := &Client{PromptID: "prompt-1", Send: make(chan []byte, 4)}
	slow := &Client{PromptID: "prompt-1", Send: make(chan []byte)}
	h.Register(fast)
	h.Register(slow)

	h.BroadcastError("prompt-1", "WORKFLOW_FAILED", "node 4 (KSampler): boom")

	var msg model.WSErrorMessage
	if err := json.Unmarshal(receive(t, fast.Send), &msg); err != nil {
		t.Fatalf("decode error message: %v", err)
	}
	if msg.Error.Code != "WORKFLOW_FAILED" {
		t.Errorf("code = %q", msg.Error.Code)
	}

	// The slow watcher's channel is closed instead of stalling the loop.
	select {
	case _, ok := <-slow.Send:
		if ok {
			t.Error("expected slow watcher channel to be closed, got a message")
		}
	case <-time.After(2 * time.Second):
		t.Error("slow watcher channel was never closed")
	}
	h.Unregister(fast)
}
