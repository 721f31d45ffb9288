package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/nodewatch/internal/infrastructure/config"
	"github.com/nerrad567/nodewatch/internal/supervisor"
)

func TestTopic(t *testing.T) {
	n := &Notifier{cfg: config.MQTTConfig{TopicPrefix: "nodewatch", ClientID: "worker-01"}}

	if got := n.topic("state"); got != "nodewatch/worker-01/state" {
		t.Errorf("topic(state) = %q, want nodewatch/worker-01/state", got)
	}
	if got := n.topic("status"); got != "nodewatch/worker-01/status" {
		t.Errorf("topic(status) = %q, want nodewatch/worker-01/status", got)
	}
}

func TestPublish_NotConnected(t *testing.T) {
	n := &Notifier{cfg: config.MQTTConfig{TopicPrefix: "nodewatch", ClientID: "x"}, logger: noopLogger{}}

	err := n.publish(n.topic("state"), []byte("{}"), true)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("publish() error = %v, want ErrNotConnected", err)
	}
}

func TestRecord_NotConnectedDoesNotPanic(t *testing.T) {
	n := &Notifier{cfg: config.MQTTConfig{TopicPrefix: "nodewatch", ClientID: "x"}, logger: noopLogger{}}

	// Must swallow the failure silently.
	n.Record(supervisor.Event{Time: time.Now(), State: supervisor.StateRunning})
}

func TestClose_NilClient(t *testing.T) {
	n := &Notifier{logger: noopLogger{}}
	if err := n.Close(); err != nil {
		t.Errorf("Close() error = %v, want nil", err)
	}
}

func TestStatePayload_JSONShape(t *testing.T) {
	payload, err := json.Marshal(statePayload{
		State:        "backoff",
		Detail:       "log idle for 15m0s",
		RestartCount: 2,
		UptimeSecs:   901.5,
		Timestamp:    "2026-01-02T03:04:05Z",
	})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded["state"] != "backoff" {
		t.Errorf("state = %v, want backoff", decoded["state"])
	}
	if decoded["restart_count"] != float64(2) {
		t.Errorf("restart_count = %v, want 2", decoded["restart_count"])
	}
	if _, ok := decoded["ts"]; !ok {
		t.Error("payload missing ts field")
	}
}

func TestStatePayload_OmitsEmptyDetail(t *testing.T) {
	payload, err := json.Marshal(statePayload{State: "starting", Timestamp: "2026-01-02T03:04:05Z"})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatal(err)
	}
	if _, ok := decoded["detail"]; ok {
		t.Error("empty detail should be omitted from payload")
	}
}
