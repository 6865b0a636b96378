//go:build integration

package mqtt

import (
	"encoding/json"
	"testing"
	"time"
)

// These tests exercise the full command/result flow a controller would
// drive against the bridge: publish a command, answer on the per-request
// result topic, observe retained health. They need a live broker:
//
//	go test -tags integration ./internal/infrastructure/mqtt/
func integrationClient(t *testing.T) *Client {
	t.Helper()
	client, err := Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// TestCommandResultFlow plays both sides of a command exchange: a
// responder subscribed to all command topics answers each request on
// its result topic, the way the bridge does.
func TestCommandResultFlow(t *testing.T) {
	responder := integrationClient(t)
	controller := integrationClient(t)

	// Responder: decode the command, publish the outcome.
	err := responder.Subscribe(Topics{}.AllDeviceCommands(), 1, func(topic string, payload []byte) error {
		var cmd struct {
			RequestID string `json:"request_id"`
			Command   string `json:"command"`
		}
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return err
		}
		result := []byte(`{"request_id":"` + cmd.RequestID + `","success":true}`)
		return responder.Publish(Topics{}.DeviceResult("projector-hall", cmd.RequestID), result, 1, false)
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	results := make(chan []byte, 1)
	err = controller.Subscribe(Topics{}.DeviceResult("projector-hall", "req-42"), 1, func(_ string, payload []byte) error {
		results <- payload
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	cmd := []byte(`{"request_id":"req-42","command":"power_on"}`)
	if err := controller.Publish(Topics{}.DeviceCommand("projector-hall"), cmd, 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case payload := <-results:
		var result struct {
			RequestID string `json:"request_id"`
			Success   bool   `json:"success"`
		}
		if err := json.Unmarshal(payload, &result); err != nil {
			t.Fatalf("result payload is not valid JSON: %v", err)
		}
		if result.RequestID != "req-42" || !result.Success {
			t.Errorf("result = %+v, want request_id=req-42 success=true", result)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("command result never arrived")
	}
}

// TestRetainedHealthSurvivesPublisher verifies a health snapshot
// outlives the client that published it, so dashboards reconnecting
// after the service restarts still see the last known health.
func TestRetainedHealthSurvivesPublisher(t *testing.T) {
	pub := integrationClient(t)

	topic := Topics{}.DeviceHealth("display-lobby")
	snapshot := []byte(`{"device_id":"display-lobby","connected":true}`)
	if err := pub.Publish(topic, snapshot, 1, true); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	pub.Close()

	sub := integrationClient(t)
	t.Cleanup(func() { sub.Publish(topic, nil, 1, true) })

	received := make(chan []byte, 1)
	err := sub.Subscribe(topic, 1, func(_ string, payload []byte) error {
		received <- payload
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case payload := <-received:
		if string(payload) != string(snapshot) {
			t.Errorf("retained health = %q, want %q", payload, snapshot)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("retained health snapshot never delivered")
	}
}

// TestGracefulShutdownPresence verifies Close publishes the clean
// shutdown status rather than leaving the LWT to fire.
func TestGracefulShutdownPresence(t *testing.T) {
	service := integrationClient(t)
	watcher := integrationClient(t)

	statuses := make(chan string, 4)
	err := watcher.Subscribe(Topics{}.ServiceStatus(), 1, func(_ string, payload []byte) error {
		var msg presenceMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return err
		}
		statuses <- msg.Status
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	service.Close()

	deadline := time.After(10 * time.Second)
	for {
		select {
		case status := <-statuses:
			if status == presenceShutdown {
				return
			}
		case <-deadline:
			t.Fatal("graceful shutdown presence never observed")
		}
	}
}
