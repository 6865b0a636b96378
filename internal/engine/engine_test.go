package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ashdown-av/viewlink-core/internal/conn"
)

func TestEngine_ConnectSharesSessionPerEndpoint(t *testing.T) {
	e := New(Config{})
	defer e.Close()

	dev := Device{Endpoint: conn.Endpoint{ID: "hall", Host: "10.0.0.5", Port: 4352, Class: 1}}
	first, err := e.Connect(dev)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	// Same listener, different ID: the endpoint identity wins.
	dup := Device{Endpoint: conn.Endpoint{ID: "hall-alias", Host: "10.0.0.5", Port: 4352, Class: 1}}
	second, err := e.Connect(dup)
	if err != nil {
		t.Fatalf("Connect() dup error = %v", err)
	}
	if first != second {
		t.Error("same endpoint should share one session")
	}

	other, err := e.Connect(Device{Endpoint: conn.Endpoint{ID: "lobby", Host: "10.0.0.6", Port: 4352, Class: 1}})
	if err != nil {
		t.Fatalf("Connect() other error = %v", err)
	}
	if other == first {
		t.Error("distinct endpoints must not share a session")
	}
	if got := len(e.Sessions()); got != 2 {
		t.Errorf("Sessions() = %d, want 2", got)
	}
}

func TestEngine_SessionLookupByID(t *testing.T) {
	e := New(Config{})
	defer e.Close()

	if _, err := e.Connect(Device{Endpoint: conn.Endpoint{ID: "hall", Host: "10.0.0.5", Port: 4352, Class: 1}}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if s := e.Session("hall"); s == nil || s.DeviceID() != "hall" {
		t.Errorf("Session(hall) = %v, want the registered session", s)
	}
	if s := e.Session("nope"); s != nil {
		t.Errorf("Session(nope) = %v, want nil", s)
	}
}

func TestEngine_UnknownDialect(t *testing.T) {
	e := New(Config{})
	defer e.Close()

	_, err := e.Connect(Device{
		Endpoint: conn.Endpoint{ID: "hall", Host: "10.0.0.5", Port: 4352, Class: 1},
		Dialect:  "does-not-exist",
	})
	if err == nil {
		t.Fatal("Connect() with unknown dialect should fail")
	}
}

func TestEngine_ConnectAfterClose(t *testing.T) {
	e := New(Config{})
	if err := e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	_, err := e.Connect(Device{Endpoint: conn.Endpoint{ID: "hall", Host: "10.0.0.5", Port: 4352, Class: 1}})
	if !errors.Is(err, ErrEngineClosed) {
		t.Errorf("Connect() after close error = %v, want ErrEngineClosed", err)
	}
	// Idempotent.
	if err := e.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestEngine_EventStream(t *testing.T) {
	e := New(Config{})
	defer e.Close()

	events, cancel := e.Subscribe(8)
	defer cancel()

	dialer := &pipeDialer{greeting: "VLINK 0\r", handler: statusHandler}
	dev := Device{Endpoint: conn.Endpoint{ID: "hall", Host: "10.0.0.5", Port: 4352, Class: 1}}
	s, err := newSession(dev, e.cfg, e.events.publish, nil, nil)
	if err != nil {
		t.Fatalf("newSession() error = %v", err)
	}
	s.manager.SetDialer(dialer)
	s.start()
	defer s.Close()

	if _, err := s.PowerOn(context.Background()); err != nil {
		t.Fatalf("PowerOn() error = %v", err)
	}

	// Expect a connection and a power transition event, in some order.
	got := map[EventType]bool{}
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-events:
			got[ev.Type] = true
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %v", got)
		}
	}
	if !got[EventConnectionRestored] || !got[EventPowerTransition] {
		t.Errorf("events = %v, want connection_restored and power_transition", got)
	}
}

func TestEngine_SubscribeCancelStopsDelivery(t *testing.T) {
	e := New(Config{})
	defer e.Close()

	events, cancel := e.Subscribe(1)
	cancel()

	// The channel is closed; publish must not panic.
	e.events.publish(newEvent("hall", EventConnectionLost, "", ""))
	if _, ok := <-events; ok {
		t.Error("cancelled subscription should deliver nothing")
	}
}
