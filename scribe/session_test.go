package scribe

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"voxd/recovery"
)

func fastPolicies() map[recovery.Kind]recovery.Policy {
	return map[recovery.Kind]recovery.Policy{
		recovery.ConnectionFailed: {MaxRetries: 3, BaseDelay: time.Millisecond},
		recovery.ConnectionLost:   {MaxRetries: 5, BaseDelay: time.Millisecond},
		recovery.AuthFailed:       {Message: "authentication failed"},
	}
}

func testSession(t *testing.T, d Dialer) *Session {
	t.Helper()
	s := NewSession(d, Config{
		Endpoint:    "wss://example.invalid/stream",
		Model:       "scribe_v1",
		PartialIdle: 40 * time.Millisecond,
	}, recovery.NewEngine(fastPolicies()))
	t.Cleanup(s.Stop)
	return s
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", s.State(), want)
}

func waitEvent(t *testing.T, s *Session, kind EventKind) Event {
	t.Helper()
	for {
		select {
		case ev := <-s.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no %v event", kind)
		}
	}
}

func TestConnectHandshake(t *testing.T) {
	conn := NewFakeConn()
	s := testSession(t, NewFakeDialer(conn))

	if err := s.Connect(context.Background(), Credential{APIKey: "k"}); err != nil {
		t.Fatal(err)
	}
	if s.State() != Connected {
		t.Fatalf("state after connect = %v, want Connected", s.State())
	}

	// First envelope on the wire is the configure message.
	types := conn.SentTypes()
	if len(types) == 0 || types[0] != "configure" {
		t.Fatalf("sent types = %v, want configure first", types)
	}

	conn.ServerSessionStarted("abc")
	waitState(t, s, Listening)

	ev := waitEvent(t, s, EventSessionStarted)
	if ev.SessionID != "abc" {
		t.Errorf("session id = %q, want abc", ev.SessionID)
	}
	if s.SessionID() != "abc" {
		t.Errorf("SessionID() = %q, want abc", s.SessionID())
	}
}

func TestConnectRejectedWhileActive(t *testing.T) {
	conn := NewFakeConn()
	s := testSession(t, NewFakeDialer(conn))

	if err := s.Connect(context.Background(), Credential{}); err != nil {
		t.Fatal(err)
	}
	if err := s.Connect(context.Background(), Credential{}); !errors.Is(err, ErrActive) {
		t.Fatalf("second connect: got %v, want ErrActive", err)
	}
}

func TestConnectRetriesThenSucceeds(t *testing.T) {
	conn := NewFakeConn()
	d := NewFakeDialer(conn)
	d.FailFirst = 2
	s := testSession(t, d)

	if err := s.Connect(context.Background(), Credential{}); err != nil {
		t.Fatal(err)
	}
	if d.Dials() != 3 {
		t.Errorf("dials = %d, want 3", d.Dials())
	}
}

func TestConnectExhaustsBudget(t *testing.T) {
	d := NewFakeDialer()
	d.FailFirst = 100
	s := testSession(t, d)

	err := s.Connect(context.Background(), Credential{})
	if err == nil {
		t.Fatal("expected error after budget exhaustion")
	}
	// max 3 retries -> 4 total attempts before giving up
	if d.Dials() != 4 {
		t.Errorf("dials = %d, want 4", d.Dials())
	}
	if s.State() != Errored {
		t.Errorf("state = %v, want Errored", s.State())
	}
}

func TestConnectAuthFailureNoRetry(t *testing.T) {
	d := NewFakeDialer()
	d.FailFirst = 100
	d.DialErr = fmt.Errorf("%w: 401", ErrAuth)
	s := testSession(t, d)

	err := s.Connect(context.Background(), Credential{APIKey: "bad"})
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("got %v, want ErrAuth", err)
	}
	if d.Dials() != 1 {
		t.Errorf("dials = %d, want 1 (no retry on auth failure)", d.Dials())
	}
}

func TestConnectCancelDuringBackoff(t *testing.T) {
	d := NewFakeDialer()
	d.FailFirst = 100
	s := NewSession(d, Config{}, recovery.NewEngine(map[recovery.Kind]recovery.Policy{
		recovery.ConnectionFailed: {MaxRetries: 3, BaseDelay: 10 * time.Second},
	}))
	t.Cleanup(s.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Connect(ctx, Credential{}) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected error from cancelled connect")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancel did not interrupt backoff sleep")
	}
}

func TestSendAudioFailsFastWhenDown(t *testing.T) {
	s := testSession(t, NewFakeDialer())

	if err := s.SendAudio(0, []byte{0, 0}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("got %v, want ErrNotConnected", err)
	}
}

func TestSendAudioReachesWire(t *testing.T) {
	conn := NewFakeConn()
	s := testSession(t, NewFakeDialer(conn))

	if err := s.Connect(context.Background(), Credential{}); err != nil {
		t.Fatal(err)
	}
	conn.ServerSessionStarted("abc")
	waitState(t, s, Listening)

	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	if err := s.SendAudio(7, pcm); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		types := conn.SentTypes()
		if len(types) >= 2 && types[1] == "input_audio_chunk" {
			var m struct {
				AudioBase64 string `json:"audio_base_64"`
			}
			if err := json.Unmarshal(conn.Sent()[1], &m); err != nil {
				t.Fatal(err)
			}
			got, err := base64.StdEncoding.DecodeString(m.AudioBase64)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != string(pcm) {
				t.Fatalf("payload %v, want %v", got, pcm)
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("audio chunk never sent")
}

func TestPartialEntersTranscribingThenIdlesBack(t *testing.T) {
	conn := NewFakeConn()
	s := testSession(t, NewFakeDialer(conn))

	if err := s.Connect(context.Background(), Credential{}); err != nil {
		t.Fatal(err)
	}
	conn.ServerSessionStarted("abc")
	waitState(t, s, Listening)

	conn.ServerPartial("hel")
	waitState(t, s, Transcribing)
	if ev := waitEvent(t, s, EventPartial); ev.Text != "hel" {
		t.Errorf("partial text = %q, want hel", ev.Text)
	}
	if s.Partial() != "hel" {
		t.Errorf("Partial() = %q, want hel", s.Partial())
	}

	// A newer partial replaces the preview.
	conn.ServerPartial("hello")
	waitEvent(t, s, EventPartial)
	if s.Partial() != "hello" {
		t.Errorf("Partial() = %q, want hello", s.Partial())
	}

	// No further partials within the cadence: back to Listening.
	waitState(t, s, Listening)
}

func TestCommittedClearsPartial(t *testing.T) {
	conn := NewFakeConn()
	s := testSession(t, NewFakeDialer(conn))

	if err := s.Connect(context.Background(), Credential{}); err != nil {
		t.Fatal(err)
	}
	conn.ServerSessionStarted("abc")
	waitState(t, s, Listening)

	conn.ServerPartial("hello wor")
	waitEvent(t, s, EventPartial)
	conn.ServerCommitted("hello world", 0.93)

	ev := waitEvent(t, s, EventCommitted)
	if ev.Text != "hello world" {
		t.Errorf("committed text = %q", ev.Text)
	}
	if ev.Confidence != 0.93 {
		t.Errorf("confidence = %v, want 0.93", ev.Confidence)
	}
	if s.Partial() != "" {
		t.Errorf("partial not cleared after commit: %q", s.Partial())
	}
}

func TestTransportDropReconnects(t *testing.T) {
	first := NewFakeConn()
	second := NewFakeConn()
	d := NewFakeDialer(first, second)
	s := testSession(t, d)

	if err := s.Connect(context.Background(), Credential{}); err != nil {
		t.Fatal(err)
	}
	first.ServerSessionStarted("abc")
	waitState(t, s, Listening)

	first.Drop()
	waitState(t, s, Connected) // redialed and reconfigured

	if s.Reconnects() != 1 {
		t.Errorf("reconnects = %d, want 1", s.Reconnects())
	}
	if types := second.SentTypes(); len(types) == 0 || types[0] != "configure" {
		t.Errorf("reconnect did not reconfigure: %v", types)
	}

	// The refreshed stream acks again and audio flows.
	second.ServerSessionStarted("def")
	waitState(t, s, Listening)
	if err := s.SendAudio(1, []byte{0, 0}); err != nil {
		t.Fatal(err)
	}
}

func TestReconnectBudgetExhausted(t *testing.T) {
	conn := NewFakeConn()
	d := NewFakeDialer(conn) // only one conn; redials fail
	s := testSession(t, d)

	if err := s.Connect(context.Background(), Credential{}); err != nil {
		t.Fatal(err)
	}
	conn.ServerSessionStarted("abc")
	waitState(t, s, Listening)

	conn.Drop()
	waitState(t, s, Errored)

	if err := s.SendAudio(0, []byte{0, 0}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("send in Errored: got %v, want ErrNotConnected", err)
	}

	// Stop acknowledges the error state back to Disconnected.
	s.Stop()
	if s.State() != Disconnected {
		t.Errorf("state after stop = %v, want Disconnected", s.State())
	}
}

func TestInjectingTransitions(t *testing.T) {
	conn := NewFakeConn()
	s := testSession(t, NewFakeDialer(conn))

	if err := s.Connect(context.Background(), Credential{}); err != nil {
		t.Fatal(err)
	}
	conn.ServerSessionStarted("abc")
	waitState(t, s, Listening)

	s.BeginInjecting()
	if s.State() != Injecting {
		t.Fatalf("state = %v, want Injecting", s.State())
	}
	// Streaming continues during injection.
	if err := s.SendAudio(0, []byte{0, 0}); err != nil {
		t.Errorf("send during injection failed: %v", err)
	}
	s.EndInjecting()
	if s.State() != Listening {
		t.Fatalf("state = %v, want Listening", s.State())
	}
}

func TestStopDuringReconnectBackoff(t *testing.T) {
	conn := NewFakeConn()
	d := NewFakeDialer(conn)
	s := NewSession(d, Config{}, recovery.NewEngine(map[recovery.Kind]recovery.Policy{
		recovery.ConnectionLost: {MaxRetries: 5, BaseDelay: 10 * time.Second},
	}))

	if err := s.Connect(context.Background(), Credential{}); err != nil {
		t.Fatal(err)
	}
	conn.Drop()
	waitState(t, s, Reconnecting)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not cancel reconnect backoff")
	}
	if s.State() != Disconnected {
		t.Errorf("state = %v, want Disconnected", s.State())
	}
}
