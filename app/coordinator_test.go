package app

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"voxd/audio"
	"voxd/config"
	"voxd/inject"
	"voxd/pipeline"
	"voxd/recovery"
	"voxd/scribe"
)

type fixture struct {
	co     *Coordinator
	dialer *scribe.FakeDialer
	conn   *scribe.FakeConn
	typer  *inject.FakeTyper
	clip   *inject.FakeClipboard
	wins   *inject.FakeWindows
	disp   *inject.Dispatcher
}

// newFixture wires a coordinator against fakes. samples feed the fake capture
// device at 16 kHz (no resampling, so test audio maps 1:1 onto batches).
func newFixture(t *testing.T, samples []float32) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Audio.SampleRate = 16000
	cfg.Audio.RingSeconds = 1
	store := config.NewStore(cfg)

	conn := scribe.NewFakeConn()
	dialer := scribe.NewFakeDialer(conn)
	typer := inject.NewFakeTyper()
	clip := inject.NewFakeClipboard("")
	wins := inject.NewFakeWindows()
	disp := inject.NewDispatcher(typer, clip, wins, inject.Config{})

	co := NewCoordinator(store, audio.NewFakeContext(samples, 16000, false),
		dialer, disp, recovery.NewEngine(nil))

	return &fixture{co: co, dialer: dialer, conn: conn, typer: typer, clip: clip, wins: wins, disp: disp}
}

func (f *fixture) activate(t *testing.T) {
	t.Helper()
	if err := f.co.Activate(context.Background(), scribe.Credential{APIKey: "k"}); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	t.Cleanup(f.co.Deactivate)
}

func waitEvent(t *testing.T, co *Coordinator, kind EventKind) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-co.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %v event within 3s", kind)
		}
	}
}

func waitCond(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestActivateRejectsConcurrent(t *testing.T) {
	f := newFixture(t, nil)
	f.activate(t)

	if err := f.co.Activate(context.Background(), scribe.Credential{}); !errors.Is(err, ErrActive) {
		t.Fatalf("second Activate = %v, want ErrActive", err)
	}

	f.co.Deactivate()
	if got := f.co.State(); got != Idle {
		t.Fatalf("state after Deactivate = %v, want Idle", got)
	}

	// A fresh activation after deactivating is allowed.
	f.dialer.Queue(scribe.NewFakeConn())
	if err := f.co.Activate(context.Background(), scribe.Credential{}); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	f.co.Deactivate()
}

func TestActivationReachesListening(t *testing.T) {
	f := newFixture(t, nil)
	f.activate(t)

	sawConnecting := false
	deadline := time.After(3 * time.Second)
	for {
		var ev Event
		select {
		case ev = <-f.co.Events():
		case <-deadline:
			t.Fatal("never reached Listening")
		}
		if ev.Kind != EventState {
			continue
		}
		if ev.To == Connecting {
			sawConnecting = true
			f.conn.ServerSessionStarted("sess-1")
		}
		if ev.To == Listening {
			if !sawConnecting {
				t.Error("reached Listening without passing Connecting")
			}
			return
		}
	}
}

func TestCommittedTriggersExactlyOneInjection(t *testing.T) {
	f := newFixture(t, nil)
	f.activate(t)
	f.conn.ServerSessionStarted("sess-1")

	f.conn.ServerCommitted("hi", 0.93)

	ev := waitEvent(t, f.co, EventCommitted)
	if ev.Text != "hi" || ev.Confidence != 0.93 {
		t.Fatalf("committed event = %q (%v)", ev.Text, ev.Confidence)
	}
	waitCond(t, "injection", func() bool { return f.disp.Delivered() == 1 })

	// No duplicate delivery for the same commit.
	time.Sleep(50 * time.Millisecond)
	if got := f.typer.Typed(); len(got) != 1 || got[0] != "hi" {
		t.Fatalf("typed = %q, want exactly [hi]", got)
	}

	if tr := f.co.Transcript(); len(tr) != 1 || tr[0] != "hi" {
		t.Fatalf("transcript = %q", tr)
	}
}

func TestLongCommitGoesThroughClipboard(t *testing.T) {
	f := newFixture(t, nil)
	f.activate(t)
	f.conn.ServerSessionStarted("sess-1")

	text := "the quick brown fox jumps over the lazy dog"
	f.conn.ServerCommitted(text, 0.9)

	waitCond(t, "paste", func() bool { return f.typer.Pastes() == 1 })
	writes := f.clip.Writes()
	if len(writes) != 2 || writes[0] != text || writes[1] != "" {
		t.Fatalf("clipboard writes = %q, want inject then restore", writes)
	}
}

func TestAudioFlowsToSession(t *testing.T) {
	// Half a second of tone; non-realtime capture delivers it immediately.
	f := newFixture(t, audio.Tone(440, 16000, 8000))
	f.activate(t)
	f.conn.ServerSessionStarted("sess-1")

	waitCond(t, "audio chunks on the wire", func() bool {
		n := 0
		for _, mt := range f.conn.SentTypes() {
			if mt == "input_audio_chunk" {
				n++
			}
		}
		return n >= 10
	})

	types := f.conn.SentTypes()
	if len(types) == 0 || types[0] != "configure" {
		t.Fatalf("first message = %v, want configure", types)
	}
}

func TestMeterEventsEmitted(t *testing.T) {
	f := newFixture(t, audio.Tone(440, 16000, 16000))
	f.activate(t)
	f.conn.ServerSessionStarted("sess-1")

	ev := waitEvent(t, f.co, EventLevel)
	if ev.RMS <= 0 || ev.Peak <= 0 {
		t.Fatalf("meter reading rms=%v peak=%v, want positive", ev.RMS, ev.Peak)
	}
}

func TestSilenceWarning(t *testing.T) {
	// No scripted samples: the fake capture feeds pure silence, fast enough
	// that the quiet-frame budget is crossed well inside the timeout.
	f := newFixture(t, nil)
	f.activate(t)
	f.conn.ServerSessionStarted("sess-1")

	waitEvent(t, f.co, EventSilence)
}

func TestPermissionDeniedSurfacesUserAction(t *testing.T) {
	f := newFixture(t, nil)
	f.wins.PermErr = errors.New("uinput not writable")
	f.activate(t)
	f.conn.ServerSessionStarted("sess-1")

	f.conn.ServerCommitted("hi", 0.9)

	ev := waitEvent(t, f.co, EventError)
	if !errors.Is(ev.Err, inject.ErrPermissionDenied) {
		t.Fatalf("error = %v, want ErrPermissionDenied", ev.Err)
	}
	if ev.Recoverable {
		t.Error("permission errors are not recoverable by retry")
	}
	if f.disp.Delivered() != 0 {
		t.Errorf("delivered = %d, want 0", f.disp.Delivered())
	}
}

func TestInputErrorIsRecoverable(t *testing.T) {
	f := newFixture(t, nil)
	f.activate(t)
	f.conn.ServerSessionStarted("sess-1")

	f.conn.ServerInputError("bad chunk encoding")

	ev := waitEvent(t, f.co, EventError)
	if !ev.Recoverable {
		t.Fatalf("input error should be recoverable, got %v", ev.Err)
	}
}

func TestActivationFailsWithoutRetryBudget(t *testing.T) {
	f := newFixture(t, nil)
	f.dialer.FailFirst = 100 // more than the connection-failed budget

	eng := recovery.NewEngine(map[recovery.Kind]recovery.Policy{
		recovery.ConnectionFailed: {MaxRetries: 2, BaseDelay: time.Millisecond},
	})
	f.co.eng = eng

	err := f.co.Activate(context.Background(), scribe.Credential{})
	if err == nil {
		t.Fatal("Activate succeeded with a dialer that always fails")
	}
	if f.dialer.Dials() != 3 {
		t.Errorf("dials = %d, want 3 (initial + 2 retries)", f.dialer.Dials())
	}
	if got := f.co.State(); got != Idle {
		t.Errorf("state = %v, want Idle after failed activation", got)
	}

	// The coordinator must be activatable again after the failure.
	f.dialer.FailFirst = 0
	f.dialer.Queue(scribe.NewFakeConn())
	if err := f.co.Activate(context.Background(), scribe.Credential{}); err != nil {
		t.Fatalf("reactivate after failure: %v", err)
	}
	f.co.Deactivate()
}

func TestReconnectDeliversBufferedAudio(t *testing.T) {
	f := newFixture(t, nil)
	f.co.eng = recovery.NewEngine(map[recovery.Kind]recovery.Policy{
		recovery.ConnectionFailed: {MaxRetries: 3, BaseDelay: time.Millisecond},
		recovery.ConnectionLost:   {MaxRetries: 5, BaseDelay: 40 * time.Millisecond},
	})
	f.activate(t)
	f.conn.ServerSessionStarted("sess-1")
	waitCond(t, "listening", func() bool { return f.co.State() == Listening })

	// Halt the fake capture feed so the tone written below is not pushed out
	// of the ring by trailing silence.
	f.co.capture.Stop()

	conn2 := scribe.NewFakeConn()
	f.dialer.Queue(conn2)
	f.conn.Drop()
	waitCond(t, "reconnecting", func() bool { return f.co.State() == Reconnecting })

	// Speech arriving while the link is down waits in the ring; it must not
	// be drained into the dead connection.
	f.co.ring.Write(audio.Tone(440, 16000, 8000))

	waitCond(t, "buffered audio on the new connection", func() bool {
		n := 0
		for _, mt := range conn2.SentTypes() {
			if mt == "input_audio_chunk" {
				n++
			}
		}
		return n >= 20
	})

	voiced := false
	for _, data := range conn2.Sent() {
		var m struct {
			MessageType string `json:"message_type"`
			AudioBase64 string `json:"audio_base_64"`
		}
		if json.Unmarshal(data, &m) != nil || m.MessageType != "input_audio_chunk" {
			continue
		}
		pcm, err := base64.StdEncoding.DecodeString(m.AudioBase64)
		if err != nil {
			t.Fatalf("decoding chunk: %v", err)
		}
		for _, s := range pipeline.DecodePCM16(pcm) {
			if s != 0 {
				voiced = true
				break
			}
		}
	}
	if !voiced {
		t.Fatal("reconnected stream carried only silence; buffered speech was lost")
	}
}

func TestPartialEventsForwarded(t *testing.T) {
	f := newFixture(t, nil)
	f.activate(t)
	f.conn.ServerSessionStarted("sess-1")

	f.conn.ServerPartial("hel")
	f.conn.ServerPartial("hello")

	ev := waitEvent(t, f.co, EventPartial)
	if ev.Text != "hel" {
		t.Fatalf("first partial = %q", ev.Text)
	}
	ev = waitEvent(t, f.co, EventPartial)
	if ev.Text != "hello" {
		t.Fatalf("second partial = %q", ev.Text)
	}
}
