// Package app coordinates capture, the pipeline, the provider session, and
// text injection into one dictation activation at a time.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"voxd/archive"
	"voxd/audio"
	"voxd/config"
	"voxd/inject"
	"voxd/log"
	"voxd/pipeline"
	"voxd/recovery"
	"voxd/scribe"
)

// ErrActive rejects Activate while an activation is already running.
var ErrActive = errors.New("app: dictation already active")

const (
	// levelInterval throttles meter events to the shell.
	levelInterval = 100 * time.Millisecond
	// silenceWarnFrames is how many consecutive quiet pipeline frames (20ms
	// each) trigger a silence warning. 250 frames is five seconds.
	silenceWarnFrames = 250
)

// Coordinator owns the activation lifecycle: mic -> ring -> pipeline ->
// session, transcript events -> injection. At most one activation is live at
// a time; a second Activate is rejected, never queued.
type Coordinator struct {
	store   *config.Store
	devices audio.Context
	dialer  scribe.Dialer
	disp    *inject.Dispatcher
	eng     *recovery.Engine

	events chan Event

	mu         sync.Mutex
	active     bool
	state      State
	transcript []string

	// Per-activation fields. Written in Activate before the worker
	// goroutines start and cleared in Deactivate after they stop.
	session *scribe.Session
	capture audio.CaptureDevice
	ring    *audio.Ring
	proc    *pipeline.Processor
	rec     *archive.Recorder
	method  inject.Method
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	startedAt   time.Time
	connectedAt time.Time
	sentBatches int
	sentBytes   int
	recvCount   int
	partials    int
	commits     int
	injections  int
}

func NewCoordinator(store *config.Store, devices audio.Context, dialer scribe.Dialer, disp *inject.Dispatcher, eng *recovery.Engine) *Coordinator {
	if eng == nil {
		eng = recovery.NewEngine(nil)
	}
	return &Coordinator{
		store:   store,
		devices: devices,
		dialer:  dialer,
		disp:    disp,
		eng:     eng,
		events:  make(chan Event, 128),
	}
}

// Events yields coordinator output for the shell. The channel is buffered and
// lossy under a stalled consumer; State() is always authoritative.
func (c *Coordinator) Events() <-chan Event { return c.events }

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transcript returns all committed segments of the current process, oldest
// first.
func (c *Coordinator) Transcript() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.transcript))
	copy(out, c.transcript)
	return out
}

// Activate starts one dictation run: opens the capture device, connects the
// provider session, and begins pumping audio. It returns once the session is
// established or the attempt has definitively failed.
func (c *Coordinator) Activate(ctx context.Context, cred scribe.Credential) error {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return ErrActive
	}
	c.active = true
	c.mu.Unlock()

	cfg := c.store.Current()

	proc, err := pipeline.NewProcessor(cfg.Audio.SampleRate)
	if err != nil {
		return c.failActivation(err)
	}

	dev, err := c.pickDevice(cfg.Audio.DeviceID)
	if err != nil {
		c.eng.Decide(recovery.NoDevice)
		return c.failActivation(fmt.Errorf("%w: %v", audio.ErrNoDevice, err))
	}

	capture, err := c.devices.NewCapture(dev, audio.CaptureConfig{
		SampleRate: uint32(cfg.Audio.SampleRate),
		Channels:   1,
	})
	if err != nil {
		c.eng.Decide(recovery.NoDevice)
		return c.failActivation(fmt.Errorf("%w: %v", audio.ErrNoDevice, err))
	}

	ring := audio.NewRing(cfg.Audio.SampleRate * cfg.Audio.RingSeconds)
	sess := scribe.NewSession(c.dialer, scribe.Config{
		Endpoint: cfg.Provider.Endpoint,
		Model:    cfg.Provider.Model,
		Language: cfg.Provider.Language,
	}, c.eng)

	var rec *archive.Recorder
	if cfg.Archive.Enabled {
		rec, err = archive.New(cfg.Archive.Dir)
		if err != nil {
			// Diagnostics only; dictation proceeds without the dump.
			log.Warnf("app: audio archive disabled: %v", err)
			rec = nil
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.session = sess
	c.capture = capture
	c.ring = ring
	c.proc = proc
	c.rec = rec
	c.method = methodFromName(cfg.Injection.Method)
	c.cancel = cancel
	c.startedAt = time.Now()
	c.sentBatches, c.sentBytes, c.recvCount = 0, 0, 0
	c.partials, c.commits, c.injections = 0, 0, 0
	c.mu.Unlock()

	capture.SetCallback(func(samples []float32, _ uint32) {
		ring.Write(samples)
	})
	if err := capture.Start(); err != nil {
		capture.ClearCallback()
		capture.Close()
		if rec != nil {
			rec.Close()
		}
		cancel()
		return c.failActivation(fmt.Errorf("app: starting capture: %w", err))
	}

	log.SessionStart("elevenlabs", dev.Name, cfg.Audio.SampleRate)

	if err := sess.Connect(ctx, cred); err != nil {
		capture.Stop()
		capture.ClearCallback()
		capture.Close()
		if rec != nil {
			rec.Close()
		}
		cancel()
		sess.Stop()
		return c.failActivation(err)
	}
	c.mu.Lock()
	c.connectedAt = time.Now()
	c.mu.Unlock()

	c.wg.Add(2)
	go c.pump(runCtx)
	go c.relay(runCtx)
	return nil
}

// failActivation unwinds a half-built activation and reports the cause.
func (c *Coordinator) failActivation(err error) error {
	c.mu.Lock()
	c.active = false
	c.session, c.capture, c.ring, c.proc, c.rec, c.cancel = nil, nil, nil, nil, nil, nil
	c.mu.Unlock()
	log.Errorf("app: activation failed: %v", err)
	c.emit(Event{Kind: EventError, Err: err, At: time.Now()})
	return err
}

func (c *Coordinator) pickDevice(id string) (*audio.DeviceInfo, error) {
	devs, err := c.devices.Devices()
	if err != nil {
		return nil, err
	}
	if len(devs) == 0 {
		return nil, errors.New("no capture devices present")
	}
	if id == "" {
		return &devs[0], nil
	}
	for i := range devs {
		if devs[i].ID == id {
			return &devs[i], nil
		}
	}
	return nil, fmt.Errorf("configured device %q not found", id)
}

// pump drains the ring on the batch cadence and forwards encoded audio to the
// session. It is the single ring consumer and the single Processor owner
// while running.
func (c *Coordinator) pump(ctx context.Context) {
	defer c.wg.Done()

	cfg := c.store.Current()
	frame := cfg.Audio.SampleRate * pipeline.BatchMs / 1000
	buf := make([]float32, frame)
	vad := pipeline.NewVAD()

	ticker := time.NewTicker(pipeline.BatchMs * time.Millisecond)
	defer ticker.Stop()

	var lastLevel time.Time
	warned := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// While the connection is down the ring keeps accumulating under its
		// overwrite policy; draining now would discard speech that a reconnect
		// could still deliver. Skip the tick and let the backlog flush once
		// the session is back.
		if !c.session.IsConnected() {
			continue
		}

		// A tick may find several frames buffered after a scheduling hiccup;
		// drain them all so latency does not accumulate.
		for c.ring.ReadExact(buf) == nil {
			if vad.Process(buf) {
				warned = false
			} else if !warned && vad.SilenceRun() >= silenceWarnFrames {
				warned = true
				c.emit(Event{Kind: EventSilence, At: time.Now()})
			}

			if now := time.Now(); now.Sub(lastLevel) >= levelInterval {
				lastLevel = now
				rms, peak := pipeline.Level(buf)
				c.emit(Event{Kind: EventLevel, RMS: rms, Peak: peak, At: now})
			}

			for _, b := range c.proc.Process(buf) {
				c.forward(b)
			}
		}
	}
}

// forward ships one batch. The pump only drains while the session is
// connected, so a not-connected send here is the narrow race where the link
// dropped mid-drain; that batch is lost, everything still in the ring is not.
// A full send buffer gets one immediate retry per the send-failed policy.
func (c *Coordinator) forward(b pipeline.Batch) {
	if c.rec != nil {
		if err := c.rec.Append(b.PCM); err != nil {
			log.Warnf("app: archive append: %v", err)
		}
	}

	err := c.session.SendAudio(b.Seq, b.PCM)
	if errors.Is(err, scribe.ErrSendBuffer) {
		d := c.eng.Decide(recovery.SendFailed)
		log.Recovery(string(recovery.SendFailed), d.Attempt, d.Strategy.String(), d.Delay.Milliseconds())
		if d.Strategy == recovery.Retry {
			if err = c.session.SendAudio(b.Seq, b.PCM); err == nil {
				c.eng.Succeeded(recovery.SendFailed)
			}
		}
	}
	if err == nil {
		c.mu.Lock()
		c.sentBatches++
		c.sentBytes += len(b.PCM)
		c.mu.Unlock()
	}
}

// relay mirrors session state changes and transcript events into coordinator
// events, and triggers injection on commits.
func (c *Coordinator) relay(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case sc := <-c.session.States():
			c.onSessionState(sc)
		case ev := <-c.session.Events():
			c.onSessionEvent(ev)
		}
	}
}

func (c *Coordinator) onSessionState(sc scribe.StateChange) {
	c.setState(fromSession(sc.To))
	if sc.To == scribe.Errored && sc.Err != nil {
		c.emit(Event{Kind: EventError, Err: sc.Err, At: time.Now()})
	}
}

func (c *Coordinator) onSessionEvent(ev scribe.Event) {
	c.mu.Lock()
	c.recvCount++
	c.mu.Unlock()

	switch ev.Kind {
	case scribe.EventPartial:
		c.mu.Lock()
		c.partials++
		c.mu.Unlock()
		c.emit(Event{Kind: EventPartial, Text: ev.Text, At: ev.Timestamp})

	case scribe.EventCommitted:
		log.TranscriptionText(ev.Text)
		log.Confidence(ev.Confidence)
		c.mu.Lock()
		c.commits++
		c.transcript = append(c.transcript, ev.Text)
		c.mu.Unlock()
		c.emit(Event{
			Kind:       EventCommitted,
			Text:       ev.Text,
			Confidence: ev.Confidence,
			At:         ev.Timestamp,
		})
		c.deliver(ev.Text)

	case scribe.EventInputError:
		c.emit(Event{
			Kind:        EventError,
			Err:         fmt.Errorf("app: provider rejected input: %s", ev.Message),
			Recoverable: true,
			At:          ev.Timestamp,
		})
	}
}

// deliver injects one committed segment. Exactly one injection request per
// commit; streaming continues regardless of the outcome.
func (c *Coordinator) deliver(text string) {
	if text == "" {
		return
	}

	c.session.BeginInjecting()
	err := c.disp.Inject(inject.NewRequest(text, c.method))
	c.session.EndInjecting()

	if err == nil {
		c.mu.Lock()
		c.injections++
		c.mu.Unlock()
		return
	}

	if errors.Is(err, inject.ErrPermissionDenied) {
		d := c.eng.Decide(recovery.PermissionDenied)
		log.Recovery(string(recovery.PermissionDenied), d.Attempt, d.Strategy.String(), 0)
		c.emit(Event{
			Kind: EventError,
			Err:  fmt.Errorf("%s: %w", d.Message, err),
			At:   time.Now(),
		})
		return
	}

	// Text stays in the transcript log even when delivery fails; the user
	// can recover it from there.
	log.Errorf("app: injection failed: %v", err)
	c.emit(Event{Kind: EventError, Err: err, Recoverable: true, At: time.Now()})
}

// Deactivate stops the activation: halts capture, flushes buffered audio
// through the pipeline, tears the session down, and finalizes the archive.
// Safe to call when idle.
func (c *Coordinator) Deactivate() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	sess := c.session
	capture := c.capture
	rec := c.rec
	cancel := c.cancel
	c.mu.Unlock()

	capture.Stop()
	capture.ClearCallback()

	// Stop the workers first so this goroutine is the sole Processor owner
	// during the final drain.
	cancel()
	c.wg.Wait()

	c.drainTail()
	sess.Stop()
	capture.Close()

	if rec != nil {
		if err := rec.Close(); err != nil {
			log.Warnf("app: archive close: %v", err)
		} else {
			log.Infof("app: audio archive written to %s", rec.Path())
		}
	}

	c.logMetrics()

	c.mu.Lock()
	c.active = false
	c.session, c.capture, c.ring, c.proc, c.rec, c.cancel = nil, nil, nil, nil, nil, nil
	c.mu.Unlock()
	c.setState(Idle)
}

// drainTail pushes whatever the capture callback wrote after the last pump
// tick, then flushes the padded final batch. Best effort: the connection may
// already be gone.
func (c *Coordinator) drainTail() {
	cfg := c.store.Current()
	frame := cfg.Audio.SampleRate * pipeline.BatchMs / 1000
	buf := make([]float32, frame)

	for c.ring.ReadExact(buf) == nil {
		for _, b := range c.proc.Process(buf) {
			c.forward(b)
		}
	}
	if tail := c.proc.Flush(); tail != nil {
		c.forward(*tail)
	}
}

func (c *Coordinator) logMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	var connectMs float64
	if !c.connectedAt.IsZero() {
		connectMs = float64(c.connectedAt.Sub(c.startedAt).Milliseconds())
	}
	log.SessionMetrics(log.SessionMetricsData{
		ConnectMs:     connectMs,
		TotalMs:       float64(time.Since(c.startedAt).Milliseconds()),
		AudioS:        float64(c.sentBatches*pipeline.BatchMs) / 1000,
		SentBatches:   c.sentBatches,
		SentKB:        float64(c.sentBytes) / 1024,
		DroppedFrames: c.ring.Dropped(),
		RecvMessages:  c.recvCount,
		Partials:      c.partials,
		Commits:       c.commits,
		Reconnects:    c.session.Reconnects(),
		Injections:    c.injections,
	})
	log.SessionEnd(c.commits)
}

// setState updates the aggregate state and mirrors the transition.
func (c *Coordinator) setState(to State) {
	c.mu.Lock()
	if c.state == to {
		c.mu.Unlock()
		return
	}
	from := c.state
	c.state = to
	c.mu.Unlock()
	c.emit(Event{Kind: EventState, From: from, To: to, At: time.Now()})
}

// emit never blocks; the buffer absorbs bursts and a stalled shell loses
// events rather than stalling the pipeline.
func (c *Coordinator) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
	}
}

func methodFromName(name string) inject.Method {
	switch name {
	case "keyboard":
		return inject.Keyboard
	case "clipboard":
		return inject.Clipboard
	}
	return inject.Auto
}
