package scribe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"voxd/log"
	"voxd/recovery"
)

// State is the session connection state. Listening means the provider has
// acknowledged the stream; Transcribing means a partial arrived recently;
// Injecting means committed text is being delivered while streaming
// continues.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Listening
	Transcribing
	Injecting
	Reconnecting
	Errored
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Listening:
		return "listening"
	case Transcribing:
		return "transcribing"
	case Injecting:
		return "injecting"
	case Reconnecting:
		return "reconnecting"
	case Errored:
		return "error"
	}
	return "unknown"
}

var (
	// ErrNotConnected rejects sends while the connection is down. Audio is
	// never queued here; the ring buffer upstream owns continuity.
	ErrNotConnected = errors.New("scribe: not connected")
	// ErrSendBuffer means the sender cannot keep up with the batch cadence.
	ErrSendBuffer = errors.New("scribe: send buffer full")
	// ErrAuth marks a dial rejected by the provider's auth check.
	ErrAuth = errors.New("scribe: authentication failed")
	// ErrActive rejects Connect on a session that is not Disconnected.
	ErrActive = errors.New("scribe: session already active")
)

// Config tunes one session.
type Config struct {
	Endpoint    string
	Model       string
	Language    string
	SendBuffer  int           // queued outbound chunks; default 64
	PartialIdle time.Duration // Transcribing reverts to Listening after this quiet gap
}

func (c *Config) fill() {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.PartialIdle <= 0 {
		c.PartialIdle = 400 * time.Millisecond
	}
}

// StateChange mirrors one transition for observers. Err is set only when
// entering Errored.
type StateChange struct {
	From State
	To   State
	Err  error
}

// Session is one logical connection to the transcription provider: dial,
// configure, stream audio out, decode transcript events in, reconnect on
// transport loss. At most one per process is live at a time; the coordinator
// enforces that.
type Session struct {
	dialer Dialer
	cfg    Config
	rec    *recovery.Engine

	events chan Event
	states chan StateChange
	sendCh chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	state      State
	cred       Credential
	conn       Conn
	connDone   chan struct{}
	gen        int
	sessionID  string
	partial    string
	lastSeq    int
	reconnects int
	stopping   bool
	idleTimer  *time.Timer
}

func NewSession(dialer Dialer, cfg Config, rec *recovery.Engine) *Session {
	cfg.fill()
	if rec == nil {
		rec = recovery.NewEngine(nil)
	}
	return &Session{
		dialer: dialer,
		cfg:    cfg,
		rec:    rec,
		events: make(chan Event, 64),
		states: make(chan StateChange, 32),
		sendCh: make(chan []byte, cfg.SendBuffer),
	}
}

// Events yields decoded transcript events in arrival order.
func (s *Session) Events() <-chan Event { return s.events }

// States mirrors state transitions for the coordinator. Lossy under a stalled
// consumer; State() is the authoritative value.
func (s *Session) States() <-chan StateChange { return s.states }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) IsConnected() bool {
	switch s.State() {
	case Connected, Listening, Transcribing, Injecting:
		return true
	}
	return false
}

func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Partial returns the current replaceable preview text.
func (s *Session) Partial() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partial
}

func (s *Session) Reconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects
}

// Connect dials, sends the configure envelope, and starts the stream
// goroutines. Dial failures are retried per the connection-failed policy;
// auth rejection is surfaced immediately as a user-action error.
func (s *Session) Connect(ctx context.Context, cred Credential) error {
	s.mu.Lock()
	if s.state != Disconnected {
		s.mu.Unlock()
		return ErrActive
	}
	s.stopping = false
	s.cred = cred
	s.setStateLocked(Connecting, nil)
	s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(context.Background())

	conn, err := s.dialConfigured(ctx)
	if err != nil {
		s.mu.Lock()
		s.setStateLocked(Errored, err)
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.attachLocked(conn)
	s.mu.Unlock()
	return nil
}

func (s *Session) dialConfigured(ctx context.Context) (Conn, error) {
	for {
		conn, err := s.dialOnce(ctx)
		if err == nil {
			s.rec.Succeeded(recovery.ConnectionFailed)
			return conn, nil
		}

		kind := recovery.ConnectionFailed
		if errors.Is(err, ErrAuth) {
			kind = recovery.AuthFailed
		}
		d := s.rec.Decide(kind)
		log.Recovery(string(kind), d.Attempt, d.Strategy.String(), d.Delay.Milliseconds())

		switch d.Strategy {
		case recovery.Retry:
			if !recovery.Sleep(ctx, d) {
				return nil, ctx.Err()
			}
		case recovery.UserAction:
			return nil, fmt.Errorf("%s: %w", d.Message, err)
		default:
			return nil, err
		}
	}
}

func (s *Session) dialOnce(ctx context.Context) (Conn, error) {
	conn, err := s.dialer.Dial(ctx, s.cfg.Endpoint, s.cred)
	if err != nil {
		return nil, err
	}
	msg, err := encodeConfigure(s.cfg.Model, s.cfg.Language)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.Send(msg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("scribe: configure: %w", err)
	}
	return conn, nil
}

// attachLocked installs a live connection and spawns its goroutine pair.
// Caller holds s.mu.
func (s *Session) attachLocked(conn Conn) {
	s.gen++
	s.conn = conn
	s.connDone = make(chan struct{})
	s.setStateLocked(Connected, nil)

	gen := s.gen
	done := s.connDone
	s.wg.Add(2)
	go s.runSender(conn, gen, done)
	go s.runReceiver(conn, gen)
}

// SendAudio queues one encoded batch. It fails fast when the connection is
// down rather than queueing: upstream buffering is the ring's job. seq is
// recorded for loss accounting only.
func (s *Session) SendAudio(seq int, pcm []byte) error {
	s.mu.Lock()
	switch s.state {
	case Connected, Listening, Transcribing, Injecting:
	default:
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.lastSeq = seq
	s.mu.Unlock()

	msg, err := encodeAudioChunk(pcm)
	if err != nil {
		return err
	}
	select {
	case s.sendCh <- msg:
		return nil
	default:
		return ErrSendBuffer
	}
}

// Stop tears the session down: cancels any in-flight reconnect backoff,
// closes the connection, and transitions to Disconnected. Safe to call from
// any state, including Errored (where it acts as the acknowledgment that
// returns the machine to Disconnected).
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	conn := s.conn
	s.conn = nil
	if s.connDone != nil {
		close(s.connDone)
		s.connDone = nil
	}
	s.setStateLocked(Disconnected, nil)
	s.partial = ""
	s.sessionID = ""
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if conn != nil {
		conn.Close()
	}
	s.wg.Wait()
}

func (s *Session) runSender(conn Conn, gen int, done chan struct{}) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-done:
			return
		case msg := <-s.sendCh:
			if err := conn.Send(msg); err != nil {
				s.connLost(gen, err)
				return
			}
		}
	}
}

func (s *Session) runReceiver(conn Conn, gen int) {
	defer s.wg.Done()
	for {
		data, err := conn.Recv()
		if err != nil {
			s.connLost(gen, err)
			return
		}
		ev, err := decodeEvent(data)
		if err != nil {
			log.Warnf("scribe: %v", err)
			continue
		}
		s.handleEvent(ev)
	}
}

func (s *Session) handleEvent(ev Event) {
	s.mu.Lock()
	switch ev.Kind {
	case EventSessionStarted:
		s.sessionID = ev.SessionID
		if s.state == Connected {
			s.setStateLocked(Listening, nil)
		}
	case EventPartial:
		s.partial = ev.Text
		if s.state == Listening || s.state == Connected {
			s.setStateLocked(Transcribing, nil)
		}
		s.armIdleTimerLocked()
	case EventCommitted:
		s.partial = ""
	}
	s.mu.Unlock()

	s.emit(ev)
}

// armIdleTimerLocked reverts Transcribing to Listening when no new partial
// arrives within the cadence window. Caller holds s.mu.
func (s *Session) armIdleTimerLocked() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(s.cfg.PartialIdle, func() {
		s.mu.Lock()
		if s.state == Transcribing {
			s.setStateLocked(Listening, nil)
		}
		s.mu.Unlock()
	})
}

// BeginInjecting marks committed text as being delivered. Streaming
// continues; only the visible state changes.
func (s *Session) BeginInjecting() {
	s.mu.Lock()
	if s.state == Transcribing || s.state == Listening {
		s.setStateLocked(Injecting, nil)
	}
	s.mu.Unlock()
}

// EndInjecting returns to Listening after an injection attempt completes,
// whether it succeeded or not.
func (s *Session) EndInjecting() {
	s.mu.Lock()
	if s.state == Injecting {
		s.setStateLocked(Listening, nil)
	}
	s.mu.Unlock()
}

// connLost runs in whichever stream goroutine saw the transport error first;
// the generation check makes the second one a no-op.
func (s *Session) connLost(gen int, err error) {
	s.mu.Lock()
	if s.stopping || gen != s.gen {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	s.conn = nil
	if s.connDone != nil {
		close(s.connDone)
		s.connDone = nil
	}
	s.setStateLocked(Reconnecting, nil)
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	log.Warnf("scribe: connection lost: %v", err)

	s.wg.Add(1)
	go s.reconnectLoop(err)
}

func (s *Session) reconnectLoop(cause error) {
	defer s.wg.Done()
	for {
		d := s.rec.Decide(recovery.ConnectionLost)
		log.Recovery(string(recovery.ConnectionLost), d.Attempt, d.Strategy.String(), d.Delay.Milliseconds())
		if d.Strategy != recovery.Retry {
			s.mu.Lock()
			if !s.stopping {
				s.setStateLocked(Errored, fmt.Errorf("scribe: reconnect budget exhausted: %w", cause))
			}
			s.mu.Unlock()
			return
		}
		if !recovery.Sleep(s.ctx, d) {
			return // Stop() cancelled the backoff
		}

		conn, err := s.dialOnce(s.ctx)
		if err != nil {
			cause = err
			continue
		}

		s.mu.Lock()
		if s.stopping {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.rec.Succeeded(recovery.ConnectionLost)
		s.reconnects++
		s.attachLocked(conn)
		s.mu.Unlock()
		return
	}
}

// setStateLocked transitions and mirrors the change. Caller holds s.mu.
func (s *Session) setStateLocked(to State, err error) {
	if s.state == to {
		return
	}
	from := s.state
	s.state = to
	log.StateChange(from.String(), to.String())
	select {
	case s.states <- StateChange{From: from, To: to, Err: err}:
	default:
	}
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}
