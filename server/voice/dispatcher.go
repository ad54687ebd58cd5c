package voice

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/san-kum/physio-cv/server/metrics"
	"go.uber.org/zap"
)

// Speaker is the out-of-scope speech sink. Implementations may block for the
// length of the utterance; the dispatcher absorbs that on its own goroutine.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// SpeakerFactory builds the Speaker inside the worker goroutine. TTS engines
// are frequently unsafe to share across threads, so the engine must be
// created, used and torn down by the one goroutine that owns it.
type SpeakerFactory func() (Speaker, error)

type Config struct {
	// Cooldown is the minimum time between two utterance starts.
	Cooldown time.Duration
	// UtteranceTimeout bounds a single Speak call.
	UtteranceTimeout time.Duration
	// ShutdownTimeout bounds how long Shutdown waits for the worker.
	ShutdownTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Cooldown:         5 * time.Second,
		UtteranceTimeout: 10 * time.Second,
		ShutdownTimeout:  3 * time.Second,
	}
}

// Dispatcher delivers feedback messages to the speech sink without ever
// blocking the frame loop. It keeps a single-slot mailbox with latest-wins
// overwrite semantics and enforces the cooldown between utterance starts.
// At most one message is ever in flight.
type Dispatcher struct {
	cfg        Config
	newSpeaker SpeakerFactory
	logger     *zap.Logger
	now        func() time.Time

	mu        sync.Mutex
	pending   *string
	lastStart time.Time
	hasSpoken bool
	busy      bool
	closed    bool

	wake    chan struct{}
	quit    chan struct{}
	stopped chan struct{}
}

func NewDispatcher(cfg Config, factory SpeakerFactory, logger *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		cfg:        cfg,
		newSpeaker: factory,
		logger:     logger,
		now:        time.Now,
		wake:       make(chan struct{}, 1),
		quit:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Enqueue hands a message to the voice worker and returns immediately. The
// return value reports whether the message is being dispatched right now
// (worker idle, cooldown elapsed); a message parked in the slot, or one that
// replaced a still-pending message, reports false.
func (d *Dispatcher) Enqueue(text string) bool {
	if text == "" {
		return false
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	replaced := d.pending != nil
	d.pending = &text
	immediate := !d.busy && d.cooldownElapsedLocked()
	d.mu.Unlock()

	if replaced {
		metrics.VoiceReplaced.Inc()
	}

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return immediate
}

func (d *Dispatcher) cooldownElapsedLocked() bool {
	return !d.hasSpoken || d.now().Sub(d.lastStart) >= d.cfg.Cooldown
}

// Shutdown stops accepting messages and waits for the worker to finish or
// abandon the current utterance, up to the configured timeout.
func (d *Dispatcher) Shutdown() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.pending = nil
	d.mu.Unlock()

	close(d.quit)

	select {
	case <-d.stopped:
		return nil
	case <-time.After(d.cfg.ShutdownTimeout):
		return fmt.Errorf("voice worker did not stop within %s", d.cfg.ShutdownTimeout)
	}
}

func (d *Dispatcher) run() {
	defer close(d.stopped)

	speaker, err := d.newSpeaker()
	if err != nil {
		// Voice failure is never fatal to the rest of the system: keep the
		// worker alive so the mailbox drains, just without sound.
		d.logger.Error("speech sink unavailable, voice disabled", zap.Error(err))
		speaker = nil
	}
	if closer, ok := speaker.(io.Closer); ok {
		defer closer.Close()
	}

	for {
		select {
		case <-d.quit:
			return
		case <-d.wake:
		}
		if !d.drain(speaker) {
			return
		}
	}
}

// drain speaks pending messages until the slot is empty, honoring the
// cooldown. Returns false when shutdown was requested.
func (d *Dispatcher) drain(speaker Speaker) bool {
	for {
		d.mu.Lock()
		if d.pending == nil {
			d.mu.Unlock()
			return true
		}
		if !d.cooldownElapsedLocked() {
			wait := d.cfg.Cooldown - d.now().Sub(d.lastStart)
			d.mu.Unlock()
			select {
			case <-d.quit:
				return false
			case <-time.After(wait):
			}
			continue
		}
		text := *d.pending
		d.pending = nil
		d.lastStart = d.now()
		d.hasSpoken = true
		d.busy = true
		d.mu.Unlock()

		d.speak(speaker, text)

		d.mu.Lock()
		d.busy = false
		d.mu.Unlock()
	}
}

func (d *Dispatcher) speak(speaker Speaker, text string) {
	if speaker == nil {
		d.logger.Debug("voice disabled, dropping utterance", zap.String("text", text))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.UtteranceTimeout)
	defer cancel()

	if err := speaker.Speak(ctx, text); err != nil {
		metrics.VoiceFailures.Inc()
		d.logger.Warn("utterance failed", zap.String("text", text), zap.Error(err))
		return
	}
	metrics.VoiceSpoken.Inc()
}
