package app

import (
	"context"
	"errors"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"livequiz-service/internal/clocksync"
	"livequiz-service/internal/domain"
)

// Room serializes every mutation of one session through a single goroutine.
// Commands are closures over the room state; nothing else touches it.
type Room struct {
	pin      string
	cmds     chan func()
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	clock    *clocksync.Clock
	opts     Options
	onChange func(domain.Session)

	// Owned by the loop goroutine.
	state       *roomState
	subscribers map[chan domain.Session]struct{}
	timer       clockwork.Timer
	timerKey    string
}

func newRoom(state *roomState, clock *clocksync.Clock, opts Options, onChange func(domain.Session)) *Room {
	r := &Room{
		pin:         state.pin,
		cmds:        make(chan func()),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		clock:       clock,
		opts:        opts,
		onChange:    onChange,
		state:       state,
		subscribers: make(map[chan domain.Session]struct{}),
	}
	go r.loop()
	return r
}

// PIN is the room's join code.
func (r *Room) PIN() string {
	return r.pin
}

func (r *Room) loop() {
	defer close(r.done)
	for {
		select {
		case cmd := <-r.cmds:
			cmd()
		case <-r.quit:
			r.stopTimer()
			for ch := range r.subscribers {
				close(ch)
			}
			r.subscribers = nil
			return
		}
	}
}

// stop ends the loop and closes every subscription. It must not be called from the loop.
func (r *Room) stop() {
	r.stopOnce.Do(func() { close(r.quit) })
	<-r.done
}

// exec runs fn on the loop goroutine and waits for its result.
func (r *Room) exec(ctx context.Context, fn func() error) error {
	_, err := call(ctx, r, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// call runs fn on the loop goroutine and hands its value back over the reply
// channel, so a caller that gives up early never reads state the loop still writes.
func call[T any](ctx context.Context, r *Room, fn func() (T, error)) (T, error) {
	type outcome struct {
		val T
		err error
	}
	var zero T
	reply := make(chan outcome, 1)
	cmd := func() {
		val, err := fn()
		reply <- outcome{val: val, err: err}
	}
	select {
	case r.cmds <- cmd:
	case <-r.done:
		return zero, domain.ErrSessionNotFound
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case out := <-reply:
		return out.val, out.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// enqueue hands cmd to the loop without waiting for it to run.
func (r *Room) enqueue(cmd func()) {
	select {
	case r.cmds <- cmd:
	case <-r.done:
	}
}

// update applies fn and, when it changed the session, re-arms timers and pushes
// the new document before returning it.
func (r *Room) update(ctx context.Context, fn func(st *roomState) error) (domain.Session, error) {
	snap, _, err := apply(ctx, r, func(st *roomState) (struct{}, error) {
		return struct{}{}, fn(st)
	})
	return snap, err
}

// apply is update for commands that also produce a value of their own.
func apply[T any](ctx context.Context, r *Room, fn func(st *roomState) (T, error)) (domain.Session, T, error) {
	type applied struct {
		snap domain.Session
		val  T
	}
	out, err := call(ctx, r, func() (applied, error) {
		if r.state.disposed {
			return applied{}, domain.ErrSessionNotFound
		}
		val, err := fn(r.state)
		if errors.Is(err, errUnchanged) {
			return applied{snap: r.state.snapshot(), val: val}, nil
		}
		if err != nil {
			return applied{}, err
		}
		return applied{snap: r.changed(), val: val}, nil
	})
	return out.snap, out.val, err
}

// Snapshot returns the current session document.
func (r *Room) Snapshot(ctx context.Context) (domain.Session, error) {
	return call(ctx, r, func() (domain.Session, error) {
		if r.state.disposed {
			return domain.Session{}, domain.ErrSessionNotFound
		}
		return r.state.snapshot(), nil
	})
}

// subscribe returns a channel that receives the current document and every change after it.
// Slow readers only miss intermediate documents, never the latest one.
func (r *Room) subscribe(ctx context.Context) (<-chan domain.Session, func(), error) {
	ch := make(chan domain.Session, 8)
	err := r.exec(ctx, func() error {
		if r.state.disposed {
			return domain.ErrSessionNotFound
		}
		r.subscribers[ch] = struct{}{}
		ch <- r.state.snapshot()
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	cancel := func() {
		_ = r.exec(context.Background(), func() error {
			if _, ok := r.subscribers[ch]; ok {
				delete(r.subscribers, ch)
				close(ch)
			}
			return nil
		})
	}
	return ch, cancel, nil
}

func (r *Room) changed() domain.Session {
	r.state.updatedAt = r.clock.Now()
	r.reschedule()
	snap := r.state.snapshot()
	for ch := range r.subscribers {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
	if r.onChange != nil {
		r.onChange(snap)
	}
	return snap
}

// reschedule arms a timer for the end of the current phase when the room advances on its own.
func (r *Room) reschedule() {
	if !r.opts.AutoAdvance || r.state.disposed {
		return
	}
	key, deadline, ok := r.state.deadline(r.opts)
	if key == r.timerKey {
		return
	}
	r.stopTimer()
	if !ok {
		return
	}
	delay := deadline.Sub(r.clock.Now())
	if delay < 0 {
		delay = 0
	}
	r.timerKey = key
	r.timer = r.clock.Local().AfterFunc(delay, func() {
		r.enqueue(func() { r.fire(key) })
	})
}

func (r *Room) fire(key string) {
	if r.state.disposed || key != r.timerKey {
		return
	}
	r.timer = nil
	r.timerKey = ""

	var err error
	switch r.state.phase.(type) {
	case countdownPhase:
		err = r.state.beginQuestion(r.clock.Now(), r.clock.Synced(), r.opts.EarlyTolerance)
	case questionPhase:
		err = r.state.showResults()
	default:
		return
	}
	if err != nil {
		if !errors.Is(err, errUnchanged) {
			log.Debug().Err(err).Str("pin", r.pin).Str("timer", key).Msg("timer transition skipped")
		}
		r.reschedule()
		return
	}
	log.Debug().Str("pin", r.pin).Str("status", string(r.state.status())).Msg("phase advanced by timer")
	r.changed()
}

func (r *Room) stopTimer() {
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = nil
	r.timerKey = ""
}

// resume re-arms timers after a room was rebuilt from a snapshot.
func (r *Room) resume(ctx context.Context) error {
	return r.exec(ctx, func() error {
		r.reschedule()
		return nil
	})
}
