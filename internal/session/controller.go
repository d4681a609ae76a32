// ABOUTME: SessionController drives one connection through connect, authorize, subscribe and close
// ABOUTME: Dispatches inbound actions to the message service and fans the results out to the thread group

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/2389/tandem/internal/auth"
	"github.com/2389/tandem/internal/conversation"
	"github.com/2389/tandem/internal/dedupe"
	"github.com/2389/tandem/internal/metrics"
	"github.com/2389/tandem/internal/presence"
	"github.com/2389/tandem/internal/store"
)

// State is the lifecycle position of a session.
type State int

const (
	StateConnecting State = iota
	StateAuthorizing
	StateSubscribed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthorizing:
		return "authorizing"
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrStoreFailure wraps storage errors that end a session.
	ErrStoreFailure = errors.New("store failure")

	errEvicted  = errors.New("subscriber evicted")
	errShutdown = errors.New("broadcaster closed")
)

// Options tunes per-session behavior.
type Options struct {
	// WriteTimeout bounds a single outbound frame write.
	WriteTimeout time.Duration
	// InboundRate is the sustained actions per second accepted from one
	// session; zero disables limiting.
	InboundRate  float64
	InboundBurst int
	// PresenceRefresh re-announces presence while subscribed; zero disables it.
	PresenceRefresh time.Duration
}

// Deps are the shared services a Controller dispatches to. Presence, Typing
// and Metrics are optional.
type Deps struct {
	Guard       *conversation.Guard
	Messages    *conversation.Messages
	Broadcaster *conversation.Broadcaster
	Presence    presence.Tracker
	Typing      *dedupe.Cache
	Metrics     *metrics.Metrics
}

// Controller runs sessions. One Controller serves every connection.
type Controller struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
}

// NewController creates a Controller. Pass nil logger for default.
func NewController(deps Deps, opts Options, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &Controller{
		deps:   deps,
		opts:   opts,
		logger: logger.With("component", "session"),
	}
}

// session is the state of one connection.
type session struct {
	ctrl     *Controller
	id       string
	actor    *auth.Actor
	threadID string
	conn     Conn
	logger   *slog.Logger

	mu     sync.Mutex
	state  State
	typing bool
}

func (s *session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.logger.Debug("session state", "state", st.String())
}

// Serve runs one session until the connection ends. actor is the identity
// the transport resolved, nil when unauthenticated. It returns nil for
// ordinary disconnects and an error when the session was rejected or ended
// by a store failure. The connection is always closed on return.
func (c *Controller) Serve(ctx context.Context, conn Conn, actor *auth.Actor, threadID string) error {
	s := &session{
		ctrl:     c,
		id:       uuid.NewString(),
		actor:    actor,
		threadID: threadID,
		conn:     conn,
		state:    StateConnecting,
		logger:   c.logger.With("thread_id", threadID),
	}
	if actor != nil {
		s.logger = s.logger.With("actor_id", actor.ID, "session_id", s.id)
	}
	return s.run(ctx)
}

func (s *session) run(ctx context.Context) error {
	c := s.ctrl

	if s.actor == nil || s.actor.ID == "" {
		c.session(metrics.SessionUnauthorized)
		s.close(CloseUnauthenticated, "unauthenticated")
		return auth.ErrUnauthenticated
	}

	s.setState(StateAuthorizing)
	if err := c.deps.Guard.Authorize(ctx, s.actor.ID, s.threadID); err != nil {
		if errors.Is(err, conversation.ErrForbidden) {
			c.session(metrics.SessionForbidden)
			s.logger.Info("session denied")
			s.close(ClosePolicyViolation, "access denied")
			return err
		}
		c.session(metrics.SessionFailed)
		s.close(CloseInternalError, "internal error")
		return fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}

	n, err := c.deps.Messages.MarkDelivered(ctx, s.threadID, s.actor.ID)
	if err != nil {
		c.session(metrics.SessionFailed)
		s.close(CloseInternalError, "internal error")
		return fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}

	if c.deps.Metrics != nil {
		c.deps.Metrics.SessionsActive.Inc()
	}
	defer s.teardown(ctx)
	s.joinPresence(ctx)

	sub, err := c.deps.Broadcaster.Subscribe(s.threadID, s.id)
	if err != nil {
		c.session(metrics.SessionFailed)
		s.close(CloseGoingAway, "server shutting down")
		return err
	}
	s.setState(StateSubscribed)
	c.session(metrics.SessionAccepted)
	s.logger.Info("session subscribed", "delivered", n)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var wg sync.WaitGroup
	wg.Go(func() {
		if err := s.writeLoop(runCtx, sub); err != nil {
			cancel(err)
		}
		// The close frame must go out before the pending Read is released;
		// Read never observes runCtx, so Close is what unblocks it.
		s.close(closeStatus(ctx, context.Cause(runCtx)))
	})
	cancel(s.readLoop(runCtx))
	wg.Wait()

	return s.finish(ctx, context.Cause(runCtx))
}

// closeStatus maps the reason a session ended to its close status.
func closeStatus(parent context.Context, cause error) (CloseCode, string) {
	switch {
	case errors.Is(cause, errEvicted):
		return CloseTryAgainLater, "try again later"
	case errors.Is(cause, ErrStoreFailure):
		return CloseInternalError, "internal error"
	case errors.Is(cause, errShutdown), parent.Err() != nil:
		return CloseGoingAway, "server shutting down"
	default:
		return CloseNormal, ""
	}
}

// finish closes the connection and reports why the session ended.
func (s *session) finish(parent context.Context, cause error) error {
	code, reason := closeStatus(parent, cause)
	s.close(code, reason)

	switch code {
	case CloseTryAgainLater:
		s.logger.Warn("session evicted as slow consumer")
	case CloseInternalError:
		s.logger.Error("session ended by store failure", "error", cause)
		return cause
	default:
		s.logger.Debug("session disconnected", "reason", cause)
	}
	return nil
}

// teardown runs on every exit path once the session is authorized.
func (s *session) teardown(ctx context.Context) {
	c := s.ctrl
	c.deps.Broadcaster.Unsubscribe(s.threadID, s.id)

	s.mu.Lock()
	wasTyping := s.typing
	s.typing = false
	s.mu.Unlock()
	if wasTyping {
		c.deps.Broadcaster.Publish(s.threadID,
			conversation.NewTypingState(s.actor.ID, s.actor.DisplayName(), false), s.id)
	}

	if c.deps.Typing != nil {
		c.deps.Typing.Forget(s.id)
	}

	if c.deps.Presence != nil {
		leaveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := c.deps.Presence.Leave(leaveCtx, s.threadID, s.actor.ID, s.id); err != nil {
			s.logger.Warn("failed to leave presence", "error", err)
		}
		cancel()
	}

	if c.deps.Metrics != nil {
		c.deps.Metrics.SessionsActive.Dec()
	}
	s.setState(StateClosed)
}

func (s *session) joinPresence(ctx context.Context) {
	p := s.ctrl.deps.Presence
	if p == nil {
		return
	}
	if err := p.Join(ctx, s.threadID, s.actor.ID, s.id); err != nil {
		s.logger.Warn("failed to join presence", "error", err)
	}
}

func (s *session) close(code CloseCode, reason string) {
	if err := s.conn.Close(code, reason); err != nil {
		s.logger.Debug("close failed", "error", err)
	}
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
}

// writeLoop drains the subscription to the connection until the context ends
// or the subscription closes.
func (s *session) writeLoop(ctx context.Context, sub *conversation.Subscription) error {
	var refresh <-chan time.Time
	if d := s.ctrl.opts.PresenceRefresh; d > 0 && s.ctrl.deps.Presence != nil {
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		refresh = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-refresh:
			s.joinPresence(ctx)
		case ev, ok := <-sub.Events():
			if !ok {
				if sub.Evicted() {
					return errEvicted
				}
				return errShutdown
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("failed to encode event", "event", ev.Kind(), "error", err)
				continue
			}
			// Canceling a transport write drops the connection without a
			// close frame, so only the timeout may abort it.
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.ctrl.opts.WriteTimeout)
			err = s.conn.Write(wctx, data)
			cancel()
			if err != nil {
				return fmt.Errorf("write %s: %w", ev.Kind(), err)
			}
		}
	}
}

// readLoop decodes and dispatches inbound frames until the connection ends or
// a store failure occurs. Cancellation of ctx reaches the pending Read only
// through the writer closing the connection.
func (s *session) readLoop(ctx context.Context) error {
	c := s.ctrl
	readCtx := context.WithoutCancel(ctx)
	limiter := rate.NewLimiter(rate.Inf, 0)
	if c.opts.InboundRate > 0 {
		burst := max(c.opts.InboundBurst, 1)
		limiter = rate.NewLimiter(rate.Limit(c.opts.InboundRate), burst)
	}

	for {
		data, err := s.conn.Read(readCtx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		action, err := DecodeAction(data)
		if err != nil {
			s.logger.Debug("ignoring inbound frame", "error", err)
			c.action("unknown", metrics.ActionInvalid)
			continue
		}

		if !limiter.Allow() {
			s.logger.Warn("inbound action rate limited", "action", action.Name())
			c.action(action.Name(), metrics.ActionRateLimited)
			continue
		}

		if err := s.dispatch(ctx, action); err != nil {
			return err
		}
	}
}

// dispatch applies one action and publishes its event. Only store failures
// are returned; denials and no-ops are recorded and dropped.
func (s *session) dispatch(ctx context.Context, action Action) error {
	c := s.ctrl
	name := action.Name()

	if _, ok := action.(*Typing); !ok {
		if err := c.deps.Guard.Authorize(ctx, s.actor.ID, s.threadID); err != nil {
			if errors.Is(err, conversation.ErrForbidden) {
				c.action(name, metrics.ActionDenied)
				return nil
			}
			return fmt.Errorf("%w: %w", ErrStoreFailure, err)
		}
	}

	var (
		event   conversation.Event
		exclude string
	)

	switch a := action.(type) {
	case *SendMessage:
		msg, err := c.deps.Messages.Create(ctx, conversation.CreateParams{
			ThreadID:   s.threadID,
			SenderID:   s.actor.ID,
			SenderName: s.actor.DisplayName(),
			Content:    a.Content,
			ReplyToID:  a.ReplyToID,
		})
		if errors.Is(err, store.ErrNotFound) {
			c.action(name, metrics.ActionDenied)
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStoreFailure, err)
		}
		event = conversation.NewMessageCreated(msg, a.TempID)

	case *Typing:
		if c.deps.Typing != nil && !c.deps.Typing.Changed(s.id, typingValue(a.IsTyping)) {
			c.action(name, metrics.ActionCoalesced)
			return nil
		}
		s.mu.Lock()
		s.typing = a.IsTyping
		s.mu.Unlock()
		event = conversation.NewTypingState(s.actor.ID, s.actor.DisplayName(), a.IsTyping)
		exclude = s.id

	case *ReadReceipt:
		if _, err := c.deps.Messages.MarkRead(ctx, s.threadID, a.MessageID, s.actor.ID); err != nil {
			return fmt.Errorf("%w: %w", ErrStoreFailure, err)
		}
		// Emitted whether or not the flag changed; clients treat it as idempotent.
		event = conversation.NewMessageRead(a.MessageID)

	case *EditMessage:
		ok, err := c.deps.Messages.Edit(ctx, s.threadID, a.MessageID, s.actor.ID, a.Content)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStoreFailure, err)
		}
		if !ok {
			c.action(name, metrics.ActionDenied)
			return nil
		}
		event = conversation.NewMessageEdited(a.MessageID, a.Content)

	case *DeleteMessage:
		ok, err := c.deps.Messages.Delete(ctx, s.threadID, a.MessageID, s.actor.ID)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStoreFailure, err)
		}
		if !ok {
			c.action(name, metrics.ActionDenied)
			return nil
		}
		event = conversation.NewMessageDeleted(a.MessageID)

	default:
		return nil
	}

	c.deps.Broadcaster.Publish(s.threadID, event, exclude)
	c.action(name, metrics.ActionApplied)
	return nil
}

func typingValue(typing bool) string {
	if typing {
		return "1"
	}
	return "0"
}

func (c *Controller) session(outcome string) {
	if c.deps.Metrics != nil {
		c.deps.Metrics.Session(outcome)
	}
}

func (c *Controller) action(name, result string) {
	if c.deps.Metrics != nil {
		c.deps.Metrics.Action(name, result)
	}
}
