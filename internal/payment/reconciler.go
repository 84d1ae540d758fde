package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"usada-checkout/internal/logger"
	"usada-checkout/internal/order"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Hooks are the termination side effects a session fires exactly once.
// They run on the session's own goroutine.
type Hooks struct {
	// OnSuccess fires when the backend confirms payment; this is where
	// the cart gets cleared and the caller navigates to confirmation.
	OnSuccess func(ctx context.Context)
	// OnFailed fires on failed/expired payment or a fatal auth error.
	// The cart is deliberately left alone so the user can retry.
	OnFailed func(ctx context.Context, cause error)
	// OnCancelled fires after a successful user cancel. Cart untouched.
	OnCancelled func(ctx context.Context)
}

// Options tune one session. Zero values take the defaults below.
type Options struct {
	// PollInterval is the recurring status check cadence.
	PollInterval time.Duration
	// StaleAfter is how long without a successful check before
	// NeedsAttention reports true and the UI should offer a manual
	// "check now".
	StaleAfter time.Duration
	// SignalEvery spaces opportunistic checks from external signals so
	// a signal storm cannot become a request storm.
	SignalEvery time.Duration
}

const (
	defaultPollInterval = 15 * time.Second
	defaultStaleAfter   = 90 * time.Second
	defaultSignalEvery  = 2 * time.Second
)

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = defaultStaleAfter
	}
	if o.SignalEvery <= 0 {
		o.SignalEvery = defaultSignalEvery
	}
	return o
}

// statusSource is one way of asking the backend what happened to the
// payment. Sources are tried in order; the first answer wins.
type statusSource struct {
	name  string
	fetch func(ctx context.Context) (string, error)
}

// Session reconciles one in-flight payment against the backend. All
// state transitions happen under one mutex and automatic checks are
// confined to a single goroutine; the pollActive guard drops, never
// queues, signals that arrive while a check is in flight.
type Session struct {
	id         uuid.UUID
	orderID    uint
	invoiceURL string

	gateway    order.Gateway
	hooks      Hooks
	opts       Options
	limiter    *rate.Limiter
	strategies []statusSource

	ctx       context.Context
	ctxCancel context.CancelFunc

	mu          sync.Mutex
	state       State
	failCause   error
	lastChecked time.Time
	pollActive  bool
	started     bool

	triggers chan string
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	doneOnce sync.Once
}

// NewSession creates a session for an already-created order. The
// session starts Idle; drive it with GenerateInvoice then OpenPayment.
func NewSession(gw order.Gateway, orderID uint, hooks Hooks, opts Options) *Session {
	o := opts.withDefaults()

	s := &Session{
		id:       uuid.New(),
		orderID:  orderID,
		gateway:  gw,
		hooks:    hooks,
		opts:     o,
		limiter:  rate.NewLimiter(rate.Every(o.SignalEvery), 1),
		state:    StateIdle,
		triggers: make(chan string, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	s.ctx, s.ctxCancel = context.WithCancel(logger.WithSessionID(context.Background(), s.id.String()))

	s.strategies = []statusSource{
		{
			name: "status_endpoint",
			fetch: func(ctx context.Context) (string, error) {
				return gw.GetOrderStatus(ctx, orderID)
			},
		},
		{
			name: "order_details",
			fetch: func(ctx context.Context) (string, error) {
				ord, err := gw.GetOrderDetails(ctx, orderID)
				if err != nil {
					return "", err
				}
				return ord.Status, nil
			},
		},
	}

	return s
}

func (s *Session) ID() uuid.UUID { return s.id }

func (s *Session) OrderID() uint { return s.orderID }

func (s *Session) InvoiceURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invoiceURL
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns what killed the session, for StateFailed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failCause
}

// LastCheckedAt is when a status check last got an answer from the
// backend. Before the first answer it reports when the payment page
// was opened.
func (s *Session) LastCheckedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastChecked
}

// NeedsAttention reports that polling has gone an extended window
// without a successful check and the UI should offer a manual recheck.
func (s *Session) NeedsAttention() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StatePaymentOpen && !s.lastChecked.IsZero() &&
		time.Since(s.lastChecked) > s.opts.StaleAfter
}

// Done closes when the session stops driving itself: terminal state
// reached or Close called.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// GenerateInvoice asks the backend for the payment page URL. The order
// already exists; a failure here leaves it created but unpaid, and the
// caller retries this step alone, never the order creation.
func (s *Session) GenerateInvoice(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.state != StateIdle && s.state != StateAwaitingInvoice {
		st := s.state
		s.mu.Unlock()
		if st.Terminal() {
			return "", ErrSessionFinished
		}
		return "", fmt.Errorf("cannot generate invoice in state %s", st)
	}
	s.state = StateAwaitingInvoice
	s.mu.Unlock()

	url, err := s.gateway.GeneratePaymentInvoice(ctx, s.orderID)
	if err != nil {
		if order.KindOf(err) == order.KindAuthExpired {
			s.transition(StateFailed, err)
		}
		return "", err
	}

	s.mu.Lock()
	s.invoiceURL = url
	s.mu.Unlock()
	return url, nil
}

// OpenPayment marks the payment page as opened and starts the polling
// loop. The invoice URL must already be known.
func (s *Session) OpenPayment() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return ErrSessionFinished
	}
	if s.started {
		return nil
	}
	if s.invoiceURL == "" {
		return ErrNoInvoice
	}

	s.state = StatePaymentOpen
	s.started = true
	// Baseline for staleness until the first check answers.
	s.lastChecked = time.Now()
	go s.run()

	logger.FromCtx(s.ctx).Info("payment opened",
		zap.Uint("order_id", s.orderID),
		zap.Duration("poll_interval", s.opts.PollInterval),
	)
	return nil
}

// NotifyForeground signals that the host app came back to the
// foreground; the user may have finished paying while away.
func (s *Session) NotifyForeground() {
	s.signal("foreground", true)
}

// NotifyNavigation feeds a navigation URL observed inside the embedded
// payment page. A match on success or failure keywords only accelerates
// the next backend check; the URL itself never drives a transition.
func (s *Session) NotifyNavigation(url string) {
	if !matchesPaymentOutcome(url) {
		return
	}
	s.signal("payment_page_redirect", true)
}

// RequestCheck is the manual "check now" affordance. It honors the
// in-flight guard but not the signal rate limit.
func (s *Session) RequestCheck() {
	s.signal("manual", false)
}

// signal requests an out-of-band check. Dropped, not queued, when a
// check is already in flight; rate limited when limited is set.
func (s *Session) signal(reason string, limited bool) {
	s.mu.Lock()
	busy := s.state != StatePaymentOpen || s.pollActive
	s.mu.Unlock()
	if busy {
		return
	}

	if limited && !s.limiter.Allow() {
		return
	}

	select {
	case s.triggers <- reason:
	default:
	}
}

// Cancel invokes the backend cancel endpoint and, only if it succeeds,
// stops polling and moves to Cancelled. On failure the session stays
// open and the error is surfaced for retry. The cart is never cleared
// on this path.
func (s *Session) Cancel(ctx context.Context) error {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()

	if st.Terminal() {
		return ErrSessionFinished
	}
	if st != StatePaymentOpen {
		return ErrNotOpen
	}

	if err := s.gateway.CancelOrder(ctx, s.orderID); err != nil {
		logger.FromCtx(s.ctx).Error("cancel order failed", zap.Error(err))
		return err
	}

	s.transition(StateCancelled, nil)
	return nil
}

// Close tears the session down deterministically: the timer stops, the
// goroutine exits and any in-flight request is aborted. A session left
// non-terminal simply stops; the order stays queryable on the backend.
// Close must not be called from inside a hook.
func (s *Session) Close() {
	s.ctxCancel()
	s.stopOnce.Do(func() { close(s.stop) })

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	if started {
		<-s.done
	} else {
		s.doneOnce.Do(func() { close(s.done) })
	}
}

// ----------------- Polling loop -----------------

func (s *Session) run() {
	defer s.doneOnce.Do(func() { close(s.done) })

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	// Check right away; the user may already have paid before the
	// payment page even finished loading.
	if s.check("open") {
		return
	}

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if s.check("tick") {
				return
			}
		case reason := <-s.triggers:
			if s.check(reason) {
				return
			}
		}
	}
}

// check runs one status resolution. Returns true once the session is
// terminal and the loop should exit.
func (s *Session) check(reason string) bool {
	s.mu.Lock()
	if s.state != StatePaymentOpen || s.pollActive {
		terminal := s.state.Terminal()
		s.mu.Unlock()
		return terminal
	}
	s.pollActive = true
	s.mu.Unlock()

	log := logger.FromCtx(s.ctx).With(
		zap.Uint("order_id", s.orderID),
		zap.String("reason", reason),
	)

	raw, err := s.resolveStatus(s.ctx)

	s.mu.Lock()
	s.pollActive = false
	if s.state != StatePaymentOpen {
		terminal := s.state.Terminal()
		s.mu.Unlock()
		return terminal
	}
	if err == nil {
		s.lastChecked = time.Now()
	}
	s.mu.Unlock()

	if err != nil {
		if order.KindOf(err) == order.KindAuthExpired {
			log.Error("auth expired during status check", zap.Error(err))
			return s.transition(StateFailed, err)
		}
		// Transient miss: both sources failed, state unchanged, the
		// next tick tries again.
		log.Warn("status check missed", zap.Error(err))
		return false
	}

	switch deriveStatus(raw) {
	case statusPaid:
		log.Info("payment confirmed", zap.String("status", raw))
		return s.transition(StateSuccess, nil)
	case statusFailed:
		log.Info("payment failed", zap.String("status", raw))
		return s.transition(StateFailed, fmt.Errorf("payment %s", normalizeStatus(raw)))
	case statusPending:
		log.Debug("payment still pending")
		return false
	default:
		log.Warn("unknown payment status", zap.String("status", raw))
		return false
	}
}

// resolveStatus tries each status source in order. A failing source
// falls through to the next; auth expiry short-circuits because it is
// fatal to the whole session.
func (s *Session) resolveStatus(ctx context.Context) (string, error) {
	log := logger.FromCtx(ctx)

	for _, src := range s.strategies {
		raw, err := src.fetch(ctx)
		if err == nil {
			return raw, nil
		}
		if order.KindOf(err) == order.KindAuthExpired {
			return "", err
		}
		log.Warn("status source failed",
			zap.String("source", src.name),
			zap.Error(err),
		)
	}

	return "", ErrStatusUnavailable
}

// transition moves to a terminal state exactly once and fires the
// matching hook. Late poll results and duplicate signals after the
// first terminal transition are no-ops.
func (s *Session) transition(to State, cause error) bool {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return true
	}
	s.state = to
	s.failCause = cause
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.stop) })

	hookCtx := logger.WithSessionID(context.Background(), s.id.String())
	switch to {
	case StateSuccess:
		if s.hooks.OnSuccess != nil {
			s.hooks.OnSuccess(hookCtx)
		}
	case StateFailed:
		if s.hooks.OnFailed != nil {
			s.hooks.OnFailed(hookCtx, cause)
		}
	case StateCancelled:
		if s.hooks.OnCancelled != nil {
			s.hooks.OnCancelled(hookCtx)
		}
	}

	return true
}
