package payment

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"usada-checkout/internal/order"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeGateway scripts the backend per test via function fields. Calls
// without a script are bugs in the test, not the code under test.
type fakeGateway struct {
	generateInvoice func(ctx context.Context, orderID uint) (string, error)
	getStatus       func(ctx context.Context, orderID uint) (string, error)
	getDetails      func(ctx context.Context, orderID uint) (*order.Order, error)
	cancelOrder     func(ctx context.Context, orderID uint) error
}

func (f *fakeGateway) CreateOrder(ctx context.Context, req *order.Request) (*order.Order, error) {
	panic("unexpected CreateOrder")
}

func (f *fakeGateway) ListOrders(ctx context.Context, page int) ([]*order.Order, *order.Pagination, error) {
	panic("unexpected ListOrders")
}

func (f *fakeGateway) GeneratePaymentInvoice(ctx context.Context, orderID uint) (string, error) {
	if f.generateInvoice == nil {
		panic("unexpected GeneratePaymentInvoice")
	}
	return f.generateInvoice(ctx, orderID)
}

func (f *fakeGateway) GetOrderStatus(ctx context.Context, orderID uint) (string, error) {
	if f.getStatus == nil {
		panic("unexpected GetOrderStatus")
	}
	return f.getStatus(ctx, orderID)
}

func (f *fakeGateway) GetOrderDetails(ctx context.Context, orderID uint) (*order.Order, error) {
	if f.getDetails == nil {
		panic("unexpected GetOrderDetails")
	}
	return f.getDetails(ctx, orderID)
}

func (f *fakeGateway) CancelOrder(ctx context.Context, orderID uint) error {
	if f.cancelOrder == nil {
		panic("unexpected CancelOrder")
	}
	return f.cancelOrder(ctx, orderID)
}

func apiErr(kind order.Kind) error {
	return &order.APIError{Kind: kind, Message: "scripted failure"}
}

// hookCounts records hook invocations for assertions.
type hookCounts struct {
	mu        sync.Mutex
	success   int
	failed    int
	cancelled int
	failCause error
}

func (h *hookCounts) hooks() Hooks {
	return Hooks{
		OnSuccess: func(ctx context.Context) {
			h.mu.Lock()
			h.success++
			h.mu.Unlock()
		},
		OnFailed: func(ctx context.Context, cause error) {
			h.mu.Lock()
			h.failed++
			h.failCause = cause
			h.mu.Unlock()
		},
		OnCancelled: func(ctx context.Context) {
			h.mu.Lock()
			h.cancelled++
			h.mu.Unlock()
		},
	}
}

func (h *hookCounts) snapshot() (success, failed, cancelled int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.success, h.failed, h.cancelled
}

func (h *hookCounts) cause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failCause
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish in time")
	}
}

// waitIdleChecks blocks until exactly n checks have run and none is in
// flight, so the next signal cannot be dropped by the busy guard.
func waitIdleChecks(t *testing.T, s *Session, calls *atomic.Int32, n int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		active := s.pollActive
		s.mu.Unlock()
		if calls.Load() == n && !active {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d idle checks, got %d", n, calls.Load())
}

func TestSessionSuccessFlow(t *testing.T) {
	var calls atomic.Int32
	gw := &fakeGateway{
		generateInvoice: func(ctx context.Context, orderID uint) (string, error) {
			assert.Equal(t, uint(501), orderID)
			return "https://checkout.xendit.co/web/inv-501", nil
		},
		getStatus: func(ctx context.Context, orderID uint) (string, error) {
			if calls.Add(1) == 1 {
				return "pending", nil
			}
			return "paid", nil
		},
	}

	counts := &hookCounts{}
	s := NewSession(gw, 501, counts.hooks(), Options{PollInterval: 10 * time.Millisecond})
	defer s.Close()

	assert.Equal(t, StateIdle, s.State())

	url, err := s.GenerateInvoice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.xendit.co/web/inv-501", url)
	assert.Equal(t, StateAwaitingInvoice, s.State())
	assert.Equal(t, url, s.InvoiceURL())

	require.NoError(t, s.OpenPayment())
	assert.Equal(t, StatePaymentOpen, s.State())

	waitDone(t, s)
	assert.Equal(t, StateSuccess, s.State())
	assert.GreaterOrEqual(t, calls.Load(), int32(2))

	success, failed, cancelled := counts.snapshot()
	assert.Equal(t, 1, success)
	assert.Zero(t, failed)
	assert.Zero(t, cancelled)

	// Terminal state is sticky.
	_, err = s.GenerateInvoice(context.Background())
	assert.ErrorIs(t, err, ErrSessionFinished)
	assert.ErrorIs(t, s.Cancel(context.Background()), ErrSessionFinished)
	s.RequestCheck()

	success, _, _ = counts.snapshot()
	assert.Equal(t, 1, success)
}

func TestGenerateInvoiceRetriesAlone(t *testing.T) {
	var n atomic.Int32
	gw := &fakeGateway{
		generateInvoice: func(ctx context.Context, orderID uint) (string, error) {
			if n.Add(1) == 1 {
				return "", apiErr(order.KindInvoiceUnavailable)
			}
			return "https://checkout.xendit.co/web/inv-retry", nil
		},
	}

	s := NewSession(gw, 77, Hooks{}, Options{})
	defer s.Close()

	_, err := s.GenerateInvoice(context.Background())
	require.Error(t, err)
	assert.Equal(t, order.KindInvoiceUnavailable, order.KindOf(err))
	assert.Equal(t, StateAwaitingInvoice, s.State())

	// Without an invoice the payment page cannot open.
	assert.ErrorIs(t, s.OpenPayment(), ErrNoInvoice)

	url, err := s.GenerateInvoice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.xendit.co/web/inv-retry", url)
}

func TestGenerateInvoiceAuthExpiredIsFatal(t *testing.T) {
	gw := &fakeGateway{
		generateInvoice: func(ctx context.Context, orderID uint) (string, error) {
			return "", apiErr(order.KindAuthExpired)
		},
	}

	counts := &hookCounts{}
	s := NewSession(gw, 77, counts.hooks(), Options{})
	defer s.Close()

	_, err := s.GenerateInvoice(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, s.State())

	_, failed, _ := counts.snapshot()
	assert.Equal(t, 1, failed)
	assert.Equal(t, order.KindAuthExpired, order.KindOf(counts.cause()))

	_, err = s.GenerateInvoice(context.Background())
	assert.ErrorIs(t, err, ErrSessionFinished)
}

func TestStatusEndpointFallsBackToDetails(t *testing.T) {
	gw := &fakeGateway{
		getStatus: func(ctx context.Context, orderID uint) (string, error) {
			return "", apiErr(order.KindNetworkError)
		},
		getDetails: func(ctx context.Context, orderID uint) (*order.Order, error) {
			return &order.Order{ID: 7, Status: "completed"}, nil
		},
	}

	counts := &hookCounts{}
	s := NewSession(gw, 7, counts.hooks(), Options{PollInterval: 10 * time.Millisecond})
	defer s.Close()

	s.invoiceURL = "https://checkout.xendit.co/web/inv-7"
	require.NoError(t, s.OpenPayment())

	waitDone(t, s)
	assert.Equal(t, StateSuccess, s.State())

	success, _, _ := counts.snapshot()
	assert.Equal(t, 1, success)
}

func TestTransientMissesKeepPolling(t *testing.T) {
	var calls atomic.Int32
	gw := &fakeGateway{
		getStatus: func(ctx context.Context, orderID uint) (string, error) {
			if calls.Add(1) <= 2 {
				return "", apiErr(order.KindTimeout)
			}
			return "paid", nil
		},
		getDetails: func(ctx context.Context, orderID uint) (*order.Order, error) {
			return nil, apiErr(order.KindServerError)
		},
	}

	counts := &hookCounts{}
	s := NewSession(gw, 12, counts.hooks(), Options{PollInterval: 5 * time.Millisecond})
	defer s.Close()

	s.invoiceURL = "https://checkout.xendit.co/web/inv-12"
	require.NoError(t, s.OpenPayment())

	waitDone(t, s)
	assert.Equal(t, StateSuccess, s.State())
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestAuthExpiredDuringPollIsTerminal(t *testing.T) {
	gw := &fakeGateway{
		getStatus: func(ctx context.Context, orderID uint) (string, error) {
			return "", apiErr(order.KindAuthExpired)
		},
	}

	counts := &hookCounts{}
	s := NewSession(gw, 12, counts.hooks(), Options{PollInterval: time.Hour})
	defer s.Close()

	s.invoiceURL = "https://checkout.xendit.co/web/inv-12"
	require.NoError(t, s.OpenPayment())

	waitDone(t, s)
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, order.KindAuthExpired, order.KindOf(counts.cause()))

	_, failed, _ := counts.snapshot()
	assert.Equal(t, 1, failed)
}

func TestExpiredStatusFailsWithoutClearingAnything(t *testing.T) {
	gw := &fakeGateway{
		getStatus: func(ctx context.Context, orderID uint) (string, error) {
			return "expired", nil
		},
	}

	counts := &hookCounts{}
	s := NewSession(gw, 12, counts.hooks(), Options{PollInterval: time.Hour})
	defer s.Close()

	s.invoiceURL = "https://checkout.xendit.co/web/inv-12"
	require.NoError(t, s.OpenPayment())

	waitDone(t, s)
	assert.Equal(t, StateFailed, s.State())
	require.Error(t, s.Err())
	assert.Contains(t, s.Err().Error(), "expired")

	success, failed, _ := counts.snapshot()
	assert.Zero(t, success)
	assert.Equal(t, 1, failed)
}

func TestUnknownStatusIgnored(t *testing.T) {
	var calls atomic.Int32
	gw := &fakeGateway{
		getStatus: func(ctx context.Context, orderID uint) (string, error) {
			if calls.Add(1) == 1 {
				return "processing_maybe", nil
			}
			return "paid", nil
		},
	}

	s := NewSession(gw, 12, Hooks{}, Options{PollInterval: 5 * time.Millisecond})
	defer s.Close()

	s.invoiceURL = "https://checkout.xendit.co/web/inv-12"
	require.NoError(t, s.OpenPayment())

	waitDone(t, s)
	assert.Equal(t, StateSuccess, s.State())
}

func TestCancelStopsSessionOnBackendConfirm(t *testing.T) {
	var cancels atomic.Int32
	var calls atomic.Int32
	gw := &fakeGateway{
		getStatus: func(ctx context.Context, orderID uint) (string, error) {
			calls.Add(1)
			return "pending", nil
		},
		cancelOrder: func(ctx context.Context, orderID uint) error {
			assert.Equal(t, uint(33), orderID)
			cancels.Add(1)
			return nil
		},
	}

	counts := &hookCounts{}
	s := NewSession(gw, 33, counts.hooks(), Options{PollInterval: time.Hour})
	defer s.Close()

	s.invoiceURL = "https://checkout.xendit.co/web/inv-33"
	require.NoError(t, s.OpenPayment())
	waitIdleChecks(t, s, &calls, 1)

	require.NoError(t, s.Cancel(context.Background()))
	assert.Equal(t, StateCancelled, s.State())
	assert.Equal(t, int32(1), cancels.Load())

	waitDone(t, s)

	_, _, cancelled := counts.snapshot()
	assert.Equal(t, 1, cancelled)

	assert.ErrorIs(t, s.Cancel(context.Background()), ErrSessionFinished)
}

func TestCancelRefusedKeepsSessionOpen(t *testing.T) {
	gw := &fakeGateway{
		getStatus: func(ctx context.Context, orderID uint) (string, error) {
			return "pending", nil
		},
		cancelOrder: func(ctx context.Context, orderID uint) error {
			return apiErr(order.KindCancelFailed)
		},
	}

	counts := &hookCounts{}
	s := NewSession(gw, 33, counts.hooks(), Options{PollInterval: time.Hour})

	s.invoiceURL = "https://checkout.xendit.co/web/inv-33"
	require.NoError(t, s.OpenPayment())

	err := s.Cancel(context.Background())
	require.Error(t, err)
	assert.Equal(t, order.KindCancelFailed, order.KindOf(err))
	assert.Equal(t, StatePaymentOpen, s.State())

	s.Close()
	assert.Equal(t, StatePaymentOpen, s.State())

	success, failed, cancelled := counts.snapshot()
	assert.Zero(t, success)
	assert.Zero(t, failed)
	assert.Zero(t, cancelled)
}

func TestCancelBeforeOpen(t *testing.T) {
	s := NewSession(&fakeGateway{}, 33, Hooks{}, Options{})
	defer s.Close()

	assert.ErrorIs(t, s.Cancel(context.Background()), ErrNotOpen)
}

func TestSignalsDroppedWhileCheckInFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	gw := &fakeGateway{
		getStatus: func(ctx context.Context, orderID uint) (string, error) {
			if calls.Add(1) == 1 {
				close(entered)
				<-release
			}
			return "pending", nil
		},
	}

	s := NewSession(gw, 9, Hooks{}, Options{PollInterval: time.Hour})

	s.invoiceURL = "https://checkout.xendit.co/web/inv-9"
	require.NoError(t, s.OpenPayment())
	<-entered

	// All of these arrive mid-check and must be dropped, not queued.
	s.RequestCheck()
	s.NotifyForeground()
	s.NotifyNavigation("https://checkout.xendit.co/web/inv-9?status=success")

	close(release)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	s.Close()
}

func TestForegroundSignalsAreRateLimited(t *testing.T) {
	var calls atomic.Int32
	gw := &fakeGateway{
		getStatus: func(ctx context.Context, orderID uint) (string, error) {
			if calls.Add(1) <= 2 {
				return "pending", nil
			}
			return "paid", nil
		},
	}

	s := NewSession(gw, 9, Hooks{}, Options{
		PollInterval: time.Hour,
		SignalEvery:  time.Hour,
	})
	defer s.Close()

	s.invoiceURL = "https://checkout.xendit.co/web/inv-9"
	require.NoError(t, s.OpenPayment())
	waitIdleChecks(t, s, &calls, 1)

	// First foreground signal spends the limiter burst.
	s.NotifyForeground()
	waitIdleChecks(t, s, &calls, 2)

	// The second one inside the window is dropped.
	s.NotifyForeground()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())

	// Manual checks skip the limiter.
	s.RequestCheck()
	waitDone(t, s)
	assert.Equal(t, StateSuccess, s.State())
	assert.Equal(t, int32(3), calls.Load())
}

func TestNavigationURLOnlyTriggersRecheck(t *testing.T) {
	var calls atomic.Int32
	gw := &fakeGateway{
		getStatus: func(ctx context.Context, orderID uint) (string, error) {
			if calls.Add(1) == 1 {
				return "pending", nil
			}
			return "paid", nil
		},
	}

	s := NewSession(gw, 9, Hooks{}, Options{
		PollInterval: time.Hour,
		SignalEvery:  time.Millisecond,
	})
	defer s.Close()

	s.invoiceURL = "https://checkout.xendit.co/web/inv-9"
	require.NoError(t, s.OpenPayment())
	waitIdleChecks(t, s, &calls, 1)

	s.NotifyNavigation("https://store.example.id/orders/9")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, StatePaymentOpen, s.State())

	// A matching redirect schedules a backend check; the transition
	// comes from the backend answer, never from the URL.
	s.NotifyNavigation("https://checkout.xendit.co/web/inv-9?payment_status=success")
	waitDone(t, s)
	assert.Equal(t, StateSuccess, s.State())
}

func TestCloseStopsNonTerminalSession(t *testing.T) {
	gw := &fakeGateway{
		getStatus: func(ctx context.Context, orderID uint) (string, error) {
			return "pending", nil
		},
	}

	counts := &hookCounts{}
	s := NewSession(gw, 9, counts.hooks(), Options{PollInterval: 5 * time.Millisecond})

	s.invoiceURL = "https://checkout.xendit.co/web/inv-9"
	require.NoError(t, s.OpenPayment())
	time.Sleep(20 * time.Millisecond)

	s.Close()
	select {
	case <-s.Done():
	default:
		t.Fatal("Done must be closed after Close")
	}
	assert.Equal(t, StatePaymentOpen, s.State())

	success, failed, cancelled := counts.snapshot()
	assert.Zero(t, success)
	assert.Zero(t, failed)
	assert.Zero(t, cancelled)
}

func TestNeedsAttentionAfterStaleWindow(t *testing.T) {
	gw := &fakeGateway{
		getStatus: func(ctx context.Context, orderID uint) (string, error) {
			return "", apiErr(order.KindNetworkError)
		},
		getDetails: func(ctx context.Context, orderID uint) (*order.Order, error) {
			return nil, apiErr(order.KindNetworkError)
		},
	}

	s := NewSession(gw, 9, Hooks{}, Options{
		PollInterval: 5 * time.Millisecond,
		StaleAfter:   20 * time.Millisecond,
	})
	defer s.Close()

	assert.False(t, s.NeedsAttention())

	s.invoiceURL = "https://checkout.xendit.co/web/inv-9"
	require.NoError(t, s.OpenPayment())

	time.Sleep(60 * time.Millisecond)
	assert.True(t, s.NeedsAttention())
}
