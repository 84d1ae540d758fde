package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"usada-checkout/internal/auth"
	"usada-checkout/internal/cart"
	"usada-checkout/internal/config"
	"usada-checkout/internal/logger"
	"usada-checkout/internal/order"
	"usada-checkout/internal/payment"
	"usada-checkout/internal/shipping"
	"usada-checkout/internal/storage"

	"go.uber.org/zap"
)

// Checks out whatever is in the locally persisted cart: builds the
// order from the saved shipping profile, submits it, prints the
// payment invoice URL and keeps reconciling the payment status until
// it settles or the process is interrupted.
func main() {
	cfg := config.LoadConfig()
	logger.Init(cfg.AppEnv)
	defer logger.Sync()

	store, err := storage.NewFileStore(cfg.DataDir)
	if err != nil {
		logger.L().Fatal("cannot open data dir", zap.String("dir", cfg.DataDir), zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cartStore := cart.NewStore(ctx, store)
	profile := shipping.NewStore(ctx, store)

	var tokens auth.TokenSource
	if cfg.AuthToken != "" {
		tokens = auth.StaticTokenSource(cfg.AuthToken)
	} else {
		tokens = auth.NewStorageTokenSource(store)
	}

	gw := order.NewGateway(cfg.OrderAPIBaseURL, tokens)

	lines := cartStore.SnapshotForCheckout()
	prices := make(map[uint]float64, len(lines))
	for _, item := range cartStore.Items() {
		prices[item.VariantID] = item.UnitPrice
	}

	req, err := order.Build(lines, profile.Get(), prices)
	if err != nil {
		for _, fe := range order.FieldErrors(err) {
			logger.L().Warn("invalid checkout field",
				zap.String("field", fe.Field),
				zap.String("message", fe.Message),
			)
		}
		logger.L().Fatal("checkout rejected", zap.Error(err))
	}

	subtotal, fee, tax, total := order.Totals(lines, prices)
	logger.L().Info("submitting order",
		zap.Int("items", cartStore.TotalItems()),
		zap.Float64("subtotal", subtotal),
		zap.Float64("shipping_fee", fee),
		zap.Float64("tax", tax),
		zap.Float64("total", total),
	)

	created, err := gw.CreateOrder(ctx, req)
	if err != nil {
		logger.L().Fatal("order creation failed", zap.Error(err))
	}

	sess := payment.NewSession(gw, created.ID, payment.Hooks{
		OnSuccess: func(hctx context.Context) {
			if err := cartStore.CompleteCheckout(hctx); err != nil {
				logger.FromCtx(hctx).Warn("cart cleanup after payment failed", zap.Error(err))
			}
			logger.FromCtx(hctx).Info("payment confirmed, cart cleared")
		},
		OnFailed: func(hctx context.Context, cause error) {
			logger.FromCtx(hctx).Error("payment failed, cart kept for retry", zap.Error(cause))
		},
		OnCancelled: func(hctx context.Context) {
			logger.FromCtx(hctx).Info("payment cancelled, cart kept")
		},
	}, payment.Options{PollInterval: cfg.PollInterval})
	defer sess.Close()

	// The order now exists either way; only this step gets retried on
	// failure, never the creation.
	url, err := sess.GenerateInvoice(ctx)
	if err != nil {
		logger.L().Fatal("invoice generation failed, order left unpaid",
			zap.Uint("order_id", created.ID),
			zap.Error(err),
		)
	}

	logger.L().Info("open the invoice to pay",
		zap.Uint("order_id", created.ID),
		zap.String("invoice_url", url),
	)

	if err := sess.OpenPayment(); err != nil {
		logger.L().Fatal("cannot start payment reconciliation", zap.Error(err))
	}

	select {
	case <-sess.Done():
	case <-ctx.Done():
		logger.L().Info("interrupted, stopping status checks",
			zap.Uint("order_id", created.ID),
		)
	}

	logger.L().Info("checkout finished", zap.String("state", string(sess.State())))
}
