// Package settlement executes matched trade requests against the payment
// network and records the outcome.
//
// Every well-formed request produces exactly one trade. When the network
// is missing, unreachable, or does not confirm, the trade is settled
// locally: balances move in memory and the trade carries a SIMULATED_
// reference. Callers never see network errors.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/energy-market/internal/ledger"
	"github.com/atmx/energy-market/internal/metrics"
	"github.com/atmx/energy-market/internal/model"
	"github.com/atmx/energy-market/internal/store"
)

// Executor settles trade requests one at a time.
type Executor struct {
	client  ledger.Client
	log     *Log
	journal store.TradeJournal
	logger  *slog.Logger
	now     func() time.Time
	newRef  func() string
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock sets the source of trade timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithJournal mirrors every settled trade into j.
func WithJournal(j store.TradeJournal) Option {
	return func(e *Executor) { e.journal = j }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithLog appends into an existing trade log.
func WithLog(l *Log) Option {
	return func(e *Executor) { e.log = l }
}

// NewExecutor creates an executor. A nil client settles everything locally.
func NewExecutor(client ledger.Client, opts ...Option) *Executor {
	e := &Executor{
		client: client,
		logger: slog.Default(),
		now:    time.Now,
		newRef: func() string { return ledger.SimulatedPrefix + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = NewLog()
	}
	return e
}

// Log returns the executor's trade log.
func (e *Executor) Log() *Log { return e.log }

// Settle executes req between seller and buyer, updating their balances.
// The only errors are precondition violations; network trouble falls back
// to a simulated settlement. Once started, a settlement ignores cancellation
// of ctx and runs to confirmation or fallback; network timeouts belong to
// the ledger client.
func (e *Executor) Settle(ctx context.Context, req model.TradeRequest, seller, buyer *model.Building) (model.Trade, error) {
	if err := checkPreconditions(req, seller, buyer); err != nil {
		return model.Trade{}, err
	}
	ctx = context.WithoutCancel(ctx)

	start := time.Now()
	total := req.TotalPrice()

	trade, reason := e.settleOnNetwork(ctx, req, seller, buyer, total)
	if reason != "" {
		e.applyLocally(seller, buyer, total)
		trade.SettlementRef = e.newRef()
		trade.Simulated = true
		metrics.SettlementFallbacks.WithLabelValues(reason).Inc()
		e.logger.Info("trade settled locally",
			"seller", seller.ID,
			"buyer", buyer.ID,
			"reason", reason,
			"ref", trade.SettlementRef,
		)
	}

	trade.Timestamp = e.now()
	trade.SellerID = seller.ID
	trade.BuyerID = buyer.ID
	trade.SellerIdentity = seller.Identity
	trade.BuyerIdentity = buyer.Identity
	trade.EnergyAmount = req.EnergyAmount
	trade.PricePerUnit = req.PricePerUnit
	trade.TotalPrice = total

	e.log.Append(trade)
	if e.journal != nil {
		if err := e.journal.AppendTrade(ctx, &trade); err != nil {
			e.logger.Error("journal append failed", "ref", trade.SettlementRef, "err", err)
		}
	}

	mode := metrics.Mode(trade.Simulated)
	metrics.TradesTotal.WithLabelValues(mode).Inc()
	metrics.SettlementLatency.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	energy, _ := req.EnergyAmount.Float64()
	metrics.EnergyTraded.Add(energy)

	return trade, nil
}

// settleOnNetwork attempts the real transfer. A non-empty reason means the
// caller must fall back; in that case no balance has been touched.
func (e *Executor) settleOnNetwork(ctx context.Context, req model.TradeRequest, seller, buyer *model.Building, total decimal.Decimal) (model.Trade, string) {
	if e.client == nil {
		return model.Trade{}, reasonNoClient
	}

	units := ledger.ToBaseUnits(total)
	if units <= 0 {
		return model.Trade{}, reasonDust
	}

	conf, err := e.client.Transfer(ctx, buyer.Identity, seller.Identity, units)
	switch {
	case errors.Is(err, ledger.ErrNotConfirmed):
		e.logger.Warn("transfer not confirmed", "buyer", buyer.ID, "seller", seller.ID, "err", err)
		return model.Trade{}, reasonUnconfirmed
	case err != nil:
		e.logger.Warn("transfer failed", "buyer", buyer.ID, "seller", seller.ID, "err", err)
		return model.Trade{}, reasonTransport
	case !conf.Confirmed:
		return model.Trade{}, reasonUnconfirmed
	case conf.Reference == "":
		return model.Trade{}, reasonNoReference
	}

	e.refreshBalances(ctx, seller, buyer, ledger.FromBaseUnits(units))

	e.logger.Info("trade settled on network",
		"seller", seller.ID,
		"buyer", buyer.ID,
		"kwh", req.EnergyAmount.String(),
		"units", units,
		"ref", conf.Reference,
	)
	return model.Trade{SettlementRef: conf.Reference}, ""
}

// refreshBalances re-reads both balances after a confirmed transfer. If
// either read fails, the confirmed delta is applied locally instead.
func (e *Executor) refreshBalances(ctx context.Context, seller, buyer *model.Building, moved decimal.Decimal) {
	buyerUnits, errB := e.client.Balance(ctx, buyer.Identity)
	sellerUnits, errS := e.client.Balance(ctx, seller.Identity)
	if errB != nil || errS != nil {
		e.logger.Warn("balance refresh failed, applying confirmed delta",
			"buyer_err", errB,
			"seller_err", errS,
		)
		e.applyLocally(seller, buyer, moved)
		return
	}
	buyer.Balance = ledger.FromBaseUnits(buyerUnits)
	seller.Balance = ledger.FromBaseUnits(sellerUnits)
}

func (e *Executor) applyLocally(seller, buyer *model.Building, amount decimal.Decimal) {
	buyer.Balance = buyer.Balance.Sub(amount)
	seller.Balance = seller.Balance.Add(amount)
}

func checkPreconditions(req model.TradeRequest, seller, buyer *model.Building) error {
	if seller == nil || buyer == nil {
		return fmt.Errorf("%w: %w: nil building", ErrPrecondition, ErrMismatchedParty)
	}
	if seller.ID != req.SellerID {
		return fmt.Errorf("%w: %w: seller %s, request names %s", ErrPrecondition, ErrMismatchedParty, seller.ID, req.SellerID)
	}
	if buyer.ID != req.BuyerID {
		return fmt.Errorf("%w: %w: buyer %s, request names %s", ErrPrecondition, ErrMismatchedParty, buyer.ID, req.BuyerID)
	}
	if seller.Identity == "" {
		return fmt.Errorf("%w: %w: seller %s", ErrPrecondition, ErrMissingIdentity, seller.ID)
	}
	if buyer.Identity == "" {
		return fmt.Errorf("%w: %w: buyer %s", ErrPrecondition, ErrMissingIdentity, buyer.ID)
	}
	if !req.EnergyAmount.IsPositive() || !req.PricePerUnit.IsPositive() {
		return fmt.Errorf("%w: %w: amount %s price %s", ErrPrecondition, ErrInvalidRequest, req.EnergyAmount, req.PricePerUnit)
	}
	return nil
}
