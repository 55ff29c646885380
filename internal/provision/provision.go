// Package provision gives every building a ledger identity and an opening
// balance before the market starts.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/energy-market/internal/ledger"
	"github.com/atmx/energy-market/internal/model"
	"github.com/atmx/energy-market/internal/store"
)

var (
	// DefaultMinBalance triggers a faucet top-up when a balance is below it.
	DefaultMinBalance = decimal.RequireFromString("0.5")

	// DefaultBalance is assigned when the ledger cannot report a balance and
	// the building carries none.
	DefaultBalance = decimal.NewFromInt(1)

	// DefaultTopUp is the faucet request size in base units.
	DefaultTopUp = ledger.BaseUnitsPerCoin
)

// IdentityKey is the KV key under which a building's identity is kept.
func IdentityKey(buildingID string) string {
	return fmt.Sprintf("building_%s_identity", buildingID)
}

// Provisioner assigns identities and opening balances.
type Provisioner struct {
	kv         store.KV
	client     ledger.Client
	logger     *slog.Logger
	MinBalance decimal.Decimal
	TopUp      int64
}

// New creates a provisioner. A nil client leaves every building on
// DefaultBalance.
func New(kv store.KV, client ledger.Client, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		kv:         kv,
		client:     client,
		logger:     logger,
		MinBalance: DefaultMinBalance,
		TopUp:      DefaultTopUp,
	}
}

// Ensure provisions each building in place. Failures are logged and
// replaced by defaults; only context cancellation is returned.
func (p *Provisioner) Ensure(ctx context.Context, buildings []*model.Building) error {
	for _, b := range buildings {
		if err := ctx.Err(); err != nil {
			return err
		}
		if b == nil || b.ID == "" {
			continue
		}

		loaded := p.ensureIdentity(ctx, b)
		b.Balance = p.openingBalance(ctx, b)

		p.logger.Info("building provisioned",
			"building", b.ID,
			"kind", b.Kind,
			"identity", b.Identity,
			"existing", loaded,
			"balance", b.Balance.StringFixed(3),
		)
	}
	return nil
}

// ensureIdentity loads or issues b's identity and reports whether it
// already existed.
func (p *Provisioner) ensureIdentity(ctx context.Context, b *model.Building) bool {
	key := IdentityKey(b.ID)

	if p.kv != nil {
		id, err := p.kv.Get(ctx, key)
		switch {
		case err == nil && id != "":
			b.Identity = id
			return true
		case err != nil && !errors.Is(err, store.ErrNotFound):
			p.logger.Warn("identity lookup failed, issuing new identity", "building", b.ID, "err", err)
		}
	}

	if b.Identity == "" {
		b.Identity = uuid.NewString()
	}
	if p.kv != nil {
		if err := p.kv.Set(ctx, key, b.Identity); err != nil {
			p.logger.Warn("identity not persisted", "building", b.ID, "err", err)
		}
	}
	return false
}

func (p *Provisioner) openingBalance(ctx context.Context, b *model.Building) decimal.Decimal {
	if p.client == nil {
		return localBalance(b)
	}

	units, err := p.client.Balance(ctx, b.Identity)
	if err != nil && !errors.Is(err, ledger.ErrUnknownAccount) {
		p.logger.Warn("balance check failed, keeping local balance", "building", b.ID, "err", err)
		return localBalance(b)
	}
	balance := ledger.FromBaseUnits(units)
	if !balance.LessThan(p.MinBalance) {
		return balance
	}

	faucet, ok := p.client.(ledger.Faucet)
	if !ok {
		return balance
	}

	p.logger.Info("requesting top-up", "building", b.ID, "balance", balance.String())
	if _, err := faucet.RequestFunds(ctx, b.Identity, p.TopUp); err != nil {
		p.logger.Warn("top-up failed, using default", "building", b.ID, "err", err)
		return DefaultBalance
	}
	units, err = p.client.Balance(ctx, b.Identity)
	if err != nil {
		p.logger.Warn("balance check failed, using default", "building", b.ID, "err", err)
		return DefaultBalance
	}
	return ledger.FromBaseUnits(units)
}

// localBalance is the balance a building carries without the ledger: the
// restored one when set, otherwise DefaultBalance.
func localBalance(b *model.Building) decimal.Decimal {
	if b.Balance.IsZero() {
		return DefaultBalance
	}
	return b.Balance
}
