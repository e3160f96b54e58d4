// Package execution holds the whitelist of matching strategies and the
// strategy implementations themselves. A strategy address must be registered
// with an implementation and whitelisted before the engine will dispatch to
// it.
package execution

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/omnidex/internal/order"
	"github.com/Aidin1998/omnidex/pkg/errors"
)

// Strategy is the pluggable price-agreement and fee rule. Implementations are
// pure: they inspect the orders and the clock, never balances.
type Strategy interface {
	// CanExecuteTakerBid decides whether a taker bid fills a maker ask,
	// returning the token id and amount to settle.
	CanExecuteTakerBid(maker *order.MakerOrder, taker *order.TakerOrder, now int64) (bool, *big.Int, *big.Int)
	// CanExecuteTakerAsk decides whether a taker ask fills a maker bid.
	CanExecuteTakerAsk(maker *order.MakerOrder, taker *order.TakerOrder, now int64) (bool, *big.Int, *big.Int)
	// ProtocolFeeBps is the protocol fee this strategy charges, in basis points.
	ProtocolFeeBps() uint64
}

// WhitelistedStrategy is the persisted whitelist row.
type WhitelistedStrategy struct {
	Address   string `gorm:"primaryKey;size:42" json:"address"`
	CreatedAt time.Time
}

// Manager binds strategy addresses to implementations and tracks the
// whitelist.
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger

	mu         sync.RWMutex
	strategies map[common.Address]Strategy
}

// NewManager migrates the whitelist table and returns a manager.
func NewManager(db *gorm.DB, logger *zap.Logger) (*Manager, error) {
	if err := db.AutoMigrate(&WhitelistedStrategy{}); err != nil {
		return nil, errors.Wrap(err).Explain("migrate strategy whitelist")
	}
	return &Manager{
		db:         db,
		logger:     logger.Named("execution"),
		strategies: make(map[common.Address]Strategy),
	}, nil
}

// Register binds an implementation to an address and whitelists it.
func (m *Manager) Register(addr common.Address, s Strategy) error {
	m.mu.Lock()
	m.strategies[addr] = s
	m.mu.Unlock()

	row := WhitelistedStrategy{Address: addr.Hex()}
	if err := m.db.Where(&row).FirstOrCreate(&row).Error; err != nil {
		return errors.Wrap(err).Explain("whitelist strategy")
	}
	m.logger.Info("strategy registered", zap.String("address", addr.Hex()))
	return nil
}

// Remove drops a strategy from the whitelist; the binding stays so an
// operator can re-whitelist without redeploying.
func (m *Manager) Remove(addr common.Address) error {
	if err := m.db.Delete(&WhitelistedStrategy{}, "address = ?", addr.Hex()).Error; err != nil {
		return errors.Wrap(err).Explain("remove whitelisted strategy")
	}
	m.logger.Info("strategy removed from whitelist", zap.String("address", addr.Hex()))
	return nil
}

// IsWhitelisted reports whether the strategy may match trades.
func (m *Manager) IsWhitelisted(addr common.Address) bool {
	var count int64
	if err := m.db.Model(&WhitelistedStrategy{}).
		Where("address = ?", addr.Hex()).Count(&count).Error; err != nil {
		m.logger.Error("strategy whitelist lookup failed", zap.Error(err))
		return false
	}
	return count > 0
}

// StrategyFor resolves the implementation bound to an address; the address
// must also still be whitelisted.
func (m *Manager) StrategyFor(addr common.Address) (Strategy, error) {
	m.mu.RLock()
	s, ok := m.strategies[addr]
	m.mu.RUnlock()
	if !ok || !m.IsWhitelisted(addr) {
		return nil, errors.NewWithKind(errors.KindStrategyNotWhitelisted).Explain("strategy %s not whitelisted", addr.Hex())
	}
	return s, nil
}

// List returns every whitelisted strategy address.
func (m *Manager) List() ([]common.Address, error) {
	var rows []WhitelistedStrategy
	if err := m.db.Order("address").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err).Explain("list whitelisted strategies")
	}
	addrs := make([]common.Address, 0, len(rows))
	for _, row := range rows {
		addrs = append(addrs, common.HexToAddress(row.Address))
	}
	return addrs, nil
}
