// Package currency holds the owner-curated whitelist of settlement
// currencies. Trades against a currency outside the whitelist fail before any
// balance-mutating call.
package currency

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/omnidex/pkg/errors"
)

// WhitelistedCurrency is the persisted whitelist row.
type WhitelistedCurrency struct {
	Address   string `gorm:"primaryKey;size:42" json:"address"`
	CreatedAt time.Time
}

// Manager is the settlement-currency whitelist.
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewManager migrates the whitelist table and returns a manager.
func NewManager(db *gorm.DB, logger *zap.Logger) (*Manager, error) {
	if err := db.AutoMigrate(&WhitelistedCurrency{}); err != nil {
		return nil, errors.Wrap(err).Explain("migrate currency whitelist")
	}
	return &Manager{db: db, logger: logger.Named("currency")}, nil
}

// Add whitelists a currency. Idempotent.
func (m *Manager) Add(addr common.Address) error {
	row := WhitelistedCurrency{Address: addr.Hex()}
	if err := m.db.Where(&row).FirstOrCreate(&row).Error; err != nil {
		return errors.Wrap(err).Explain("whitelist currency")
	}
	m.logger.Info("currency whitelisted", zap.String("address", addr.Hex()))
	return nil
}

// Remove drops a currency from the whitelist. Idempotent.
func (m *Manager) Remove(addr common.Address) error {
	if err := m.db.Delete(&WhitelistedCurrency{}, "address = ?", addr.Hex()).Error; err != nil {
		return errors.Wrap(err).Explain("remove whitelisted currency")
	}
	m.logger.Info("currency removed from whitelist", zap.String("address", addr.Hex()))
	return nil
}

// IsWhitelisted reports whether the currency may settle trades.
func (m *Manager) IsWhitelisted(addr common.Address) bool {
	var count int64
	if err := m.db.Model(&WhitelistedCurrency{}).
		Where("address = ?", addr.Hex()).Count(&count).Error; err != nil {
		m.logger.Error("currency whitelist lookup failed", zap.Error(err))
		return false
	}
	return count > 0
}

// List returns every whitelisted currency.
func (m *Manager) List() ([]common.Address, error) {
	var rows []WhitelistedCurrency
	if err := m.db.Order("address").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err).Explain("list whitelisted currencies")
	}
	addrs := make([]common.Address, 0, len(rows))
	for _, row := range rows {
		addrs = append(addrs, common.HexToAddress(row.Address))
	}
	return addrs, nil
}
