// Package royalty computes the royalty split owed on a sale. The external
// royalty registry is the primary source; operator-set overrides fill gaps.
// Whatever either claims, the payout is capped at a global basis-point
// ceiling so a collection can never extract unbounded fees from takers.
package royalty

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/omnidex/pkg/errors"
)

// RegistryReader is the external, read-only royalty registry.
type RegistryReader interface {
	// RoyaltyInfo returns the recipient and royalty amount for a sale of
	// `amount` against the collection; ok is false when the registry has no
	// entry.
	RoyaltyInfo(collection common.Address, amount *big.Int) (common.Address, *big.Int, bool)
}

// Override is an operator-set registry entry used when the external registry
// is silent for a collection.
type Override struct {
	Collection string `gorm:"primaryKey;size:42" json:"collection"`
	Recipient  string `gorm:"size:42" json:"recipient"`
	Bps        uint64 `json:"bps"`
	UpdatedAt  time.Time
}

// FeeManager resolves and caps royalties.
type FeeManager struct {
	db       *gorm.DB
	external RegistryReader
	limitBps uint64
	logger   *zap.Logger
}

// NewFeeManager validates the cap and migrates the override table. The cap is
// configuration: an out-of-bound value is fatal here, never at trade time.
func NewFeeManager(db *gorm.DB, external RegistryReader, limitBps uint64, logger *zap.Logger) (*FeeManager, error) {
	if limitBps > 9500 {
		return nil, errors.NewWithKind(errors.KindConfig).Explain("royalty fee limit %d bps above 9500", limitBps)
	}
	if err := db.AutoMigrate(&Override{}); err != nil {
		return nil, errors.Wrap(err).Explain("migrate royalty overrides")
	}
	return &FeeManager{db: db, external: external, limitBps: limitBps, logger: logger.Named("royalty")}, nil
}

// LimitBps returns the global royalty ceiling.
func (f *FeeManager) LimitBps() uint64 { return f.limitBps }

// SetOverride records an operator override. Bounds are checked at set time.
func (f *FeeManager) SetOverride(collection, recipient common.Address, bps uint64) error {
	if bps > f.limitBps {
		return errors.NewWithKind(errors.KindConfig).Explain("override %d bps above royalty limit %d", bps, f.limitBps)
	}
	row := Override{Collection: collection.Hex(), Recipient: recipient.Hex(), Bps: bps}
	if err := f.db.Save(&row).Error; err != nil {
		return errors.Wrap(err).Explain("save royalty override")
	}
	f.logger.Info("royalty override set",
		zap.String("collection", collection.Hex()),
		zap.Uint64("bps", bps))
	return nil
}

// RemoveOverride drops an operator override. Idempotent.
func (f *FeeManager) RemoveOverride(collection common.Address) error {
	if err := f.db.Delete(&Override{}, "collection = ?", collection.Hex()).Error; err != nil {
		return errors.Wrap(err).Explain("remove royalty override")
	}
	return nil
}

// ListOverrides returns every operator override.
func (f *FeeManager) ListOverrides() ([]Override, error) {
	var rows []Override
	if err := f.db.Order("collection").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err).Explain("list royalty overrides")
	}
	return rows, nil
}

// ComputeRoyalty returns the royalty recipient and amount for a sale, capped
// at the global limit. A zero recipient or zero amount means no royalty.
func (f *FeeManager) ComputeRoyalty(collection common.Address, amount *big.Int) (common.Address, *big.Int, error) {
	cap := capAmount(amount, f.limitBps)

	if f.external != nil {
		if recipient, royalty, ok := f.external.RoyaltyInfo(collection, amount); ok {
			if royalty.Cmp(cap) > 0 {
				f.logger.Warn("registry royalty above cap, clamping",
					zap.String("collection", collection.Hex()),
					zap.String("claimed", royalty.String()),
					zap.String("cap", cap.String()))
				royalty = cap
			}
			return recipient, new(big.Int).Set(royalty), nil
		}
	}

	var row Override
	err := f.db.Where("collection = ?", collection.Hex()).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return common.Address{}, new(big.Int), nil
	}
	if err != nil {
		return common.Address{}, nil, errors.Wrap(err).Explain("load royalty override")
	}

	royalty := new(big.Int).Mul(amount, new(big.Int).SetUint64(row.Bps))
	royalty.Quo(royalty, big.NewInt(10000))
	if royalty.Cmp(cap) > 0 {
		royalty = cap
	}
	return common.HexToAddress(row.Recipient), royalty, nil
}

func capAmount(amount *big.Int, limitBps uint64) *big.Int {
	cap := new(big.Int).Mul(amount, new(big.Int).SetUint64(limitBps))
	return cap.Quo(cap, big.NewInt(10000))
}
