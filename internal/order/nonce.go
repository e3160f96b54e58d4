package order

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"

	"github.com/Aidin1998/omnidex/pkg/errors"
)

// NonceFloor is the per-signer monotonic floor: every nonce below
// MinValidNonce is cancelled. Raising the floor also prunes consumed-nonce
// rows below it, keeping replay state bounded.
type NonceFloor struct {
	Signer        string `gorm:"primaryKey;size:42" json:"signer"`
	MinValidNonce uint64 `json:"min_valid_nonce"`
	UpdatedAt     time.Time
}

// ConsumedNonce records an out-of-order nonce spent above the floor.
type ConsumedNonce struct {
	Signer    string `gorm:"primaryKey;size:42" json:"signer"`
	Nonce     uint64 `gorm:"primaryKey;autoIncrement:false" json:"nonce"`
	CreatedAt time.Time
}

// NonceRegistry tracks which (signer, nonce) pairs are still usable. A nonce
// is usable iff it is at or above the signer's floor and not in the consumed
// set; consuming is O(1) per trade.
type NonceRegistry struct {
	db *gorm.DB
	mu sync.Mutex
}

// NewNonceRegistry migrates the nonce tables and returns a registry.
func NewNonceRegistry(db *gorm.DB) (*NonceRegistry, error) {
	if err := db.AutoMigrate(&NonceFloor{}, &ConsumedNonce{}); err != nil {
		return nil, errors.Wrap(err).Explain("migrate nonce tables")
	}
	return &NonceRegistry{db: db}, nil
}

// MinValid returns the signer's current nonce floor (zero when unset).
func (r *NonceRegistry) MinValid(signer common.Address) (uint64, error) {
	var row NonceFloor
	err := r.db.Where("signer = ?", signer.Hex()).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err).Explain("load nonce floor")
	}
	return row.MinValidNonce, nil
}

// IsUsable reports whether the (signer, nonce) pair can still be consumed.
func (r *NonceRegistry) IsUsable(signer common.Address, nonce uint64) error {
	floor, err := r.MinValid(signer)
	if err != nil {
		return err
	}
	if nonce < floor {
		return errors.NewWithKind(errors.KindReplayedOrder).Explain("nonce %d below cancelled floor %d", nonce, floor)
	}

	var count int64
	if err := r.db.Model(&ConsumedNonce{}).
		Where("signer = ? AND nonce = ?", signer.Hex(), nonce).
		Count(&count).Error; err != nil {
		return errors.Wrap(err).Explain("check consumed nonce")
	}
	if count > 0 {
		return errors.NewWithKind(errors.KindReplayedOrder).Explain("nonce %d already consumed", nonce)
	}
	return nil
}

// Consume marks the nonce spent. A second call for the same pair fails with
// ReplayedOrder.
func (r *NonceRegistry) Consume(signer common.Address, nonce uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.IsUsable(signer, nonce); err != nil {
		return err
	}
	if err := r.db.Create(&ConsumedNonce{Signer: signer.Hex(), Nonce: nonce}).Error; err != nil {
		return errors.Wrap(err).Explain("record consumed nonce")
	}
	return nil
}

// Release undoes a Consume. Only the engine's failure compensation calls
// this, when a later pipeline stage fails after the nonce was spent.
func (r *NonceRegistry) Release(signer common.Address, nonce uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.db.Where("signer = ? AND nonce = ?", signer.Hex(), nonce).
		Delete(&ConsumedNonce{}).Error; err != nil {
		return errors.Wrap(err).Explain("release consumed nonce")
	}
	return nil
}

// CancelAllBelow raises the signer's floor to minValid: every nonce below it
// becomes unusable. Idempotent; the floor never lowers.
func (r *NonceRegistry) CancelAllBelow(signer common.Address, minValid uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	floor, err := r.MinValid(signer)
	if err != nil {
		return err
	}
	if minValid < floor {
		return errors.Validation("cancel floor %d below current floor %d", minValid, floor)
	}
	if minValid == floor {
		return nil
	}

	return r.db.Transaction(func(tx *gorm.DB) error {
		row := NonceFloor{Signer: signer.Hex(), MinValidNonce: minValid}
		if err := tx.Save(&row).Error; err != nil {
			return errors.Wrap(err).Explain("raise nonce floor")
		}
		// Consumed rows below the floor are redundant.
		if err := tx.Where("signer = ? AND nonce < ?", signer.Hex(), minValid).
			Delete(&ConsumedNonce{}).Error; err != nil {
			return errors.Wrap(err).Explain("prune consumed nonces")
		}
		return nil
	})
}

// Cancel invalidates the listed nonces without a matching trade. Idempotent.
func (r *NonceRegistry) Cancel(signer common.Address, nonces ...uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	floor, err := r.MinValid(signer)
	if err != nil {
		return err
	}
	for _, nonce := range nonces {
		if nonce < floor {
			continue
		}
		var count int64
		if err := r.db.Model(&ConsumedNonce{}).
			Where("signer = ? AND nonce = ?", signer.Hex(), nonce).
			Count(&count).Error; err != nil {
			return errors.Wrap(err).Explain("check consumed nonce")
		}
		if count > 0 {
			continue
		}
		if err := r.db.Create(&ConsumedNonce{Signer: signer.Hex(), Nonce: nonce}).Error; err != nil {
			return errors.Wrap(err).Explain("cancel nonce %d", nonce)
		}
	}
	return nil
}
