package bridge

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"

	"github.com/Aidin1998/omnidex/pkg/errors"
)

// StoredPayload is an inbound packet that failed to apply and awaits an
// operator decision: retry after fixing the cause, or force-resume and
// abandon it. The original caller's local transaction already succeeded, so
// this is the one place the two-phase design leaves cross-chain state
// inconsistent until manually resolved.
type StoredPayload struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	SrcChainID uint16 `gorm:"index:idx_stored_path" json:"src_chain_id"`
	SrcAddress string `gorm:"index:idx_stored_path;size:42" json:"src_address"`
	DstChainID uint16 `gorm:"index:idx_stored_path" json:"dst_chain_id"`
	DstAddress string `gorm:"index:idx_stored_path;size:42" json:"dst_address"`
	Nonce      uint64 `json:"nonce"`
	Payload    []byte `json:"payload"`
	Reason     string `json:"reason"`
	StoredAt   time.Time
}

// StoredPayloadStore persists stored payloads in path order.
type StoredPayloadStore struct {
	db *gorm.DB
}

func NewStoredPayloadStore(db *gorm.DB) (*StoredPayloadStore, error) {
	if err := db.AutoMigrate(&StoredPayload{}); err != nil {
		return nil, errors.Wrap(err).Explain("migrate stored payloads")
	}
	return &StoredPayloadStore{db: db}, nil
}

func (s *StoredPayloadStore) Store(p *StoredPayload) error {
	if err := s.db.Create(p).Error; err != nil {
		return errors.Wrap(err).Explain("store payload")
	}
	return nil
}

// ListPath returns a path's stored payloads oldest first.
func (s *StoredPayloadStore) ListPath(srcChainID uint16, srcAddress common.Address, dstChainID uint16, dstAddress common.Address) ([]StoredPayload, error) {
	var rows []StoredPayload
	err := s.db.Where("src_chain_id = ? AND src_address = ? AND dst_chain_id = ? AND dst_address = ?",
		srcChainID, srcAddress.Hex(), dstChainID, dstAddress.Hex()).
		Order("id").Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err).Explain("list stored payloads")
	}
	return rows, nil
}

// List returns every stored payload, for the operator API.
func (s *StoredPayloadStore) List() ([]StoredPayload, error) {
	var rows []StoredPayload
	if err := s.db.Order("id").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err).Explain("list stored payloads")
	}
	return rows, nil
}

func (s *StoredPayloadStore) Delete(id uint) error {
	if err := s.db.Delete(&StoredPayload{}, id).Error; err != nil {
		return errors.Wrap(err).Explain("delete stored payload")
	}
	return nil
}

// ProcessedLeg records an applied inbound leg so transport retries are no-ops.
type ProcessedLeg struct {
	SrcChainID uint16 `gorm:"primaryKey;autoIncrement:false" json:"src_chain_id"`
	TradeID    string `gorm:"primaryKey;size:128" json:"trade_id"`
	Leg        string `gorm:"primaryKey;size:16" json:"leg"`
	CreatedAt  time.Time
}

// ProcessedLegStore is the inbound idempotency table keyed by
// (source chain, trade id, leg).
type ProcessedLegStore struct {
	db *gorm.DB
	mu sync.Mutex
}

func NewProcessedLegStore(db *gorm.DB) (*ProcessedLegStore, error) {
	if err := db.AutoMigrate(&ProcessedLeg{}); err != nil {
		return nil, errors.Wrap(err).Explain("migrate processed legs")
	}
	return &ProcessedLegStore{db: db}, nil
}

// Seen reports whether the leg was already applied; a re-delivery of a seen
// leg must be a no-op rather than a double settlement.
func (s *ProcessedLegStore) Seen(srcChainID uint16, tradeID string, leg LegKind) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	err := s.db.Model(&ProcessedLeg{}).
		Where("src_chain_id = ? AND trade_id = ? AND leg = ?", srcChainID, tradeID, string(leg)).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err).Explain("check processed leg")
	}
	return count > 0, nil
}

// Mark records the leg as applied. Called after the apply succeeds so a
// failed apply stays retryable.
func (s *ProcessedLegStore) Mark(srcChainID uint16, tradeID string, leg LegKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := ProcessedLeg{SrcChainID: srcChainID, TradeID: tradeID, Leg: string(leg)}
	if err := s.db.Create(&row).Error; err != nil {
		return errors.Wrap(err).Explain("mark processed leg")
	}
	return nil
}
