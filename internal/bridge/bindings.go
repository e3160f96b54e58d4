package bridge

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/omnidex/pkg/errors"
)

// BindingKind classifies what a remote binding authorizes.
type BindingKind string

const (
	BindEngine     BindingKind = "engine"
	BindCollection BindingKind = "collection"
	BindCurrency   BindingKind = "currency"
)

// RemoteBinding authorizes one (remote chain, remote address) pair for a
// local asset or manager. Set once by an operator per asset per destination;
// re-authorization overwrites.
type RemoteBinding struct {
	Kind          string `gorm:"primaryKey;size:16" json:"kind"`
	LocalAddress  string `gorm:"primaryKey;size:42" json:"local_address"`
	RemoteChainID uint16 `gorm:"primaryKey;autoIncrement:false" json:"remote_chain_id"`
	RemoteAddress string `gorm:"size:42" json:"remote_address"`
	UpdatedAt     time.Time
}

// Bindings is the persisted remote-binding store for one chain instance.
type Bindings struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewBindings migrates the binding table and returns the store.
func NewBindings(db *gorm.DB, logger *zap.Logger) (*Bindings, error) {
	if err := db.AutoMigrate(&RemoteBinding{}); err != nil {
		return nil, errors.Wrap(err).Explain("migrate remote bindings")
	}
	return &Bindings{db: db, logger: logger.Named("bindings")}, nil
}

// Set authorizes a remote address for the local asset on the remote chain.
func (b *Bindings) Set(kind BindingKind, local common.Address, remoteChainID uint16, remote common.Address) error {
	row := RemoteBinding{
		Kind:          string(kind),
		LocalAddress:  local.Hex(),
		RemoteChainID: remoteChainID,
		RemoteAddress: remote.Hex(),
	}
	if err := b.db.Save(&row).Error; err != nil {
		return errors.Wrap(err).Explain("save remote binding")
	}
	b.logger.Info("remote binding set",
		zap.String("kind", string(kind)),
		zap.String("local", local.Hex()),
		zap.Uint16("remote_chain", remoteChainID),
		zap.String("remote", remote.Hex()))
	return nil
}

// Lookup resolves the bound remote address; missing bindings are an error so
// no cross-chain leg can route to an unauthorized address.
func (b *Bindings) Lookup(kind BindingKind, local common.Address, remoteChainID uint16) (common.Address, error) {
	var row RemoteBinding
	err := b.db.Where("kind = ? AND local_address = ? AND remote_chain_id = ?",
		string(kind), local.Hex(), remoteChainID).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return common.Address{}, errors.NewWithKind(errors.KindRemoteBindingMissing).
			Explain("no %s binding for %s on chain %d", kind, local.Hex(), remoteChainID)
	}
	if err != nil {
		return common.Address{}, errors.Wrap(err).Explain("load remote binding")
	}
	return common.HexToAddress(row.RemoteAddress), nil
}

// List returns every binding, for the operator API.
func (b *Bindings) List() ([]RemoteBinding, error) {
	var rows []RemoteBinding
	if err := b.db.Order("kind, local_address, remote_chain_id").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err).Explain("list remote bindings")
	}
	return rows, nil
}
