package transfer

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/Aidin1998/omnidex/internal/ledger"
	"github.com/Aidin1998/omnidex/pkg/errors"
)

// Selector maps a collection address to the transfer manager that can move
// it. Collections default to the generic ERC721/ERC1155 manager for their
// kind; operator-registered overrides route natively-bridgeable collections
// through a bridging-capable manager instead.
type Selector struct {
	ledgers *ledger.Registry
	erc721  Manager
	erc1155 Manager
	logger  *zap.Logger

	mu        sync.RWMutex
	overrides map[common.Address]Manager
}

func NewSelector(ledgers *ledger.Registry, erc721, erc1155 Manager, logger *zap.Logger) *Selector {
	return &Selector{
		ledgers:   ledgers,
		erc721:    erc721,
		erc1155:   erc1155,
		logger:    logger.Named("transfer-selector"),
		overrides: make(map[common.Address]Manager),
	}
}

// SetOverride routes a collection through a specific manager.
func (s *Selector) SetOverride(collection common.Address, m Manager) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[collection] = m
	s.logger.Info("transfer manager override set", zap.String("collection", collection.Hex()))
}

// RemoveOverride restores the default routing for a collection.
func (s *Selector) RemoveOverride(collection common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overrides, collection)
}

// ManagerFor resolves the manager responsible for a collection.
func (s *Selector) ManagerFor(collection common.Address) (Manager, error) {
	s.mu.RLock()
	if m, ok := s.overrides[collection]; ok {
		s.mu.RUnlock()
		return m, nil
	}
	s.mu.RUnlock()

	nft, err := s.ledgers.NFT(collection)
	if err != nil {
		return nil, err
	}
	if nft.Kind() == ledger.KindSemiFungible {
		return s.erc1155, nil
	}
	return s.erc721, nil
}

// ApplyInbound mints/unlocks an inbound asset leg on the local collection.
// Only collections whose ledger supports burn/mint bridging can receive one.
func (s *Selector) ApplyInbound(ctx context.Context, collection, to common.Address, tokenID, amount *big.Int) error {
	nft, err := s.ledgers.NFT(collection)
	if err != nil {
		return err
	}
	b, ok := nft.(ledger.BridgeableNFT)
	if !ok {
		return errors.NewWithKind(errors.KindTransferRejected).
			Explain("collection %s cannot mint inbound transfers", collection.Hex())
	}
	b.Mint(to, tokenID, amount)
	s.logger.Info("inbound asset leg applied",
		zap.String("collection", collection.Hex()),
		zap.String("to", to.Hex()),
		zap.String("token_id", tokenID.String()))
	return nil
}
