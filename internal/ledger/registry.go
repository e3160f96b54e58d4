package ledger

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Aidin1998/omnidex/pkg/errors"
)

// Registry is one chain's view of the token contracts reachable by address.
type Registry struct {
	mu        sync.RWMutex
	fungibles map[common.Address]Fungible
	nfts      map[common.Address]NFT
}

func NewRegistry() *Registry {
	return &Registry{
		fungibles: make(map[common.Address]Fungible),
		nfts:      make(map[common.Address]NFT),
	}
}

func (r *Registry) RegisterFungible(addr common.Address, l Fungible) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fungibles[addr] = l
}

func (r *Registry) RegisterNFT(addr common.Address, l NFT) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nfts[addr] = l
}

// Fungible resolves a currency address.
func (r *Registry) Fungible(addr common.Address) (Fungible, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.fungibles[addr]
	if !ok {
		return nil, errors.NewWithKind(errors.KindNotFound).Explain("no fungible ledger at %s", addr.Hex())
	}
	return l, nil
}

// NFT resolves a collection address.
func (r *Registry) NFT(addr common.Address) (NFT, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.nfts[addr]
	if !ok {
		return nil, errors.NewWithKind(errors.KindNotFound).Explain("no collection ledger at %s", addr.Hex())
	}
	return l, nil
}
