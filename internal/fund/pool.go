package fund

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Aidin1998/omnidex/pkg/errors"
)

// MemoryPool is an in-process stand-in for the external swap pool: flat-fee
// quotes and escrow bookkeeping, no price curve. Real deployments point the
// fund manager at the production pool adapter instead.
type MemoryPool struct {
	fee *big.Int

	mu      sync.Mutex
	pools   map[uint64]bool
	swapped []SwapRecord
}

// SwapRecord is one escrowed swap, kept for inspection in tests and ops
// tooling.
type SwapRecord struct {
	SrcPoolID  uint64
	DstChainID uint16
	DstPoolID  uint64
	From       common.Address
	To         common.Address
	Amount     *big.Int
}

func NewMemoryPool(fee *big.Int) *MemoryPool {
	return &MemoryPool{fee: fee, pools: make(map[uint64]bool)}
}

// AddPool registers a pool id on this side of the bridge.
func (p *MemoryPool) AddPool(poolID uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pools[poolID] = true
}

func (p *MemoryPool) QuoteFee(srcPoolID uint64, dstChainID uint16, dstPoolID uint64) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.pools[srcPoolID] {
		return nil, errors.NewWithKind(errors.KindNotFound).Explain("unknown pool %d", srcPoolID)
	}
	return new(big.Int).Set(p.fee), nil
}

func (p *MemoryPool) Swap(ctx context.Context, srcPoolID uint64, dstChainID uint16, dstPoolID uint64, from common.Address, amount, minAmountOut *big.Int, to common.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.pools[srcPoolID] {
		return errors.NewWithKind(errors.KindNotFound).Explain("unknown pool %d", srcPoolID)
	}
	if amount.Cmp(minAmountOut) < 0 {
		return errors.Validation("swap output %s below minimum %s", amount, minAmountOut)
	}
	p.swapped = append(p.swapped, SwapRecord{
		SrcPoolID:  srcPoolID,
		DstChainID: dstChainID,
		DstPoolID:  dstPoolID,
		From:       from,
		To:         to,
		Amount:     new(big.Int).Set(amount),
	})
	return nil
}

// Swaps returns the escrowed swap records.
func (p *MemoryPool) Swaps() []SwapRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SwapRecord, len(p.swapped))
	copy(out, p.swapped)
	return out
}

var _ SwapPool = (*MemoryPool)(nil)
