// Package bridge is the cross-chain messaging layer: the endpoint abstraction
// over the relay transport, trusted-remote bindings, stored payloads for
// failed deliveries, and the router that turns trade legs into packets.
//
// The relay network itself is an external collaborator; both endpoints here
// (in-process loopback and Kafka relay) are deliver-with-retry transports
// with per-path ordering and no cross-path guarantees.
package bridge

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AdapterParams tunes delivery on the destination chain. AirdropAmount is
// destination-chain native gas bundled with the message so the remote leg can
// execute.
type AdapterParams struct {
	DstGasLimit   uint64         `json:"dst_gas_limit"`
	AirdropAmount *big.Int       `json:"airdrop_amount,omitempty"`
	AirdropTo     common.Address `json:"airdrop_to,omitempty"`
}

// Endpoint hands packets to the relay transport for one source chain.
type Endpoint interface {
	// Send queues a payload for dstAddress on dstChainID and returns the
	// native fee charged. The send succeeding says nothing about the remote
	// outcome.
	Send(ctx context.Context, dstChainID uint16, dstAddress common.Address, payload []byte, refund common.Address, zroPayment common.Address, params AdapterParams) (*big.Int, error)

	// EstimateFees quotes the native (and ZRO, always zero here) fee for a
	// send with the given payload and adapter params.
	EstimateFees(dstChainID uint16, srcAddress common.Address, payload []byte, useZro bool, params AdapterParams) (*big.Int, *big.Int, error)
}

// Receiver is the inbound delivery handler with the fixed relay signature.
type Receiver interface {
	Receive(ctx context.Context, srcChainID uint16, srcAddress common.Address, nonce uint64, payload []byte) error
}

// FeeSchedule prices a send: base + per-byte, plus any airdrop carried.
type FeeSchedule struct {
	BaseFee *big.Int
	PerByte *big.Int
}

// DefaultFeeSchedule mirrors the loopback defaults used in local simulation.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{BaseFee: big.NewInt(1000), PerByte: big.NewInt(10)}
}

// Quote computes the native fee for a payload under this schedule.
func (f FeeSchedule) Quote(payloadLen int, params AdapterParams) *big.Int {
	fee := new(big.Int).Set(f.BaseFee)
	fee.Add(fee, new(big.Int).Mul(f.PerByte, big.NewInt(int64(payloadLen))))
	if params.AirdropAmount != nil {
		fee.Add(fee, params.AirdropAmount)
	}
	return fee
}

type pathKey struct {
	srcChainID uint16
	srcAddress common.Address
	dstChainID uint16
	dstAddress common.Address
}

func (k pathKey) String() string {
	return fmt.Sprintf("%d:%s->%d:%s", k.srcChainID, k.srcAddress.Hex(), k.dstChainID, k.dstAddress.Hex())
}
