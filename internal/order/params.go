package order

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/Aidin1998/omnidex/pkg/errors"
)

// Params is the strategy- and routing-specific extra data carried in an
// order's params bytes. A zero DstChainID means the trade settles entirely on
// the chain the order was signed for. The remote addresses are informational
// hints for the taker; the engine settles against its operator-set remote
// bindings, never against maker-supplied addresses.
type Params struct {
	DstChainID       uint16
	RemoteCurrency   common.Address
	RemoteCollection common.Address
	RemoteStrategy   common.Address

	// Target is the designated counterparty for private sales.
	Target common.Address

	// StartPrice/EndPrice bound the dutch-auction decay.
	StartPrice *big.Int
	EndPrice   *big.Int
}

// IsCrossChain reports whether the params route the trade off the given chain.
func (p Params) IsCrossChain(localChainID uint16) bool {
	return p.DstChainID != 0 && p.DstChainID != localChainID
}

func paramsArguments() abi.Arguments {
	uint16Type, _ := abi.NewType("uint16", "", nil)
	addressType, _ := abi.NewType("address", "", nil)
	uint256Type, _ := abi.NewType("uint256", "", nil)

	return abi.Arguments{
		{Type: uint16Type},  // dstChainId
		{Type: addressType}, // remoteCurrency
		{Type: addressType}, // remoteCollection
		{Type: addressType}, // remoteStrategy
		{Type: addressType}, // target
		{Type: uint256Type}, // startPrice
		{Type: uint256Type}, // endPrice
	}
}

// EncodeParams ABI-encodes params into the order's bytes field.
func EncodeParams(p Params) ([]byte, error) {
	start := p.StartPrice
	if start == nil {
		start = new(big.Int)
	}
	end := p.EndPrice
	if end == nil {
		end = new(big.Int)
	}

	encoded, err := paramsArguments().Pack(
		p.DstChainID,
		p.RemoteCurrency,
		p.RemoteCollection,
		p.RemoteStrategy,
		p.Target,
		start,
		end,
	)
	if err != nil {
		return nil, errors.Wrap(err).Explain("encode order params")
	}
	return encoded, nil
}

// DecodeParams parses the order's params bytes. Empty params decode to the
// zero value, which routes the trade locally.
func DecodeParams(raw []byte) (Params, error) {
	if len(raw) == 0 {
		return Params{StartPrice: new(big.Int), EndPrice: new(big.Int)}, nil
	}

	values, err := paramsArguments().Unpack(raw)
	if err != nil {
		return Params{}, errors.Validation("malformed order params: %v", err)
	}

	return Params{
		DstChainID:       values[0].(uint16),
		RemoteCurrency:   values[1].(common.Address),
		RemoteCollection: values[2].(common.Address),
		RemoteStrategy:   values[3].(common.Address),
		Target:           values[4].(common.Address),
		StartPrice:       values[5].(*big.Int),
		EndPrice:         values[6].(*big.Int),
	}, nil
}
