package bridge

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Aidin1998/omnidex/pkg/errors"
)

// LegKind names the two independent channels a cross-chain trade settles
// over.
type LegKind string

const (
	LegAsset    LegKind = "asset"
	LegCurrency LegKind = "currency"
)

// TradeRef identifies one trade across chains: the chain the taker executed
// on plus the maker's (signer, nonce) pair, which the nonce registry
// guarantees is spent at most once.
func TradeRef(srcChainID uint16, signer common.Address, nonce uint64) string {
	return fmt.Sprintf("%d:%s:%d", srcChainID, signer.Hex(), nonce)
}

// Payload is one trade leg in flight. Addresses are destination-side: the
// sender resolves its remote bindings before the packet leaves, so the
// receiver applies the leg without re-deriving anything from signed orders.
//
// A zero From means the value was burned or escrowed at the source and the
// destination mints/releases it. A non-zero From instructs the destination to
// move custody locally from that address, relying on the approval its owner
// granted the destination-side manager.
type Payload struct {
	Leg     LegKind `json:"leg"`
	TradeID string  `json:"trade_id"`

	// Asset is the destination-side collection or currency address.
	Asset common.Address `json:"asset"`
	From  common.Address `json:"from,omitempty"`
	// To receives the minted/unlocked asset or the currency payout.
	To      common.Address `json:"to"`
	TokenID *big.Int       `json:"token_id,omitempty"`
	Amount  *big.Int       `json:"amount"`

	// Fee split for pull-mode currency legs, computed by the sending engine.
	ProtocolFee          *big.Int       `json:"protocol_fee,omitempty"`
	ProtocolFeeRecipient common.Address `json:"protocol_fee_recipient,omitempty"`
	RoyaltyFee           *big.Int       `json:"royalty_fee,omitempty"`
	RoyaltyRecipient     common.Address `json:"royalty_recipient,omitempty"`
	MinPercentageToAsk   uint64         `json:"min_percentage_to_ask,omitempty"`
}

// Encode serializes the payload for the wire.
func (p Payload) Encode() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(err).Explain("encode leg payload")
	}
	return data, nil
}

// DecodePayload parses a wire payload.
func DecodePayload(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, errors.Validation("malformed leg payload: %v", err)
	}
	if p.Leg != LegAsset && p.Leg != LegCurrency {
		return Payload{}, errors.Validation("unknown leg kind %q", p.Leg)
	}
	if p.Amount == nil {
		return Payload{}, errors.Validation("leg payload missing amount")
	}
	return p, nil
}
