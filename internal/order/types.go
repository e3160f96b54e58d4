// Package order defines the signed maker intent and unsigned taker
// counter-order, their EIP-712 hashing and signature verification, and the
// per-signer nonce registry that makes intents replay-safe.
package order

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Aidin1998/omnidex/pkg/errors"
)

// MakerOrder is an off-chain signed intent to trade an asset for a price in a
// given currency. The signature covers every field including Params, so a
// single-byte mutation invalidates the order.
type MakerOrder struct {
	IsAsk              bool           `json:"isAsk"`
	Signer             common.Address `json:"signer"`
	Collection         common.Address `json:"collection"`
	Price              *big.Int       `json:"price"`
	TokenID            *big.Int       `json:"tokenId"`
	Amount             *big.Int       `json:"amount"`
	Strategy           common.Address `json:"strategy"`
	Currency           common.Address `json:"currency"`
	Nonce              uint64         `json:"nonce"`
	StartTime          int64          `json:"startTime"`
	EndTime            int64          `json:"endTime"`
	MinPercentageToAsk uint64         `json:"minPercentageToAsk"`
	Params             []byte         `json:"params"`

	V uint8       `json:"v"`
	R common.Hash `json:"r"`
	S common.Hash `json:"s"`
}

// TakerOrder is submitted with the call and carries no signature; the taker is
// the transaction's authenticated caller.
type TakerOrder struct {
	IsAsk              bool           `json:"isAsk"`
	Taker              common.Address `json:"taker"`
	Price              *big.Int       `json:"price"`
	TokenID            *big.Int       `json:"tokenId"`
	MinPercentageToAsk uint64         `json:"minPercentageToAsk"`
	Params             []byte         `json:"params"`
}

// Validate checks the time window and basic field sanity. Signature and nonce
// checks live in Verify and the nonce registry.
func (o *MakerOrder) Validate(now int64) error {
	if o.Price == nil || o.Price.Sign() <= 0 {
		return errors.Validation("maker order price must be positive")
	}
	if o.Amount == nil || o.Amount.Sign() <= 0 {
		return errors.Validation("maker order amount must be positive")
	}
	if o.TokenID == nil {
		return errors.Validation("maker order token id missing")
	}
	if o.StartTime > now {
		return errors.NewWithKind(errors.KindExpiredOrder).Explain("order not yet valid: starts at %d", o.StartTime)
	}
	if o.EndTime < now {
		return errors.NewWithKind(errors.KindExpiredOrder).Explain("order expired at %d", o.EndTime)
	}
	if o.MinPercentageToAsk > 10000 {
		return errors.Validation("minPercentageToAsk above 10000 bps")
	}
	return nil
}

// Validate checks taker field sanity.
func (o *TakerOrder) Validate() error {
	if o.Price == nil || o.Price.Sign() <= 0 {
		return errors.Validation("taker order price must be positive")
	}
	if o.TokenID == nil {
		return errors.Validation("taker order token id missing")
	}
	if (o.Taker == common.Address{}) {
		return errors.Validation("taker address missing")
	}
	return nil
}
