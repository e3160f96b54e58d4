// Package ledger models the external token contracts the settlement core
// moves assets through. The engine is non-custodial: it only ever calls these
// interfaces with the approvals the owners granted, and custody stays inside
// the ledger for the duration of one call.
//
// The in-memory implementations stand in for the on-ledger ERC-20/721/1155
// contracts in tests and local multi-chain simulation.
package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TokenKind distinguishes unique (ERC721-style) from semi-fungible
// (ERC1155-style) collections.
type TokenKind int

const (
	KindUnique TokenKind = iota
	KindSemiFungible
)

// Fungible is an ERC-20-shaped currency ledger.
type Fungible interface {
	BalanceOf(owner common.Address) *big.Int
	Allowance(owner, spender common.Address) *big.Int
	Approve(owner, spender common.Address, amount *big.Int)
	// TransferFrom moves amount from `from` to `to`, spending the allowance
	// granted to spender. A spender equal to `from` needs no allowance.
	TransferFrom(spender, from, to common.Address, amount *big.Int) error
}

// BridgeableFungible is a natively omnichain currency: the bridging manager
// burns on the source chain and mints on the destination chain.
type BridgeableFungible interface {
	Fungible
	Mint(to common.Address, amount *big.Int)
	Burn(from common.Address, amount *big.Int) error
}

// NFT is an ERC-721/1155-shaped collection ledger.
type NFT interface {
	Kind() TokenKind
	BalanceOf(owner common.Address, tokenID *big.Int) *big.Int
	OwnerOf(tokenID *big.Int) (common.Address, bool)
	IsApprovedForAll(owner, operator common.Address) bool
	SetApprovalForAll(owner, operator common.Address, approved bool)
	// SafeTransferFrom moves amount units of tokenID. The operator must be the
	// owner or approved for all of the owner's tokens.
	SafeTransferFrom(operator, from, to common.Address, tokenID, amount *big.Int) error
}

// BridgeableNFT is a natively bridgeable collection (ONFT-style).
type BridgeableNFT interface {
	NFT
	Mint(to common.Address, tokenID, amount *big.Int)
	Burn(operator, from common.Address, tokenID, amount *big.Int) error
}
