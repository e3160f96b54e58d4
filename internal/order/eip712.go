package order

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// EIP-712 domain constants. The verifying contract is the settlement engine's
// address on the chain named by the domain's chain id.
const (
	EIP712DomainName    = "OmnidexExchange"
	EIP712DomainVersion = "1"
)

// Pre-computed type hashes using keccak256
var (
	// EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)
	eip712DomainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))

	// MakerOrder(bool isAsk,address signer,address collection,uint256 price,uint256 tokenId,uint256 amount,address strategy,address currency,uint256 nonce,uint256 startTime,uint256 endTime,uint256 minPercentageToAsk,bytes params)
	makerOrderTypeHash = crypto.Keccak256Hash([]byte(
		"MakerOrder(bool isAsk,address signer,address collection,uint256 price,uint256 tokenId,uint256 amount,address strategy,address currency,uint256 nonce,uint256 startTime,uint256 endTime,uint256 minPercentageToAsk,bytes params)",
	))
)

// Domain is the EIP-712 signing domain binding orders to one engine on one
// chain, so a signed intent cannot be replayed against another deployment.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// NewDomain creates the standard omnidex domain for the given chain/engine.
func NewDomain(chainID uint64, verifyingContract common.Address) *Domain {
	return &Domain{
		Name:              EIP712DomainName,
		Version:           EIP712DomainVersion,
		ChainID:           new(big.Int).SetUint64(chainID),
		VerifyingContract: verifyingContract,
	}
}

// Separator computes the EIP-712 domain separator hash.
func (d *Domain) Separator() common.Hash {
	bytes32Type, _ := abi.NewType("bytes32", "", nil)
	uint256Type, _ := abi.NewType("uint256", "", nil)
	addressType, _ := abi.NewType("address", "", nil)

	arguments := abi.Arguments{
		{Type: bytes32Type}, // typeHash
		{Type: bytes32Type}, // nameHash
		{Type: bytes32Type}, // versionHash
		{Type: uint256Type}, // chainId
		{Type: addressType}, // verifyingContract
	}

	encoded, err := arguments.Pack(
		eip712DomainTypeHash,
		crypto.Keccak256Hash([]byte(d.Name)),
		crypto.Keccak256Hash([]byte(d.Version)),
		d.ChainID,
		d.VerifyingContract,
	)
	if err != nil {
		panic("failed to encode domain separator: " + err.Error())
	}

	return crypto.Keccak256Hash(encoded)
}

// StructHash computes the EIP-712 struct hash of the order. Params is folded
// in as keccak256(params) per the bytes encoding rule.
func (o *MakerOrder) StructHash() common.Hash {
	bytes32Type, _ := abi.NewType("bytes32", "", nil)
	boolType, _ := abi.NewType("bool", "", nil)
	addressType, _ := abi.NewType("address", "", nil)
	uint256Type, _ := abi.NewType("uint256", "", nil)

	arguments := abi.Arguments{
		{Type: bytes32Type}, // typeHash
		{Type: boolType},    // isAsk
		{Type: addressType}, // signer
		{Type: addressType}, // collection
		{Type: uint256Type}, // price
		{Type: uint256Type}, // tokenId
		{Type: uint256Type}, // amount
		{Type: addressType}, // strategy
		{Type: addressType}, // currency
		{Type: uint256Type}, // nonce
		{Type: uint256Type}, // startTime
		{Type: uint256Type}, // endTime
		{Type: uint256Type}, // minPercentageToAsk
		{Type: bytes32Type}, // keccak256(params)
	}

	encoded, err := arguments.Pack(
		makerOrderTypeHash,
		o.IsAsk,
		o.Signer,
		o.Collection,
		o.Price,
		o.TokenID,
		o.Amount,
		o.Strategy,
		o.Currency,
		new(big.Int).SetUint64(o.Nonce),
		big.NewInt(o.StartTime),
		big.NewInt(o.EndTime),
		new(big.Int).SetUint64(o.MinPercentageToAsk),
		crypto.Keccak256Hash(o.Params),
	)
	if err != nil {
		panic("failed to encode maker order struct: " + err.Error())
	}

	return crypto.Keccak256Hash(encoded)
}

// Digest creates the final EIP-712 hash to be signed:
// keccak256("\x19\x01" ++ domainSeparator ++ structHash).
func Digest(domain *Domain, o *MakerOrder) common.Hash {
	domainSeparator := domain.Separator()
	structHash := o.StructHash()

	data := make([]byte, 0, 2+32+32)
	data = append(data, 0x19, 0x01)
	data = append(data, domainSeparator.Bytes()...)
	data = append(data, structHash.Bytes()...)

	return crypto.Keccak256Hash(data)
}
