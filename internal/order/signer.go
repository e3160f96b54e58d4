package order

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Aidin1998/omnidex/pkg/errors"
)

// Sign fills the order's (v, r, s) with a secp256k1 signature over the
// EIP-712 digest. The key must belong to o.Signer.
func Sign(domain *Domain, o *MakerOrder, key *ecdsa.PrivateKey) error {
	if crypto.PubkeyToAddress(key.PublicKey) != o.Signer {
		return errors.NewWithKind(errors.KindBadSignature).Explain("signing key does not match order signer")
	}

	digest := Digest(domain, o)
	signature, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return errors.Wrap(err).Explain("sign order digest")
	}

	o.R = common.BytesToHash(signature[:32])
	o.S = common.BytesToHash(signature[32:64])
	o.V = signature[64] + 27
	return nil
}

// Verify recovers the signing address from (v, r, s) over the EIP-712 digest
// and requires it to equal o.Signer.
func Verify(domain *Domain, o *MakerOrder) error {
	if o.V != 27 && o.V != 28 {
		return errors.NewWithKind(errors.KindBadSignature).Explain("invalid recovery id %d", o.V)
	}

	signature := make([]byte, 65)
	copy(signature[:32], o.R.Bytes())
	copy(signature[32:64], o.S.Bytes())
	signature[64] = o.V - 27

	digest := Digest(domain, o)
	pub, err := crypto.SigToPub(digest.Bytes(), signature)
	if err != nil {
		return errors.NewWithKind(errors.KindBadSignature).Wrap(err).Explain("signature recovery failed")
	}
	if crypto.PubkeyToAddress(*pub) != o.Signer {
		return errors.NewWithKind(errors.KindBadSignature).Explain("recovered address does not match signer %s", o.Signer.Hex())
	}
	return nil
}
