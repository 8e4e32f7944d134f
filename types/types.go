package types

import (
	"fmt"

	"github.com/Maxnflaxl/beam/common"
)

// ContractID identifies a deployed contract. It is the hash of the
// contract bytecode together with the constructor arguments.
type ContractID [32]byte

func (cid ContractID) Bytes() []byte {
	return cid[:]
}

func (cid ContractID) String() string {
	return common.Bytes2Hex(cid[:])
}

func BytesToContractID(b []byte) ContractID {
	var cid ContractID
	copy(cid[:], b)
	return cid
}

func HexToContractID(s string) ContractID {
	return BytesToContractID(common.Hex2Bytes(s))
}

// AssetID identifies an asset. Asset 0 is the native coin.
type AssetID uint32

// Amount is an unsigned quantity of an asset, in groth.
type Amount uint64

// AmountSigned is a signed quantity of an asset, used for net flows.
type AmountSigned int64

// Height is a block height.
type Height uint64

// Timestamp is a block timestamp, seconds since the epoch.
type Timestamp uint64

// PubKey is a compressed secp256k1 point: 32 bytes of X followed by
// one byte of Y parity.
type PubKey [33]byte

func (pk PubKey) Bytes() []byte {
	return pk[:]
}

func (pk PubKey) String() string {
	return common.Bytes2Hex(pk[:])
}

func BytesToPubKey(b []byte) (PubKey, error) {
	var pk PubKey
	if len(b) != len(pk) {
		return pk, fmt.Errorf("pubkey must be %d bytes, got %d", len(pk), len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// Signature is a Schnorr signature: the public nonce point R and the
// scalar k satisfying k*G == R + e*P.
type Signature struct {
	NoncePub PubKey
	K        [32]byte
}
