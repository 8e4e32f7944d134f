package common

import (
	"crypto/sha256"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// Sha256Hash computes the SHA-256 hash of the given data
func Sha256Hash(data []byte) Hash {
	h := sha256.Sum256(data)
	return Hash(h)
}

// Blake2bHash computes the BLAKE2b-256 hash of the given data
func Blake2bHash(data []byte) Hash {
	h := blake2b.Sum256(data)
	return Hash(h)
}

func Keccak256(data []byte) Hash {
	hash := sha3.NewLegacyKeccak256()
	hash.Write(data)
	return BytesToHash(hash.Sum(nil))
}
