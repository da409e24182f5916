package delta

import "golang.org/x/crypto/blake2b"

func strongHash(block []byte) [32]byte {
	return blake2b.Sum256(block)
}
