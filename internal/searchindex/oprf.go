package searchindex

import "github.com/cloud10922/zkim/internal/cryptokernel"

// oprf evaluates the single-key OPRF trapdoor function T(w) = K·H(w),
// per §4.3.2. The same function indexes and queries, giving byte-equal
// outputs for equal w. When enableOPRF is false, a deterministic
// non-blinded fallback hash32(K ‖ w) is used instead.
type oprf struct {
	secretScalar [32]byte
	secretKey    []byte // raw bytes, used by the fallback construction
	enabled      bool
}

func newOPRF(secretKey []byte, enabled bool) *oprf {
	return &oprf{
		secretScalar: cryptokernel.BytesToScalar(secretKey),
		secretKey:    secretKey,
		enabled:      enabled,
	}
}

// trapdoor derives the trapdoor bytes for token w.
func (o *oprf) trapdoor(w string) ([]byte, error) {
	if !o.enabled {
		h := cryptokernel.Hash32(o.secretKey, []byte(w))
		return h[:], nil
	}
	point := cryptokernel.HashToPoint([]byte(w))
	out, err := cryptokernel.ScalarMult(o.secretScalar, point)
	if err != nil {
		return nil, err
	}
	return out[:], nil
}
