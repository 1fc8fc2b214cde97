// Package crypto implements the BDHKE (Blind Diffie-Hellman Key Exchange)
// blind-signature primitives the mint and wallet use to issue and redeem
// ecash, and the deterministic derivation of a mint's per-amount keyset.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// HashToCurve deterministically maps message to a point on secp256k1.
// It hashes the message with SHA-256, interprets the digest as the x
// coordinate of a compressed point (prefix 0x02), and re-hashes the
// digest as the next candidate until one lands on the curve.
func HashToCurve(message []byte) *secp256k1.PublicKey {
	var point *secp256k1.PublicKey

	msg := message
	for point == nil || !point.IsOnCurve() {
		hash := sha256.Sum256(msg)
		candidate := append([]byte{0x02}, hash[:]...)
		point, _ = secp256k1.ParsePubKey(candidate)
		msg = hash[:]
	}
	return point
}

// NewBlindingFactor returns 32 bytes of cryptographically secure randomness
// suitable for use as the scalar r in step1_alice.
func NewBlindingFactor() ([]byte, error) {
	r := make([]byte, 32)
	if _, err := rand.Read(r); err != nil {
		return nil, fmt.Errorf("error generating blinding factor: %v", err)
	}
	return r, nil
}

// BlindMessage is step1_alice: given a secret and blinding factor, it
// returns B_ = HashToCurve(secret) + r*G and the scalar r.
func BlindMessage(secret []byte, blindingFactor []byte) (*secp256k1.PublicKey, *secp256k1.PrivateKey) {
	var ypoint, rpoint, blinded secp256k1.JacobianPoint

	Y := HashToCurve(secret)
	Y.AsJacobian(&ypoint)

	r, rpub := btcec.PrivKeyFromBytes(blindingFactor)
	rpub.AsJacobian(&rpoint)

	secp256k1.AddNonConst(&ypoint, &rpoint, &blinded)
	blinded.ToAffine()
	B_ := secp256k1.NewPublicKey(&blinded.X, &blinded.Y)

	return B_, r
}

// SignBlindedMessage is step2_bob: C_ = k*B_, computed with the mint's
// private scalar k for the message's amount. The mint never sees secret.
func SignBlindedMessage(B_ *secp256k1.PublicKey, k *secp256k1.PrivateKey) *secp256k1.PublicKey {
	var bpoint, result secp256k1.JacobianPoint
	B_.AsJacobian(&bpoint)

	secp256k1.ScalarMultNonConst(&k.Key, &bpoint, &result)
	result.ToAffine()
	return secp256k1.NewPublicKey(&result.X, &result.Y)
}

// UnblindSignature is step3_alice: C = C_ - r*K. By linearity this equals
// k*HashToCurve(secret), the value the mint can later verify.
func UnblindSignature(C_ *secp256k1.PublicKey, r *secp256k1.PrivateKey, K *secp256k1.PublicKey) *secp256k1.PublicKey {
	var Kpoint, rKPoint, CPoint, C_Point secp256k1.JacobianPoint
	K.AsJacobian(&Kpoint)

	var rNeg secp256k1.ModNScalar
	rNeg.NegateVal(&r.Key)
	secp256k1.ScalarMultNonConst(&rNeg, &Kpoint, &rKPoint)

	C_.AsJacobian(&C_Point)
	secp256k1.AddNonConst(&C_Point, &rKPoint, &CPoint)
	CPoint.ToAffine()

	return secp256k1.NewPublicKey(&CPoint.X, &CPoint.Y)
}

// Verify reports whether k*HashToCurve(secret) == C, i.e. whether C is a
// valid unblinded signature over secret under private scalar k.
func Verify(secret []byte, k *secp256k1.PrivateKey, C *secp256k1.PublicKey) bool {
	var Ypoint, result secp256k1.JacobianPoint
	Y := HashToCurve(secret)
	Y.AsJacobian(&Ypoint)

	secp256k1.ScalarMultNonConst(&k.Key, &Ypoint, &result)
	result.ToAffine()
	pk := secp256k1.NewPublicKey(&result.X, &result.Y)

	return C.IsEqual(pk)
}
