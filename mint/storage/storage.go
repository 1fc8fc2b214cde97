// Package storage defines the mint's persistence contract: the master
// seed, the spent-secret set, outstanding mint requests, and issued blind
// signatures (kept so the same blinded message is never signed twice, and
// to compute the mint's outstanding balance).
package storage

import "github.com/lackrobin/cashu/cashu"

// MintDB is the durability boundary for Mint. Each batch write it exposes
// (SaveProofsUsed, SaveBlindSignatures) is atomic on its own batch, never
// partial; no single call covers proofs and blinded messages together.
type MintDB interface {
	SaveSeed(seed []byte) error
	GetSeed() ([]byte, error)

	// SaveProofsUsed atomically records proofs as spent. It must fail
	// the whole batch if any secret in it is already present.
	SaveProofsUsed(proofs cashu.Proofs) error
	GetProofsUsed(secrets []string) ([]DBProof, error)

	SaveMintRequest(MintRequest) error
	GetMintRequestByPaymentHash(paymentHash string) (MintRequest, error)
	UpdateMintRequestIssued(paymentHash string, issued bool) error

	SaveBlindSignatures(B_s []string, sigs cashu.BlindedSignatures) error
	GetBlindSignatures(B_s []string) (cashu.BlindedSignatures, error)

	// GetBalance reports the mint's current outstanding liability: sats
	// issued as ecash minus sats redeemed or melted back out.
	GetBalance() (uint64, error)

	Close() error
}

// DBProof is the persisted record of a spent proof's secret, used only to
// reject the same secret a second time and never exposed over the wire.
type DBProof struct {
	Amount uint64
	Secret string
	C      string
}

// MintRequest tracks a single request_mint flow: the invoice created for
// an amount, and whether the wallet has already claimed signatures for it.
// Unlike later Cashu protocol versions this has no separate quote id; the
// Lightning payment hash itself is the request's identity.
type MintRequest struct {
	PaymentHash    string
	PaymentRequest string
	Amount         uint64
	Issued         bool
	Expiry         uint64
}
