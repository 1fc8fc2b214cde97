// Package storage defines the wallet's local persistence contract: its
// proof set, the URL of the mint it talks to, and outstanding mint requests it's
// waiting to claim. Unlike the mint's storage, nothing here needs to be
// transactional across proofs — the wallet is a single cooperative client,
// not a ledger serving concurrent callers.
package storage

import "github.com/lackrobin/cashu/cashu"

type WalletDB interface {
	SaveProof(proof cashu.Proof) error
	GetProofs() cashu.Proofs
	DeleteProof(secret string) error
	// UpdateProofReserved toggles a stored proof's reserved flag and, when
	// reserved is true, stamps it with sendId so SetReserved's caller can
	// later identify the batch to unreserve it.
	UpdateProofReserved(secret string, reserved bool, sendId string) error

	SaveMintURL(mintURL string) error
	GetMintURL() string

	SaveMintRequest(req MintRequest) error
	GetMintRequests() []MintRequest
	DeleteMintRequest(paymentHash string) error

	Close() error
}

// MintRequest is a locally-remembered outstanding request_mint flow: an
// invoice the wallet asked for and hasn't yet claimed signatures against.
// Kept so a wallet that crashes before MintTokens completes can claim the
// request with MintTokens again on the next run.
type MintRequest struct {
	PaymentHash    string
	PaymentRequest string
	Amount         uint64
}
