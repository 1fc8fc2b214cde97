// Package cashu contains the core structs and logic
// of the Cashu protocol: blinded messages and signatures, proofs,
// token encoding, and the mint's error taxonomy.
package cashu

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/fxamacker/cbor/v2"
)

type Unit int

const (
	Sat Unit = iota

	BOLT11_METHOD = "bolt11"
)

func (unit Unit) String() string {
	switch unit {
	case Sat:
		return "sat"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidTokenV3 = errors.New("invalid V3 token")
	ErrInvalidTokenV4 = errors.New("invalid V4 token")
	ErrInvalidUnit    = errors.New("invalid unit")
)

// BlindedMessage is what a wallet sends the mint to request a signature: an
// amount and a blinded point B_. This mint has one keyset, so unlike later
// Cashu protocol versions there is no keyset id field here — amount alone
// selects the signing key.
type BlindedMessage struct {
	Amount uint64 `json:"amount"`
	B_     string `json:"B_"`
}

func NewBlindedMessage(amount uint64, B_ *secp256k1.PublicKey) BlindedMessage {
	return BlindedMessage{Amount: amount, B_: hex.EncodeToString(B_.SerializeCompressed())}
}

// SortBlindedMessages sorts blindedMessages by ascending amount, keeping the
// parallel secrets and blinding factors aligned with their message.
func SortBlindedMessages(blindedMessages BlindedMessages, secrets []string, rs []*secp256k1.PrivateKey) {
	for i := 0; i < len(blindedMessages)-1; i++ {
		for j := i + 1; j < len(blindedMessages); j++ {
			if blindedMessages[i].Amount > blindedMessages[j].Amount {
				blindedMessages[i], blindedMessages[j] = blindedMessages[j], blindedMessages[i]
				secrets[i], secrets[j] = secrets[j], secrets[i]
				rs[i], rs[j] = rs[j], rs[i]
			}
		}
	}
}

type BlindedMessages []BlindedMessage

func (bm BlindedMessages) Amount() uint64 {
	var total uint64
	for _, msg := range bm {
		total += msg.Amount
	}
	return total
}

// BlindedSignature is the mint's response to a BlindedMessage: C_ = k*B_.
type BlindedSignature struct {
	Amount uint64 `json:"amount"`
	C_     string `json:"C_"`
}

type BlindedSignatures []BlindedSignature

func (bs BlindedSignatures) Amount() uint64 {
	var total uint64
	for _, sig := range bs {
		total += sig.Amount
	}
	return total
}

// Proof is unblinded ecash: a secret and its mint signature C over that
// secret, redeemable for Amount. Reserved and SendId are wallet-local UI
// state only; the mint never sees them and ForWire strips them before a
// proof crosses the wire.
type Proof struct {
	Amount   uint64 `json:"amount"`
	Secret   string `json:"secret,omitempty"`
	C        string `json:"C"`
	Reserved bool   `json:"reserved,omitempty"`
	SendId   string `json:"send_id,omitempty"`
}

// ForWire returns a copy of proof with local-only UI fields cleared.
func (proof Proof) ForWire() Proof {
	proof.Reserved = false
	proof.SendId = ""
	return proof
}

type Proofs []Proof

// Amount returns the total amount across proofs.
func (proofs Proofs) Amount() uint64 {
	var total uint64
	for _, proof := range proofs {
		total += proof.Amount
	}
	return total
}

// ForWire strips local-only UI fields from every proof in the slice.
func (proofs Proofs) ForWire() Proofs {
	out := make(Proofs, len(proofs))
	for i, proof := range proofs {
		out[i] = proof.ForWire()
	}
	return out
}

// Token is a self-contained, shareable bundle of proofs plus the mint they
// were issued by. See https://github.com/cashubtc/nuts/blob/main/00.md#token-format
type Token interface {
	Proofs() Proofs
	Mint() string
	Amount() uint64
	Serialize() (string, error)
}

// DecodeToken accepts either the CBOR (cashuB) or JSON (cashuA) wire
// encoding, trying the more compact form first.
func DecodeToken(tokenstr string) (Token, error) {
	token, err := DecodeTokenV4(tokenstr)
	if err != nil {
		tokenV3, err := DecodeTokenV3(tokenstr)
		if err != nil {
			return nil, fmt.Errorf("invalid token: %v", err)
		}
		return tokenV3, nil
	}
	return token, nil
}

// TokenV3 is the bare JSON+base64url wire format: base64url(json.Marshal(...))
// with a "cashuA" prefix.
type TokenV3 struct {
	Token []TokenV3Proof `json:"token"`
	Unit  string         `json:"unit"`
	Memo  string         `json:"memo,omitempty"`
}

type TokenV3Proof struct {
	Mint   string `json:"mint"`
	Proofs Proofs `json:"proofs"`
}

func NewTokenV3(proofs Proofs, mint string, unit Unit) (TokenV3, error) {
	if unit != Sat {
		return TokenV3{}, ErrInvalidUnit
	}

	tokenProof := TokenV3Proof{Mint: mint, Proofs: proofs}
	return TokenV3{Token: []TokenV3Proof{tokenProof}, Unit: unit.String()}, nil
}

func DecodeTokenV3(tokenstr string) (*TokenV3, error) {
	if len(tokenstr) < 6 {
		return nil, ErrInvalidTokenV3
	}
	prefixVersion := tokenstr[:6]
	base64Token := tokenstr[6:]

	if prefixVersion != "cashuA" {
		return nil, ErrInvalidTokenV3
	}

	tokenBytes, err := base64.URLEncoding.DecodeString(base64Token)
	if err != nil {
		tokenBytes, err = base64.RawURLEncoding.DecodeString(base64Token)
		if err != nil {
			return nil, fmt.Errorf("error decoding token: %v", err)
		}
	}

	var token TokenV3
	if err := json.Unmarshal(tokenBytes, &token); err != nil {
		return nil, fmt.Errorf("error unmarshaling token: %v", err)
	}

	return &token, nil
}

func (t TokenV3) Proofs() Proofs {
	proofs := make(Proofs, 0)
	for _, tokenProof := range t.Token {
		proofs = append(proofs, tokenProof.Proofs...)
	}
	return proofs
}

func (t TokenV3) Mint() string {
	return t.Token[0].Mint
}

func (t TokenV3) Amount() uint64 {
	var total uint64
	for _, tokenProof := range t.Token {
		total += tokenProof.Proofs.Amount()
	}
	return total
}

func (t TokenV3) Serialize() (string, error) {
	jsonBytes, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return "cashuA" + base64.URLEncoding.EncodeToString(jsonBytes), nil
}

// TokenV4 is the optional compact CBOR wire format, supplementing the bare
// JSON+base64url format spec.md mandates.
type TokenV4 struct {
	TokenProofs []ProofV4 `json:"p"`
	Memo        string    `json:"d,omitempty"`
	MintURL     string    `json:"m"`
	Unit        string    `json:"u"`
}

type ProofV4 struct {
	Amount uint64 `json:"a"`
	Secret string `json:"s"`
	C      []byte `json:"c"`
}

func (p *ProofV4) MarshalJSON() ([]byte, error) {
	proof := struct {
		Amount uint64 `json:"a"`
		Secret string `json:"s"`
		C      string `json:"c"`
	}{
		Amount: p.Amount,
		Secret: p.Secret,
		C:      hex.EncodeToString(p.C),
	}
	return json.Marshal(proof)
}

func NewTokenV4(proofs Proofs, mint string, unit Unit) (TokenV4, error) {
	if unit != Sat {
		return TokenV4{}, ErrInvalidUnit
	}

	proofsV4 := make([]ProofV4, 0, len(proofs))
	for _, proof := range proofs {
		C, err := hex.DecodeString(proof.C)
		if err != nil {
			return TokenV4{}, fmt.Errorf("invalid C: %v", err)
		}
		proofsV4 = append(proofsV4, ProofV4{Amount: proof.Amount, Secret: proof.Secret, C: C})
	}

	return TokenV4{MintURL: mint, Unit: unit.String(), TokenProofs: proofsV4}, nil
}

func DecodeTokenV4(tokenstr string) (*TokenV4, error) {
	if len(tokenstr) < 6 {
		return nil, ErrInvalidTokenV4
	}
	prefixVersion := tokenstr[:6]
	base64Token := tokenstr[6:]
	if prefixVersion != "cashuB" {
		return nil, ErrInvalidTokenV4
	}

	tokenBytes, err := base64.URLEncoding.DecodeString(base64Token)
	if err != nil {
		tokenBytes, err = base64.RawURLEncoding.DecodeString(base64Token)
		if err != nil {
			return nil, fmt.Errorf("error decoding token: %v", err)
		}
	}

	var tokenV4 TokenV4
	if err := cbor.Unmarshal(tokenBytes, &tokenV4); err != nil {
		return nil, fmt.Errorf("cbor.Unmarshal: %v", err)
	}

	return &tokenV4, nil
}

func (t TokenV4) Proofs() Proofs {
	proofs := make(Proofs, 0, len(t.TokenProofs))
	for _, proofV4 := range t.TokenProofs {
		proofs = append(proofs, Proof{
			Amount: proofV4.Amount,
			Secret: proofV4.Secret,
			C:      hex.EncodeToString(proofV4.C),
		})
	}
	return proofs
}

func (t TokenV4) Mint() string {
	return t.MintURL
}

func (t TokenV4) Amount() uint64 {
	return t.Proofs().Amount()
}

func (t TokenV4) Serialize() (string, error) {
	cborData, err := cbor.Marshal(t)
	if err != nil {
		return "", err
	}
	return "cashuB" + base64.RawURLEncoding.EncodeToString(cborData), nil
}

type CashuErrCode int

// Error represents an error to be returned by the mint.
type Error struct {
	Detail string       `json:"detail"`
	Code   CashuErrCode `json:"code"`
}

func BuildCashuError(detail string, code CashuErrCode) *Error {
	return &Error{Detail: detail, Code: code}
}

func (e Error) Error() string {
	return e.Detail
}

// Common error codes
const (
	StandardErrCode CashuErrCode = 10000
	// These will never be returned in a response.
	// Using them to identify internally where the error originated and log
	// appropriately.
	DBErrCode               CashuErrCode = 1
	LightningBackendErrCode CashuErrCode = 2

	UnitErrCode                        CashuErrCode = 11005
	BlindedMessageAlreadySignedErrCode CashuErrCode = 10002

	InvalidProofErrCode            CashuErrCode = 10003
	ProofAlreadyUsedErrCode        CashuErrCode = 11001
	InsufficientProofAmountErrCode CashuErrCode = 11002

	AmountLimitExceededErrCode  CashuErrCode = 11006
	InvoiceNotPaidErrCode       CashuErrCode = 20001
	MintingDisabledErrCode      CashuErrCode = 20003
	MeltPaymentFailedErrCode    CashuErrCode = 20009
	SplitAmountMismatchErrCode  CashuErrCode = 10004
)

var (
	StandardErr                 = Error{Detail: "mint is currently unable to process request", Code: StandardErrCode}
	EmptyBodyErr                = Error{Detail: "request body cannot be empty", Code: StandardErrCode}
	UnitNotSupportedErr         = Error{Detail: "unit not supported", Code: UnitErrCode}
	InvalidBlindedMessageAmount = Error{Detail: "invalid amount in blinded message", Code: StandardErrCode}
	BlindedMessageAlreadySigned = Error{Detail: "blinded message already signed", Code: BlindedMessageAlreadySignedErrCode}
	InvoiceNotPaidErr           = Error{Detail: "lightning invoice has not been paid", Code: InvoiceNotPaidErrCode}
	MintingDisabled             = Error{Detail: "minting is disabled", Code: MintingDisabledErrCode}
	MintAmountExceededErr       = Error{Detail: "max amount for minting exceeded", Code: AmountLimitExceededErrCode}
	ProofAlreadyUsedErr         = Error{Detail: "proof already used", Code: ProofAlreadyUsedErrCode}
	InvalidProofErr             = Error{Detail: "invalid proof", Code: InvalidProofErrCode}
	NoProofsProvided            = Error{Detail: "no proofs provided", Code: InvalidProofErrCode}
	DuplicateProofs             = Error{Detail: "duplicate proofs", Code: InvalidProofErrCode}
	InsufficientProofsAmount    = Error{
		Detail: "amount of input proofs is below amount needed for transaction",
		Code:   InsufficientProofAmountErrCode,
	}
	SplitAmountMismatchErr = Error{
		Detail: "sum of output amounts does not equal sum of input amounts",
		Code:   SplitAmountMismatchErrCode,
	}
	SplitAmountInvalidErr = Error{Detail: "requested amount must be greater than zero and not exceed the input total", Code: StandardErrCode}
	MeltAmountExceededErr = Error{Detail: "max amount for melting exceeded", Code: AmountLimitExceededErrCode}
	MeltPaymentFailedErr  = Error{Detail: "lightning payment failed", Code: MeltPaymentFailedErrCode}
)

// AmountSplit returns the list of amounts e.g 13 -> [1, 4, 8] that sums to
// amount, each a power of two, the binary decomposition used to build
// blinded messages or split outputs.
func AmountSplit(amount uint64) []uint64 {
	rv := make([]uint64, 0)
	for pos := 0; amount > 0; pos++ {
		if amount&1 == 1 {
			rv = append(rv, 1<<pos)
		}
		amount >>= 1
	}
	return rv
}

func CheckDuplicateProofs(proofs Proofs) bool {
	seen := make(map[Proof]bool, len(proofs))
	for _, proof := range proofs {
		if seen[proof] {
			return true
		}
		seen[proof] = true
	}
	return false
}

func CheckDuplicateBlindedMessages(messages BlindedMessages) bool {
	seen := make(map[string]bool, len(messages))
	for _, msg := range messages {
		if seen[msg.B_] {
			return true
		}
		seen[msg.B_] = true
	}
	return false
}

func Max(x, y uint64) uint64 {
	if x > y {
		return x
	}
	return y
}

func Count(amounts []uint64, amount uint64) uint {
	var count uint
	for _, amt := range amounts {
		if amt == amount {
			count++
		}
	}
	return count
}
