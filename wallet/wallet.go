// Package wallet is the client side of the protocol: it holds proofs
// locally, blinds and unblinds messages against the mint's published
// keyset, and drives request-mint, split/send, receive, and melt flows.
package wallet

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	decodepay "github.com/nbd-wtf/ln-decodepay"

	"github.com/lackrobin/cashu/cashu"
	"github.com/lackrobin/cashu/crypto"
	"github.com/lackrobin/cashu/wallet/storage"
)

// MaxSecretRetries bounds how many candidate secrets newSecret generates
// for one output, each colliding with one the wallet already owns, before
// giving up. A true collision is astronomically unlikely; this guards
// against a broken RNG rather than a real birthday-bound risk.
const MaxSecretRetries = 3

var ErrSecretReused = errors.New("could not generate a fresh secret")

type Wallet struct {
	db      storage.WalletDB
	mintURL string
	keys    crypto.PublicKeys
	proofs  cashu.Proofs
}

func InitStorage(path string) (storage.WalletDB, error) {
	return storage.InitBolt(path)
}

// LoadWallet opens local storage, fetches the mint's current public keys,
// and loads whatever proofs the wallet already holds.
func LoadWallet(config Config) (*Wallet, error) {
	db, err := InitStorage(config.WalletPath)
	if err != nil {
		return nil, fmt.Errorf("InitStorage: %v", err)
	}

	mintURL := config.MintURL
	if len(mintURL) == 0 {
		mintURL = db.GetMintURL()
	}
	if len(mintURL) == 0 {
		return nil, errors.New("no mint url configured")
	}
	if err := db.SaveMintURL(mintURL); err != nil {
		return nil, fmt.Errorf("error saving mint url: %v", err)
	}

	keys, err := getMintKeys(mintURL)
	if err != nil {
		return nil, fmt.Errorf("error getting keys from mint: %v", err)
	}

	return &Wallet{
		db:      db,
		mintURL: mintURL,
		keys:    keys,
		proofs:  db.GetProofs(),
	}, nil
}

func (w *Wallet) Balance() uint64 {
	return w.proofs.Amount()
}

// AvailableBalance is Balance minus any proofs currently marked reserved
// (held out pending send confirmation).
func (w *Wallet) AvailableBalance() uint64 {
	var total uint64
	for _, proof := range w.proofs {
		if !proof.Reserved {
			total += proof.Amount
		}
	}
	return total
}

// ProofAmounts lists the denomination of every proof the wallet holds,
// ascending.
func (w *Wallet) ProofAmounts() []uint64 {
	amounts := make([]uint64, len(w.proofs))
	for i, proof := range w.proofs {
		amounts[i] = proof.Amount
	}
	slices.Sort(amounts)
	return amounts
}

// RequestMint asks the mint for an invoice of amount sats and remembers it
// locally so MintTokens can be retried after a restart.
func (w *Wallet) RequestMint(amount uint64) (storage.MintRequest, error) {
	resp, err := requestMint(w.mintURL, amount)
	if err != nil {
		return storage.MintRequest{}, err
	}

	req := storage.MintRequest{
		PaymentHash:    resp.PaymentHash,
		PaymentRequest: resp.PaymentRequest,
		Amount:         amount,
	}
	if err := w.db.SaveMintRequest(req); err != nil {
		return storage.MintRequest{}, fmt.Errorf("error saving mint request: %v", err)
	}
	return req, nil
}

// MintTokens claims signatures for a previously requested invoice, once
// it's been paid, and stores the resulting proofs.
func (w *Wallet) MintTokens(paymentHash string) (cashu.Proofs, error) {
	var req *storage.MintRequest
	for _, r := range w.db.GetMintRequests() {
		if r.PaymentHash == paymentHash {
			req = &r
			break
		}
	}
	if req == nil {
		return nil, errors.New("no outstanding mint request for that payment hash")
	}

	outputs, secrets, rs, err := w.createBlindedMessages(req.Amount)
	if err != nil {
		return nil, fmt.Errorf("createBlindedMessages: %v", err)
	}

	sigs, err := postMint(w.mintURL, paymentHash, outputs)
	if err != nil {
		return nil, err
	}

	proofs, err := w.constructProofs(sigs, secrets, rs)
	if err != nil {
		return nil, fmt.Errorf("constructProofs: %v", err)
	}

	if err := w.storeProofs(proofs); err != nil {
		return nil, err
	}
	if err := w.db.DeleteMintRequest(paymentHash); err != nil {
		return nil, err
	}
	return proofs, nil
}

// Split swaps proofs for a fresh fst (change) set of total − amount and a
// fresh snd set of amount, atomically invalidating proofs at the mint. If
// sendSecret is non-nil, the snd outputs get the deterministic secret
// sequence "<sendSecret>_0", "<sendSecret>_1", … instead of random ones,
// so a recipient who knows sendSecret can reconstruct them independently.
func (w *Wallet) Split(proofs cashu.Proofs, amount uint64, sendSecret *string) (fst, snd cashu.Proofs, err error) {
	total := proofs.Amount()
	if amount == 0 || amount > total {
		return nil, nil, cashu.SplitAmountInvalidErr
	}
	fstAmt := total - amount

	fstMsgs, fstSecrets, fstRs, err := w.createBlindedMessages(fstAmt)
	if err != nil {
		return nil, nil, fmt.Errorf("createBlindedMessages: %v", err)
	}

	var sndMsgs cashu.BlindedMessages
	var sndSecrets []string
	var sndRs []*secp256k1.PrivateKey
	if sendSecret != nil {
		sndMsgs, sndSecrets, sndRs, err = w.createDeterministicBlindedMessages(amount, *sendSecret)
		if err != nil {
			return nil, nil, fmt.Errorf("createDeterministicBlindedMessages: %v", err)
		}
	} else {
		sndMsgs, sndSecrets, sndRs, err = w.createBlindedMessages(amount)
		if err != nil {
			return nil, nil, fmt.Errorf("createBlindedMessages: %v", err)
		}
	}

	outputs := make(cashu.BlindedMessages, 0, len(fstMsgs)+len(sndMsgs))
	outputs = append(outputs, fstMsgs...)
	outputs = append(outputs, sndMsgs...)

	fstSigs, sndSigs, err := postSplit(w.mintURL, proofs.ForWire(), amount, outputs)
	if err != nil {
		return nil, nil, err
	}

	fst, err = w.constructProofs(fstSigs, fstSecrets, fstRs)
	if err != nil {
		return nil, nil, fmt.Errorf("constructProofs: %v", err)
	}
	snd, err = w.constructProofs(sndSigs, sndSecrets, sndRs)
	if err != nil {
		return nil, nil, fmt.Errorf("constructProofs: %v", err)
	}

	if err := w.removeProofs(proofs); err != nil {
		return nil, nil, err
	}
	if err := w.storeProofs(fst); err != nil {
		return nil, nil, err
	}
	if err := w.storeProofs(snd); err != nil {
		return nil, nil, err
	}
	return fst, snd, nil
}

// SplitToSend selects amount sats worth of unreserved proofs and splits
// them, keeping the change (fst) and returning the snd set meant to be
// handed to a recipient.
func (w *Wallet) SplitToSend(amount uint64, sendSecret *string) (cashu.Proofs, error) {
	selected, err := w.selectUnreservedProofs(amount)
	if err != nil {
		return nil, err
	}
	_, snd, err := w.Split(selected, amount, sendSecret)
	return snd, err
}

// Send is a convenience wrapper around SplitToSend: it packs the snd proofs
// into a cashuA (V3) token for amount sats, secrets included.
func (w *Wallet) Send(amount uint64) (cashu.Token, error) {
	proofsToSend, err := w.SplitToSend(amount, nil)
	if err != nil {
		return nil, err
	}
	return cashu.NewTokenV3(proofsToSend.ForWire(), w.mintURL, cashu.Sat)
}

// Redeem is the receiving side of a send: if sendSecret is provided it
// first overwrites each proof's secret with the deterministic sequence
// the sender derived them from, then splits the full amount into fresh
// proofs only this wallet knows the secrets for.
func (w *Wallet) Redeem(proofs cashu.Proofs, sendSecret *string) (cashu.Proofs, error) {
	if sendSecret != nil {
		proofs = slices.Clone(proofs)
		for i := range proofs {
			proofs[i].Secret = fmt.Sprintf("%s_%d", *sendSecret, i)
		}
	}

	total := proofs.Amount()
	_, snd, err := w.Split(proofs, total, nil)
	return snd, err
}

// Receive is a convenience wrapper redeeming an already decoded token's
// proofs in one call, returning the amount received.
func (w *Wallet) Receive(token cashu.Token) (uint64, error) {
	proofs, err := w.Redeem(token.Proofs(), nil)
	if err != nil {
		return 0, err
	}
	return proofs.Amount(), nil
}

// SetReserved marks proofs as held out for a pending send (or clears that
// mark), stamping a fresh send_id on every reserve so the caller can later
// recognize the batch if it needs to unreserve it.
func (w *Wallet) SetReserved(proofs cashu.Proofs, reserved bool) error {
	sendId := ""
	if reserved {
		idBytes := make([]byte, 16)
		if _, err := rand.Read(idBytes); err != nil {
			return fmt.Errorf("error generating send id: %v", err)
		}
		sendId = hex.EncodeToString(idBytes)
	}

	for _, proof := range proofs {
		if err := w.db.UpdateProofReserved(proof.Secret, reserved, sendId); err != nil {
			return err
		}
	}
	w.proofs = w.db.GetProofs()
	return nil
}

// Serialize encodes proofs as a shareable token. If hideSecret is set, the
// secret field is omitted — used when the recipient will reconstruct
// secrets from a shared sendSecret via Redeem.
func (w *Wallet) Serialize(proofs cashu.Proofs, hideSecret bool) (string, error) {
	wireProofs := proofs.ForWire()
	if hideSecret {
		for i := range wireProofs {
			wireProofs[i].Secret = ""
		}
	}

	token, err := cashu.NewTokenV3(wireProofs, w.mintURL, cashu.Sat)
	if err != nil {
		return "", err
	}
	return token.Serialize()
}

// Deserialize decodes a token produced by Serialize (or any cashuA/cashuB
// token) back into its proofs.
func (w *Wallet) Deserialize(tokenStr string) (cashu.Proofs, error) {
	token, err := cashu.DecodeToken(tokenStr)
	if err != nil {
		return nil, err
	}
	return token.Proofs(), nil
}

// Melt pays a Lightning invoice out of the wallet's proofs. Proofs handed
// to the mint stay removed locally only if the mint confirms payment
// succeeded; on failure they are kept (or restored) and remain spendable.
func (w *Wallet) Melt(paymentRequest string) (bool, string, error) {
	decoded, err := decodepay.Decodepay(paymentRequest)
	if err != nil {
		return false, "", fmt.Errorf("invalid invoice: %v", err)
	}
	amount := uint64(decoded.MSatoshi) / 1000

	// selectUnreservedProofs only picks proofs; Split (if needed) persists
	// its own fst/snd, so only the plain-selection path still needs an
	// explicit removeProofs plus a matching restore on failure below.
	selected, err := w.selectUnreservedProofs(amount)
	if err != nil {
		return false, "", err
	}

	var proofs cashu.Proofs
	exactMatch := selected.Amount() == amount
	if exactMatch {
		proofs = selected
		if err := w.removeProofs(selected); err != nil {
			return false, "", err
		}
	} else {
		_, snd, err := w.Split(selected, amount, nil)
		if err != nil {
			return false, "", err
		}
		proofs = snd
	}

	resp, err := postMelt(w.mintURL, paymentRequest, proofs)
	if err != nil {
		if exactMatch {
			if restoreErr := w.storeProofs(proofs); restoreErr != nil {
				return false, "", fmt.Errorf("melt request failed (%v) and proofs could not be restored: %v", err, restoreErr)
			}
		}
		return false, "", err
	}

	if resp.Paid {
		if err := w.removeProofs(proofs); err != nil {
			return true, resp.Preimage, fmt.Errorf("payment succeeded but proof cleanup failed: %v", err)
		}
		return true, resp.Preimage, nil
	}

	if exactMatch {
		if err := w.storeProofs(proofs); err != nil {
			return false, "", fmt.Errorf("payment failed and proofs could not be restored: %v", err)
		}
	}
	return false, "", nil
}

// Invalidate checks proofs against the mint's spent-secret set and removes
// whichever are no longer spendable from the local store. Used both for a
// targeted reconciliation (e.g. proofs just handed to a recipient) and, by
// passing the wallet's whole held set, for a full sweep.
func (w *Wallet) Invalidate(proofs cashu.Proofs) (int, error) {
	if len(proofs) == 0 {
		return 0, nil
	}

	secrets := make([]string, len(proofs))
	for i, proof := range proofs {
		secrets[i] = proof.Secret
	}

	spent, err := postCheck(w.mintURL, secrets)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, secret := range secrets {
		if !spent[secret] {
			continue
		}
		if err := w.db.DeleteProof(secret); err != nil && !errors.Is(err, storage.ErrProofNotFound) {
			return removed, err
		}
		removed++
	}
	w.proofs = w.db.GetProofs()
	return removed, nil
}

// Check is Invalidate run against every proof currently in the wallet's
// store — a full reconciliation sweep.
func (w *Wallet) Check() (int, error) {
	return w.Invalidate(w.proofs)
}

// selectUnreservedProofs greedily picks locally-held, non-reserved proofs
// until their sum reaches amount (or all are exhausted), without mutating
// any state. The caller decides whether the selection needs an exact-match
// removal or a Split.
func (w *Wallet) selectUnreservedProofs(amount uint64) (cashu.Proofs, error) {
	if w.AvailableBalance() < amount {
		return nil, errors.New("not enough unreserved funds")
	}

	var selected cashu.Proofs
	var selectedAmount uint64
	for _, proof := range w.proofs {
		if proof.Reserved {
			continue
		}
		if selectedAmount >= amount {
			break
		}
		selected = append(selected, proof)
		selectedAmount += proof.Amount
	}
	return selected, nil
}

// createBlindedMessages builds one blinded message per power-of-two term
// in amount's binary decomposition, each with a freshly generated secret
// and blinding factor.
func (w *Wallet) createBlindedMessages(amount uint64) (cashu.BlindedMessages, []string, []*secp256k1.PrivateKey, error) {
	splitAmounts := cashu.AmountSplit(amount)

	blindedMessages := make(cashu.BlindedMessages, len(splitAmounts))
	secrets := make([]string, len(splitAmounts))
	rs := make([]*secp256k1.PrivateKey, len(splitAmounts))

	owned := make(map[string]bool, len(w.proofs))
	for _, proof := range w.proofs {
		owned[proof.Secret] = true
	}

	for i, amt := range splitAmounts {
		secret, err := w.newSecret(owned)
		if err != nil {
			return nil, nil, nil, err
		}
		owned[secret] = true

		blindingFactor, err := crypto.NewBlindingFactor()
		if err != nil {
			return nil, nil, nil, err
		}

		B_, r := crypto.BlindMessage([]byte(secret), blindingFactor)
		blindedMessages[i] = cashu.NewBlindedMessage(amt, B_)
		secrets[i] = secret
		rs[i] = r
	}

	return blindedMessages, secrets, rs, nil
}

// createDeterministicBlindedMessages mirrors createBlindedMessages but with
// the secret for each denomination fixed to "<sendSecret>_<index>" instead
// of random, so a recipient who knows sendSecret can reconstruct the same
// sequence independently. Reuse across sends using the same sendSecret is
// intentional, not a collision to guard against.
func (w *Wallet) createDeterministicBlindedMessages(amount uint64, sendSecret string) (cashu.BlindedMessages, []string, []*secp256k1.PrivateKey, error) {
	splitAmounts := cashu.AmountSplit(amount)

	blindedMessages := make(cashu.BlindedMessages, len(splitAmounts))
	secrets := make([]string, len(splitAmounts))
	rs := make([]*secp256k1.PrivateKey, len(splitAmounts))

	for i, amt := range splitAmounts {
		secret := fmt.Sprintf("%s_%d", sendSecret, i)
		blindingFactor, err := crypto.NewBlindingFactor()
		if err != nil {
			return nil, nil, nil, err
		}

		B_, r := crypto.BlindMessage([]byte(secret), blindingFactor)
		blindedMessages[i] = cashu.NewBlindedMessage(amt, B_)
		secrets[i] = secret
		rs[i] = r
	}

	return blindedMessages, secrets, rs, nil
}

// newSecret generates a random hex secret, making at most MaxSecretRetries
// attempts in total while candidates collide with one the wallet already owns.
func (w *Wallet) newSecret(owned map[string]bool) (string, error) {
	for attempt := 0; attempt < MaxSecretRetries; attempt++ {
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return "", err
		}
		secret := hex.EncodeToString(secretBytes)
		if !owned[secret] {
			return secret, nil
		}
	}
	return "", ErrSecretReused
}

func (w *Wallet) constructProofs(sigs cashu.BlindedSignatures, secrets []string, rs []*secp256k1.PrivateKey) (cashu.Proofs, error) {
	if len(sigs) != len(secrets) || len(sigs) != len(rs) {
		return nil, errors.New("lengths do not match")
	}

	proofs := make(cashu.Proofs, len(sigs))
	for i, sig := range sigs {
		C_bytes, err := hex.DecodeString(sig.C_)
		if err != nil {
			return nil, err
		}
		C_, err := secp256k1.ParsePubKey(C_bytes)
		if err != nil {
			return nil, err
		}

		K, ok := w.keys[sig.Amount]
		if !ok {
			return nil, fmt.Errorf("mint has no key for amount %d", sig.Amount)
		}

		C := crypto.UnblindSignature(C_, rs[i], K)
		proofs[i] = cashu.Proof{
			Amount: sig.Amount,
			Secret: secrets[i],
			C:      hex.EncodeToString(C.SerializeCompressed()),
		}
	}
	return proofs, nil
}

func (w *Wallet) storeProofs(proofs cashu.Proofs) error {
	for _, proof := range proofs {
		if err := w.db.SaveProof(proof); err != nil {
			return err
		}
	}
	w.proofs = append(w.proofs, proofs...)
	return nil
}

func (w *Wallet) removeProofs(proofs cashu.Proofs) error {
	for _, proof := range proofs {
		if err := w.db.DeleteProof(proof.Secret); err != nil && !errors.Is(err, storage.ErrProofNotFound) {
			return err
		}
	}
	w.removeProofsFromMemory(proofs)
	return nil
}

func (w *Wallet) removeProofsFromMemory(proofs cashu.Proofs) {
	removed := make(map[string]bool, len(proofs))
	for _, proof := range proofs {
		removed[proof.Secret] = true
	}

	remaining := make(cashu.Proofs, 0, len(w.proofs))
	for _, proof := range w.proofs {
		if !removed[proof.Secret] {
			remaining = append(remaining, proof)
		}
	}
	w.proofs = remaining
}

func (w *Wallet) Close() error {
	return w.db.Close()
}
