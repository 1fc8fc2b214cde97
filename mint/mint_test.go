package mint

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/lackrobin/cashu/cashu"
	"github.com/lackrobin/cashu/crypto"
	"github.com/lackrobin/cashu/mint/lightning"
)

func newTestMint(t *testing.T) *Mint {
	t.Helper()

	config := Config{
		MintPath:        t.TempDir(),
		LightningClient: &lightning.FakeBackend{},
	}
	m, err := LoadMint(config)
	if err != nil {
		t.Fatalf("LoadMint: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

// blindMessages builds one fresh blinded message (with its secret and
// blinding factor) per power-of-two term in amount's decomposition,
// mirroring how the wallet constructs its outputs.
func blindMessages(t *testing.T, amount uint64) (cashu.BlindedMessages, []string, []*secp256k1.PrivateKey) {
	t.Helper()

	splitAmounts := cashu.AmountSplit(amount)
	msgs := make(cashu.BlindedMessages, len(splitAmounts))
	secrets := make([]string, len(splitAmounts))
	rs := make([]*secp256k1.PrivateKey, len(splitAmounts))

	for i, amt := range splitAmounts {
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			t.Fatalf("rand.Read: %v", err)
		}
		secret := hex.EncodeToString(secretBytes)

		blindingFactor, err := crypto.NewBlindingFactor()
		if err != nil {
			t.Fatalf("NewBlindingFactor: %v", err)
		}

		B_, r := crypto.BlindMessage([]byte(secret), blindingFactor)
		msgs[i] = cashu.NewBlindedMessage(amt, B_)
		secrets[i] = secret
		rs[i] = r
	}

	return msgs, secrets, rs
}

// mintTokens drives a full request_mint -> mint round-trip against m and
// returns the resulting proofs.
func mintTokens(t *testing.T, m *Mint, amount uint64) cashu.Proofs {
	t.Helper()

	req, err := m.RequestMint(amount)
	if err != nil {
		t.Fatalf("RequestMint: %v", err)
	}

	msgs, secrets, rs := blindMessages(t, amount)
	sigs, err := m.Mint(req.PaymentHash, msgs)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	return constructProofs(t, m, sigs, secrets, rs)
}

func constructProofs(t *testing.T, m *Mint, sigs cashu.BlindedSignatures, secrets []string, rs []*secp256k1.PrivateKey) cashu.Proofs {
	t.Helper()

	proofs := make(cashu.Proofs, len(sigs))
	for i, sig := range sigs {
		C_bytes, err := hex.DecodeString(sig.C_)
		if err != nil {
			t.Fatalf("invalid C_: %v", err)
		}
		C_, err := secp256k1.ParsePubKey(C_bytes)
		if err != nil {
			t.Fatalf("ParsePubKey: %v", err)
		}

		K := m.keyset.Keys[sig.Amount].PublicKey
		C := crypto.UnblindSignature(C_, rs[i], K)
		proofs[i] = cashu.Proof{
			Amount: sig.Amount,
			Secret: secrets[i],
			C:      hex.EncodeToString(C.SerializeCompressed()),
		}
	}
	return proofs
}

func TestRequestMintAndMint(t *testing.T) {
	m := newTestMint(t)

	proofs := mintTokens(t, m, 64)
	if proofs.Amount() != 64 {
		t.Fatalf("expected 64 sats minted, got %v", proofs.Amount())
	}
}

func TestRequestMintRejectsZeroAmount(t *testing.T) {
	m := newTestMint(t)

	if _, err := m.RequestMint(0); err == nil {
		t.Fatal("expected an error requesting a mint quote for 0")
	}
}

func TestMintRejectsUnpaidInvoice(t *testing.T) {
	m := newTestMint(t)

	req, err := m.RequestMint(32)
	if err != nil {
		t.Fatalf("RequestMint: %v", err)
	}
	m.lightningClient.(*lightning.FakeBackend).SetFailing(req.PaymentHash)

	msgs, _, _ := blindMessages(t, 32)
	if _, err := m.Mint(req.PaymentHash, msgs); err == nil {
		t.Fatal("expected Mint to reject an unsettled invoice")
	}
}

func TestMintRejectsReplayedBlindedMessages(t *testing.T) {
	m := newTestMint(t)

	req, err := m.RequestMint(16)
	if err != nil {
		t.Fatalf("RequestMint: %v", err)
	}
	msgs, _, _ := blindMessages(t, 16)

	if _, err := m.Mint(req.PaymentHash, msgs); err != nil {
		t.Fatalf("first Mint: %v", err)
	}

	req2, err := m.RequestMint(16)
	if err != nil {
		t.Fatalf("RequestMint: %v", err)
	}
	if _, err := m.Mint(req2.PaymentHash, msgs); err == nil {
		t.Fatal("expected Mint to reject a resubmitted blinded message")
	}
}

func TestSplit(t *testing.T) {
	m := newTestMint(t)
	proofs := mintTokens(t, m, 16)

	// fst (change) worth 16-5=11 and snd (requested) worth 5.
	fstMsgs, fstSecrets, fstRs := blindMessages(t, 11)
	sndMsgs, sndSecrets, sndRs := blindMessages(t, 5)
	outMsgs := append(append(cashu.BlindedMessages{}, fstMsgs...), sndMsgs...)

	fstSigs, sndSigs, err := m.Split(proofs, 5, outMsgs)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	fstProofs := constructProofs(t, m, fstSigs, fstSecrets, fstRs)
	sndProofs := constructProofs(t, m, sndSigs, sndSecrets, sndRs)
	if fstProofs.Amount() != 11 {
		t.Fatalf("expected fst amount 11, got %v", fstProofs.Amount())
	}
	if sndProofs.Amount() != 5 {
		t.Fatalf("expected snd amount 5, got %v", sndProofs.Amount())
	}

	// the proofs handed in must now be spent
	spent, err := m.Check([]string{proofs[0].Secret})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !spent[proofs[0].Secret] {
		t.Fatal("expected input proof to be marked spent after Split")
	}

	// and cannot be split again
	outMsgs2, _, _ := blindMessages(t, 16)
	if _, _, err := m.Split(proofs, 16, outMsgs2); err == nil {
		t.Fatal("expected Split to reject already-spent proofs")
	}
}

func TestSplitRejectsAmountMismatch(t *testing.T) {
	m := newTestMint(t)
	proofs := mintTokens(t, m, 8)

	outMsgs, _, _ := blindMessages(t, 4)
	if _, _, err := m.Split(proofs, 4, outMsgs); err == nil {
		t.Fatal("expected Split to reject an output total that doesn't match the input total")
	}
}

func TestSplitRejectsZeroRequestedAmount(t *testing.T) {
	m := newTestMint(t)
	proofs := mintTokens(t, m, 8)

	outMsgs, _, _ := blindMessages(t, 8)
	if _, _, err := m.Split(proofs, 0, outMsgs); err == nil {
		t.Fatal("expected Split to reject a zero requested amount")
	}
}

func TestCheck(t *testing.T) {
	m := newTestMint(t)
	proofs := mintTokens(t, m, 4)

	spent, err := m.Check([]string{proofs[0].Secret, "never-issued-secret"})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if spent[proofs[0].Secret] {
		t.Fatal("freshly minted proof should not be reported spent")
	}
	if spent["never-issued-secret"] {
		t.Fatal("unknown secret should not be reported spent")
	}
}

func TestMelt(t *testing.T) {
	m := newTestMint(t)
	proofs := mintTokens(t, m, 100)

	fb := m.lightningClient.(*lightning.FakeBackend)
	invoice, err := fb.CreateInvoice(50)
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	paid, preimage, err := m.Melt(context.Background(), invoice.PaymentRequest, proofs)
	if err != nil {
		t.Fatalf("Melt: %v", err)
	}
	if !paid {
		t.Fatal("expected melt to succeed")
	}
	if preimage == "" {
		t.Fatal("expected a preimage on a successful melt")
	}

	spent, err := m.Check([]string{proofs[0].Secret})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !spent[proofs[0].Secret] {
		t.Fatal("expected proofs spent by melt to be reported spent")
	}
}

func TestMeltRejectsInsufficientProofs(t *testing.T) {
	m := newTestMint(t)
	proofs := mintTokens(t, m, 4)

	fb := m.lightningClient.(*lightning.FakeBackend)
	invoice, err := fb.CreateInvoice(1000)
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	if _, _, err := m.Melt(context.Background(), invoice.PaymentRequest, proofs); err == nil {
		t.Fatal("expected Melt to reject proofs that don't cover the invoice")
	}
}

func TestMeltFailedPaymentLeavesProofsSpendable(t *testing.T) {
	m := newTestMint(t)
	proofs := mintTokens(t, m, 20)

	failingInvoice, err := lightning.NewFailingInvoice(20)
	if err != nil {
		t.Fatalf("NewFailingInvoice: %v", err)
	}

	if paid, _, err := m.Melt(context.Background(), failingInvoice, proofs); err == nil && paid {
		t.Fatal("expected melt against a failing invoice to not succeed")
	}

	spent, err := m.Check([]string{proofs[0].Secret})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if spent[proofs[0].Secret] {
		t.Fatal("proofs must remain spendable after a failed melt")
	}
}
