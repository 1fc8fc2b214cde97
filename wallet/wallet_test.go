package wallet

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/lackrobin/cashu/mint"
	"github.com/lackrobin/cashu/mint/lightning"
)

// startTestMint brings up a real mint HTTP server on a free local port and
// returns its base URL, shutting it down when the test completes.
func startTestMint(t *testing.T) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	m, err := mint.LoadMint(mint.Config{
		MintPath:        t.TempDir(),
		LightningClient: &lightning.FakeBackend{},
	})
	if err != nil {
		t.Fatalf("LoadMint: %v", err)
	}

	server, err := mint.SetupServer(m, addr)
	if err != nil {
		t.Fatalf("SetupServer: %v", err)
	}

	go server.Start()
	t.Cleanup(func() {
		server.Shutdown()
		m.Close()
	})

	// give the listener a moment to come up before the first request.
	time.Sleep(50 * time.Millisecond)
	return fmt.Sprintf("http://%s", addr)
}

func newTestWallet(t *testing.T) *Wallet {
	t.Helper()

	mintURL := startTestMint(t)
	w, err := LoadWallet(Config{WalletPath: t.TempDir(), MintURL: mintURL})
	if err != nil {
		t.Fatalf("LoadWallet: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func mintIntoWallet(t *testing.T, w *Wallet, amount uint64) {
	t.Helper()

	req, err := w.RequestMint(amount)
	if err != nil {
		t.Fatalf("RequestMint: %v", err)
	}
	if _, err := w.MintTokens(req.PaymentHash); err != nil {
		t.Fatalf("MintTokens: %v", err)
	}
}

func TestLoadWalletFetchesKeys(t *testing.T) {
	w := newTestWallet(t)
	if len(w.keys) == 0 {
		t.Fatal("expected wallet to have fetched the mint's public keys")
	}
}

func TestRequestAndMintTokens(t *testing.T) {
	w := newTestWallet(t)
	mintIntoWallet(t, w, 64)

	if w.Balance() != 64 {
		t.Fatalf("expected balance 64, got %v", w.Balance())
	}
	if w.AvailableBalance() != 64 {
		t.Fatalf("expected available balance 64, got %v", w.AvailableBalance())
	}
}

func TestSendAndReceiveRoundTrip(t *testing.T) {
	sender := newTestWallet(t)
	mintIntoWallet(t, sender, 32)

	token, err := sender.Send(10)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	// Split keeps both halves locally until a reconciliation sweep.
	if sender.Balance() != 32 {
		t.Fatalf("expected sender's balance to stay at 32 until Check, got %v", sender.Balance())
	}

	serialized, err := token.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	receiver, err := LoadWallet(Config{WalletPath: t.TempDir(), MintURL: sender.mintURL})
	if err != nil {
		t.Fatalf("LoadWallet: %v", err)
	}
	t.Cleanup(func() { receiver.Close() })

	proofs, err := receiver.Deserialize(serialized)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}

	received, err := receiver.Redeem(proofs, nil)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if received.Amount() != 10 {
		t.Fatalf("expected to redeem 10 sats, got %v", received.Amount())
	}
	if receiver.Balance() != 10 {
		t.Fatalf("expected receiver's balance to be 10, got %v", receiver.Balance())
	}

	if _, err := sender.Check(); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if sender.Balance() != 22 {
		t.Fatalf("expected sender's balance to drop to 22, got %v", sender.Balance())
	}
}

func TestSendWithDeterministicSecret(t *testing.T) {
	sender := newTestWallet(t)
	mintIntoWallet(t, sender, 16)

	sendSecret := "abc"
	serialized, err := func() (string, error) {
		proofs, err := sender.SplitToSend(16, &sendSecret)
		if err != nil {
			return "", err
		}
		return sender.Serialize(proofs, true)
	}()
	if err != nil {
		t.Fatalf("SplitToSend/Serialize: %v", err)
	}

	receiver, err := LoadWallet(Config{WalletPath: t.TempDir(), MintURL: sender.mintURL})
	if err != nil {
		t.Fatalf("LoadWallet: %v", err)
	}
	t.Cleanup(func() { receiver.Close() })

	proofs, err := receiver.Deserialize(serialized)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	for i, p := range proofs {
		if p.Secret != "" {
			t.Fatalf("expected hidden secret on wire proof %d, got %q", i, p.Secret)
		}
	}

	received, err := receiver.Redeem(proofs, &sendSecret)
	if err != nil {
		t.Fatalf("Redeem with shared secret: %v", err)
	}
	if received.Amount() != 16 {
		t.Fatalf("expected to redeem 16 sats, got %v", received.Amount())
	}
}

func TestSetReservedExcludesFromAvailableBalance(t *testing.T) {
	w := newTestWallet(t)
	mintIntoWallet(t, w, 20)

	toReserve, err := w.selectUnreservedProofs(8)
	if err != nil {
		t.Fatalf("selectUnreservedProofs: %v", err)
	}

	if err := w.SetReserved(toReserve, true); err != nil {
		t.Fatalf("SetReserved: %v", err)
	}
	if w.Balance() != 20 {
		t.Fatalf("expected total balance unchanged at 20, got %v", w.Balance())
	}
	if w.AvailableBalance() >= 20 {
		t.Fatalf("expected available balance to exclude reserved proofs, got %v", w.AvailableBalance())
	}

	if err := w.SetReserved(toReserve, false); err != nil {
		t.Fatalf("SetReserved unreserve: %v", err)
	}
	if w.AvailableBalance() != 20 {
		t.Fatalf("expected available balance restored to 20, got %v", w.AvailableBalance())
	}
}

func TestInvalidateRemovesSpentProofs(t *testing.T) {
	sender := newTestWallet(t)
	mintIntoWallet(t, sender, 8)

	token, err := sender.Send(8)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	receiver, err := LoadWallet(Config{WalletPath: t.TempDir(), MintURL: sender.mintURL})
	if err != nil {
		t.Fatalf("LoadWallet: %v", err)
	}
	t.Cleanup(func() { receiver.Close() })

	if _, err := receiver.Receive(token); err != nil {
		t.Fatalf("Receive: %v", err)
	}

	// Split persists both halves of a send locally, including the half
	// handed to the recipient; a reconciliation sweep is what notices
	// those are now spent and drops them.
	removed, err := sender.Check()
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if removed != len(token.Proofs()) {
		t.Fatalf("expected all %d spent proofs removed, got %d", len(token.Proofs()), removed)
	}
}

func TestMeltPaysInvoice(t *testing.T) {
	w := newTestWallet(t)
	mintIntoWallet(t, w, 100)

	fb := &lightning.FakeBackend{}
	invoice, err := fb.CreateInvoice(50)
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	paid, preimage, err := w.Melt(invoice.PaymentRequest)
	if err != nil {
		t.Fatalf("Melt: %v", err)
	}
	if !paid {
		t.Fatal("expected melt to succeed")
	}
	if preimage == "" {
		t.Fatal("expected a preimage")
	}
	if w.Balance() >= 100 {
		t.Fatalf("expected balance to drop after melt, got %v", w.Balance())
	}
}

func TestMeltFailsOnBadInvoiceDescription(t *testing.T) {
	w := newTestWallet(t)
	mintIntoWallet(t, w, 20)

	failingInvoice, err := lightning.NewFailingInvoice(20)
	if err != nil {
		t.Fatalf("NewFailingInvoice: %v", err)
	}

	balanceBefore := w.Balance()
	paid, _, err := w.Melt(failingInvoice)
	if err == nil && paid {
		t.Fatal("expected melt to fail against a failing invoice")
	}
	if w.Balance() != balanceBefore {
		t.Fatalf("expected balance unchanged after a failed melt, got %v want %v", w.Balance(), balanceBefore)
	}
}
