package lightning

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
	decodepay "github.com/nbd-wtf/ln-decodepay"
)

const (
	FakePreimage = "0000000000000000"
	// FailPaymentDescription is a bolt11 description convention: any
	// invoice created with this description will fail on SendPayment,
	// letting tests exercise the melt failure path deterministically.
	FailPaymentDescription = "fail the payment"
	// DefaultInvoiceExpiry matches zpay32's default invoice expiry window.
	DefaultInvoiceExpiry = 3600
)

type fakeInvoice struct {
	PaymentRequest string
	PaymentHash    string
	Preimage       string
	Settled        bool
	Amount         uint64
	Expiry         uint64
}

// FakeBackend is an in-memory Lightning backend for tests and local runs.
// Every invoice it issues settles instantly, except ones whose description
// is FailPaymentDescription, which SendPayment always fails.
type FakeBackend struct {
	invoices []fakeInvoice
}

func (fb *FakeBackend) CreateInvoice(amount uint64) (Invoice, error) {
	req, preimage, paymentHash, err := createFakeInvoice(amount, "mint quote")
	if err != nil {
		return Invoice{}, err
	}

	inv := fakeInvoice{
		PaymentRequest: req,
		PaymentHash:    paymentHash,
		Preimage:       preimage,
		Settled:        true,
		Amount:         amount,
		Expiry:         DefaultInvoiceExpiry,
	}
	fb.invoices = append(fb.invoices, inv)

	return inv.toInvoice(), nil
}

func (fb *FakeBackend) InvoiceStatus(paymentHash string) (Invoice, error) {
	idx := slices.IndexFunc(fb.invoices, func(i fakeInvoice) bool {
		return i.PaymentHash == paymentHash
	})
	if idx == -1 {
		return Invoice{}, errors.New("invoice does not exist")
	}
	return fb.invoices[idx].toInvoice(), nil
}

func (fb *FakeBackend) SendPayment(request string) (PaymentResult, error) {
	decoded, err := decodepay.Decodepay(request)
	if err != nil {
		return PaymentResult{}, fmt.Errorf("error decoding invoice: %v", err)
	}

	if decoded.Description == FailPaymentDescription {
		return PaymentResult{Success: false}, nil
	}

	outgoing := fakeInvoice{
		PaymentHash: decoded.PaymentHash,
		Preimage:    FakePreimage,
		Settled:     true,
		Amount:      uint64(decoded.MSatoshi) / 1000,
	}
	fb.invoices = append(fb.invoices, outgoing)

	return PaymentResult{Success: true, Preimage: FakePreimage}, nil
}

func (fb *FakeBackend) FeeReserve(amount uint64) uint64 {
	return 0
}

// SetFailing makes the invoice identified by paymentHash unsettled, so a
// test can exercise the "still unpaid" branch of a mint request.
func (fb *FakeBackend) SetFailing(paymentHash string) {
	idx := slices.IndexFunc(fb.invoices, func(i fakeInvoice) bool {
		return i.PaymentHash == paymentHash
	})
	if idx != -1 {
		fb.invoices[idx].Settled = false
	}
}

// NewFailingInvoice builds a bolt11 invoice whose description marks it to
// always fail SendPayment, for exercising a melt's failure path in tests.
func NewFailingInvoice(amount uint64) (string, error) {
	req, _, _, err := createFakeInvoice(amount, FailPaymentDescription)
	return req, err
}

func (i fakeInvoice) toInvoice() Invoice {
	return Invoice{
		PaymentRequest: i.PaymentRequest,
		PaymentHash:    i.PaymentHash,
		Preimage:       i.Preimage,
		Settled:        i.Settled,
		Amount:         i.Amount,
		Expiry:         i.Expiry,
	}
}

func createFakeInvoice(amount uint64, description string) (string, string, string, error) {
	var random [32]byte
	if _, err := rand.Read(random[:]); err != nil {
		return "", "", "", err
	}
	preimage := hex.EncodeToString(random[:])
	paymentHash := sha256.Sum256(random[:])
	hash := hex.EncodeToString(paymentHash[:])

	invoice, err := zpay32.NewInvoice(
		&chaincfg.SigNetParams,
		paymentHash,
		time.Now(),
		zpay32.Amount(lnwire.MilliSatoshi(amount*1000)),
		zpay32.Description(description),
	)
	if err != nil {
		return "", "", "", err
	}

	invoiceStr, err := invoice.Encode(zpay32.MessageSigner{
		SignCompact: func(msg []byte) ([]byte, error) {
			key, err := secp256k1.GeneratePrivateKey()
			if err != nil {
				return []byte{}, err
			}
			return ecdsa.SignCompact(key, msg, true), nil
		},
	})
	if err != nil {
		return "", "", "", err
	}

	return invoiceStr, preimage, hash, nil
}
