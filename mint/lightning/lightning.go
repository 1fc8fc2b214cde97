// Package lightning defines the mint's view of a Lightning backend: just
// enough to request an invoice, poll whether it settled, and pay one out.
package lightning

// Client is the interface the mint ledger uses to talk to a Lightning
// backend. Real backend integration (lnd/cln RPC clients) is out of scope;
// FakeBackend is the only implementation this module ships.
type Client interface {
	// CreateInvoice requests a bolt11 invoice for amount sats.
	CreateInvoice(amount uint64) (Invoice, error)
	// InvoiceStatus reports whether the invoice identified by
	// payment hash has been settled.
	InvoiceStatus(paymentHash string) (Invoice, error)
	// SendPayment pays a bolt11 invoice and blocks until the payment
	// either succeeds or fails. The melt flow this mint implements is
	// synchronous, unlike backends that expose a separate pending state.
	SendPayment(request string) (PaymentResult, error)
	// FeeReserve returns the additional amount, in sats, a wallet must
	// supply on top of an invoice's face value to cover routing fees.
	FeeReserve(amount uint64) uint64
}

// Invoice describes a bolt11 invoice the mint created for an incoming mint
// request, keyed by its payment hash.
type Invoice struct {
	PaymentRequest string
	PaymentHash    string
	Settled        bool
	Preimage       string
	Amount         uint64
	Expiry         uint64
}

// PaymentResult is the outcome of paying an invoice on melt.
type PaymentResult struct {
	Success  bool
	Preimage string
}
