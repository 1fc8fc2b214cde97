// Package mint implements the ledger side of the Cashu protocol: issuing
// blind signatures against paid Lightning invoices, swapping proofs for
// fresh ones, and melting ecash back out over Lightning.
package mint

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	decodepay "github.com/nbd-wtf/ln-decodepay"

	"github.com/lackrobin/cashu/cashu"
	"github.com/lackrobin/cashu/crypto"
	"github.com/lackrobin/cashu/mint/lightning"
	"github.com/lackrobin/cashu/mint/storage"
	"github.com/lackrobin/cashu/mint/storage/sqlite"
)

const SAT_UNIT = "sat"

// Mint is the ledger: one deterministic keyset, a Lightning backend, and a
// durable store of spent secrets and outstanding mint requests.
type Mint struct {
	db              storage.MintDB
	keyset          *crypto.Keyset
	lightningClient lightning.Client
	info            Info
	limits          Limits
	logger          *slog.Logger
}

// LoadMint opens (or initializes) the mint's storage, derives its keyset
// from a persisted or freshly-generated seed, and returns a ready Mint.
func LoadMint(config Config) (*Mint, error) {
	path := config.MintPath
	if len(path) == 0 {
		path = defaultMintPath()
	}

	logger, err := setupLogger(path, config.LogLevel)
	if err != nil {
		return nil, err
	}

	db, err := sqlite.InitSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("error setting up sqlite: %v", err)
	}

	seed, err := db.GetSeed()
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			seed, err = hdkeychain.GenerateSeed(32)
			if err != nil {
				return nil, fmt.Errorf("error generating seed: %v", err)
			}
			if err := db.SaveSeed(seed); err != nil {
				return nil, err
			}
		} else {
			return nil, err
		}
	}

	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, err
	}

	keyset, err := crypto.GenerateKeyset(master)
	if err != nil {
		return nil, fmt.Errorf("error generating keyset: %v", err)
	}

	if config.LightningClient == nil {
		return nil, errors.New("invalid lightning client")
	}

	mint := &Mint{
		db:              db,
		keyset:          keyset,
		lightningClient: config.LightningClient,
		limits:          config.Limits,
		logger:          logger,
	}
	mint.SetInfo(config.Info)

	logger.Info(fmt.Sprintf("mint ready with keyset '%v'", keyset.Id))
	return mint, nil
}

// SeedMintStorage persists seed as the mint's keyset seed ahead of LoadMint,
// letting an operator restore a mint deterministically onto fresh storage
// via MINT_PRIVATE_KEY rather than have LoadMint generate one. It is a
// no-op if storage already has a seed.
func SeedMintStorage(config Config, seed []byte) error {
	path := config.MintPath
	if len(path) == 0 {
		path = defaultMintPath()
	}

	db, err := sqlite.InitSQLite(path)
	if err != nil {
		return fmt.Errorf("error setting up sqlite: %v", err)
	}
	defer db.Close()

	if _, err := db.GetSeed(); err == nil {
		return nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	return db.SaveSeed(seed)
}

func defaultMintPath() string {
	homedir, err := os.UserHomeDir()
	if err != nil {
		log.Fatal(err)
	}

	path := filepath.Join(homedir, ".cashu", "mint")
	if err := os.MkdirAll(path, 0700); err != nil {
		log.Fatal(err)
	}
	return path
}

func setupLogger(mintPath string, logLevel LogLevel) (*slog.Logger, error) {
	replacer := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			source := a.Value.Any().(*slog.Source)
			source.File = filepath.Base(source.File)
		}
		if a.Key == slog.TimeKey {
			a.Value = slog.StringValue(time.Now().Truncate(time.Second * 2).Format(time.DateTime))
		}
		return a
	}

	logFile, err := os.OpenFile(filepath.Join(mintPath, "mint.log"), os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("error opening log file: %v", err)
	}

	logWriter := io.MultiWriter(os.Stdout, logFile)
	level := slog.LevelInfo
	switch logLevel {
	case Debug:
		level = slog.LevelDebug
	case Disable:
		logWriter = io.Discard
	}

	return slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		AddSource:   true,
		Level:       level,
		ReplaceAttr: replacer,
	})), nil
}

// logInfof/logErrorf/logDebugf preserve the caller's source position in the
// log record, so every line points at where the log call was made rather
// than at these helpers.
func (m *Mint) logInfof(format string, args ...any) {
	var pcs [1]uintptr
	runtime.Callers(2, pcs[:])
	r := slog.NewRecord(time.Now(), slog.LevelInfo, fmt.Sprintf(format, args...), pcs[0])
	_ = m.logger.Handler().Handle(context.Background(), r)
}

func (m *Mint) logErrorf(format string, args ...any) {
	var pcs [1]uintptr
	runtime.Callers(2, pcs[:])
	r := slog.NewRecord(time.Now(), slog.LevelError, fmt.Sprintf(format, args...), pcs[0])
	_ = m.logger.Handler().Handle(context.Background(), r)
}

func (m *Mint) logDebugf(format string, args ...any) {
	if !m.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(2, pcs[:])
	r := slog.NewRecord(time.Now(), slog.LevelDebug, fmt.Sprintf(format, args...), pcs[0])
	_ = m.logger.Handler().Handle(context.Background(), r)
}

// Keys returns the mint's public keyset, the response to GET /keys.
func (m *Mint) Keys() crypto.PublicKeys {
	return m.keyset.PublicKeys()
}

// RequestMint asks the Lightning backend for an invoice of amount sats and
// records it as an outstanding request, keyed by its payment hash.
func (m *Mint) RequestMint(amount uint64) (storage.MintRequest, error) {
	if amount == 0 {
		return storage.MintRequest{}, cashu.SplitAmountInvalidErr
	}
	if m.limits.MintingMaxAmount > 0 && amount > m.limits.MintingMaxAmount {
		return storage.MintRequest{}, cashu.MintAmountExceededErr
	}
	if m.limits.MaxBalance > 0 {
		balance, err := m.db.GetBalance()
		if err != nil {
			return storage.MintRequest{}, cashu.BuildCashuError(fmt.Sprintf("could not get mint balance: %v", err), cashu.DBErrCode)
		}
		if balance+amount > m.limits.MaxBalance {
			return storage.MintRequest{}, cashu.MintingDisabled
		}
	}

	m.logInfof("requesting invoice from lightning backend for %v sats", amount)
	invoice, err := m.lightningClient.CreateInvoice(amount)
	if err != nil {
		return storage.MintRequest{}, cashu.BuildCashuError(fmt.Sprintf("could not generate invoice: %v", err), cashu.LightningBackendErrCode)
	}

	req := storage.MintRequest{
		PaymentHash:    invoice.PaymentHash,
		PaymentRequest: invoice.PaymentRequest,
		Amount:         amount,
		Expiry:         invoice.Expiry,
	}
	if err := m.db.SaveMintRequest(req); err != nil {
		return storage.MintRequest{}, cashu.BuildCashuError(fmt.Sprintf("error saving mint request: %v", err), cashu.DBErrCode)
	}
	return req, nil
}

// Mint verifies the invoice identified by paymentHash has been paid and, if
// so, signs blindedMessages and marks the request as issued. A request can
// only be issued once, and blinded messages the mint has already signed
// (under any request) are rejected with BlindedMessageAlreadySigned rather
// than signed again.
func (m *Mint) Mint(paymentHash string, blindedMessages cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	req, err := m.db.GetMintRequestByPaymentHash(paymentHash)
	if err != nil {
		return nil, cashu.BuildCashuError("mint request does not exist", cashu.StandardErrCode)
	}
	if req.Issued {
		return nil, cashu.BuildCashuError("mint request already issued", cashu.StandardErrCode)
	}

	m.logDebugf("checking status of invoice with hash '%v'", paymentHash)
	invoice, err := m.lightningClient.InvoiceStatus(paymentHash)
	if err != nil {
		return nil, cashu.BuildCashuError(fmt.Sprintf("error getting invoice status: %v", err), cashu.LightningBackendErrCode)
	}
	if !invoice.Settled {
		return nil, cashu.InvoiceNotPaidErr
	}

	requestedAmount := blindedMessages.Amount()
	if requestedAmount > req.Amount {
		return nil, cashu.BuildCashuError("sum of outputs exceeds amount requested", cashu.StandardErrCode)
	}

	if cashu.CheckDuplicateBlindedMessages(blindedMessages) {
		return nil, cashu.BuildCashuError("duplicate blinded messages", cashu.StandardErrCode)
	}

	B_s := blindedMessagesPoints(blindedMessages)
	existing, err := m.db.GetBlindSignatures(B_s)
	if err != nil {
		return nil, cashu.BuildCashuError(fmt.Sprintf("error checking blind signatures: %v", err), cashu.DBErrCode)
	}
	if len(existing) > 0 {
		return nil, cashu.BlindedMessageAlreadySigned
	}

	sigs, err := m.signBlindedMessages(blindedMessages)
	if err != nil {
		return nil, err
	}

	if err := m.db.UpdateMintRequestIssued(paymentHash, true); err != nil {
		return nil, cashu.BuildCashuError(fmt.Sprintf("error marking mint request issued: %v", err), cashu.DBErrCode)
	}

	m.logInfof("issued %v sats against invoice '%v'", requestedAmount, paymentHash)
	return sigs, nil
}

// Split (the wallet-facing "split"/"swap" operation) exchanges proofs for a
// fresh fst (change, total-requestedAmount) and snd (requestedAmount) set of
// blinded signatures, invalidating the inputs. The partition point between
// fst and snd within blindedMessages is never sent over the wire: it's
// len(AmountSplit(total-requestedAmount)), the same binary decomposition the
// wallet used to build its fst outputs, so the mint derives it itself rather
// than trusting a client-supplied index.
func (m *Mint) Split(proofs cashu.Proofs, requestedAmount uint64, blindedMessages cashu.BlindedMessages) (fst, snd cashu.BlindedSignatures, err error) {
	if err := m.verifyProofs(proofs); err != nil {
		return nil, nil, err
	}

	total := proofs.Amount()
	if requestedAmount == 0 || requestedAmount > total {
		return nil, nil, cashu.SplitAmountInvalidErr
	}
	fstAmt := total - requestedAmount

	if blindedMessages.Amount() != total {
		return nil, nil, cashu.SplitAmountMismatchErr
	}

	fstLen := len(cashu.AmountSplit(fstAmt))
	if fstLen > len(blindedMessages) {
		return nil, nil, cashu.SplitAmountMismatchErr
	}
	fstMsgs, sndMsgs := blindedMessages[:fstLen], blindedMessages[fstLen:]
	if fstMsgs.Amount() != fstAmt || sndMsgs.Amount() != requestedAmount {
		return nil, nil, cashu.SplitAmountMismatchErr
	}

	if cashu.CheckDuplicateBlindedMessages(blindedMessages) {
		return nil, nil, cashu.BuildCashuError("duplicate blinded messages", cashu.StandardErrCode)
	}

	B_s := blindedMessagesPoints(blindedMessages)
	existing, err := m.db.GetBlindSignatures(B_s)
	if err != nil {
		return nil, nil, cashu.BuildCashuError(fmt.Sprintf("error checking blind signatures: %v", err), cashu.DBErrCode)
	}
	if len(existing) > 0 {
		return nil, nil, cashu.BlindedMessageAlreadySigned
	}

	sigs, err := m.signBlindedMessages(blindedMessages)
	if err != nil {
		return nil, nil, err
	}

	if err := m.db.SaveProofsUsed(proofs); err != nil {
		return nil, nil, cashu.BuildCashuError(fmt.Sprintf("error invalidating proofs: %v", err), cashu.DBErrCode)
	}

	return sigs[:fstLen], sigs[fstLen:], nil
}

// Check reports, for each proof's secret, whether it has already been
// spent. It never mutates state.
func (m *Mint) Check(secrets []string) (map[string]bool, error) {
	used, err := m.db.GetProofsUsed(secrets)
	if err != nil {
		return nil, cashu.BuildCashuError(fmt.Sprintf("could not get used proofs: %v", err), cashu.DBErrCode)
	}

	usedSet := make(map[string]bool, len(used))
	for _, p := range used {
		usedSet[p.Secret] = true
	}

	result := make(map[string]bool, len(secrets))
	for _, secret := range secrets {
		result[secret] = usedSet[secret]
	}
	return result, nil
}

// Melt verifies proofs covering the invoice amount plus fee reserve, pays
// the invoice, and invalidates the proofs. The payment is synchronous: on
// return the caller knows definitively whether it succeeded, unless the
// Lightning backend itself returned a transport error, in which case the
// caller must fall back to Check before deciding whether to retry.
func (m *Mint) Melt(ctx context.Context, request string, proofs cashu.Proofs) (bool, string, error) {
	if err := m.verifyProofs(proofs); err != nil {
		return false, "", err
	}

	invoice, err := decodeInvoiceAmount(request)
	if err != nil {
		return false, "", cashu.BuildCashuError(fmt.Sprintf("invalid invoice: %v", err), cashu.StandardErrCode)
	}

	feeReserve := m.lightningClient.FeeReserve(invoice)
	proofsAmount := proofs.Amount()
	if proofsAmount < invoice+feeReserve {
		return false, "", cashu.InsufficientProofsAmount
	}
	if m.limits.MeltingMaxAmount > 0 && invoice > m.limits.MeltingMaxAmount {
		return false, "", cashu.MeltAmountExceededErr
	}

	m.logInfof("attempting to pay invoice for %v sats", invoice)
	result, err := m.lightningClient.SendPayment(request)
	if err != nil {
		return false, "", cashu.BuildCashuError(fmt.Sprintf("error sending payment: %v", err), cashu.LightningBackendErrCode)
	}
	if !result.Success {
		return false, "", cashu.MeltPaymentFailedErr
	}

	if err := m.db.SaveProofsUsed(proofs); err != nil {
		return false, "", cashu.BuildCashuError(fmt.Sprintf("error invalidating proofs: %v", err), cashu.DBErrCode)
	}

	m.logInfof("paid invoice, preimage '%v'", result.Preimage)
	return true, result.Preimage, nil
}

func (m *Mint) verifyProofs(proofs cashu.Proofs) error {
	if len(proofs) == 0 {
		return cashu.NoProofsProvided
	}

	if cashu.CheckDuplicateProofs(proofs) {
		return cashu.DuplicateProofs
	}

	secrets := make([]string, len(proofs))
	for i, proof := range proofs {
		secrets[i] = proof.Secret
	}

	usedProofs, err := m.db.GetProofsUsed(secrets)
	if err != nil {
		return cashu.BuildCashuError(fmt.Sprintf("could not get used proofs: %v", err), cashu.DBErrCode)
	}
	if len(usedProofs) != 0 {
		return cashu.ProofAlreadyUsedErr
	}

	for _, proof := range proofs {
		key, ok := m.keyset.Keys[proof.Amount]
		if !ok {
			return cashu.InvalidProofErr
		}

		Cbytes, err := hex.DecodeString(proof.C)
		if err != nil {
			return cashu.BuildCashuError(fmt.Sprintf("invalid C: %v", err), cashu.StandardErrCode)
		}
		C, err := secp256k1.ParsePubKey(Cbytes)
		if err != nil {
			return cashu.BuildCashuError(err.Error(), cashu.StandardErrCode)
		}

		if !crypto.Verify([]byte(proof.Secret), key.PrivateKey, C) {
			return cashu.InvalidProofErr
		}
	}

	return nil
}

// signBlindedMessages signs each blinded message with the key for its
// amount and persists the signature so a resubmission of the same message
// is rejected rather than double-issued.
func (m *Mint) signBlindedMessages(blindedMessages cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	sigs := make(cashu.BlindedSignatures, len(blindedMessages))
	B_s := make([]string, len(blindedMessages))

	for i, msg := range blindedMessages {
		key, ok := m.keyset.Keys[msg.Amount]
		if !ok {
			return nil, cashu.InvalidBlindedMessageAmount
		}

		B_bytes, err := hex.DecodeString(msg.B_)
		if err != nil {
			return nil, cashu.BuildCashuError(fmt.Sprintf("invalid B_: %v", err), cashu.StandardErrCode)
		}
		B_, err := secp256k1.ParsePubKey(B_bytes)
		if err != nil {
			return nil, cashu.BuildCashuError(err.Error(), cashu.StandardErrCode)
		}

		C_ := crypto.SignBlindedMessage(B_, key.PrivateKey)
		sigs[i] = cashu.BlindedSignature{Amount: msg.Amount, C_: hex.EncodeToString(C_.SerializeCompressed())}
		B_s[i] = msg.B_
	}

	if err := m.db.SaveBlindSignatures(B_s, sigs); err != nil {
		return nil, cashu.BuildCashuError(fmt.Sprintf("error saving blind signatures: %v", err), cashu.DBErrCode)
	}

	return sigs, nil
}

// decodeInvoiceAmount extracts the amount in sats a bolt11 invoice asks for.
func decodeInvoiceAmount(request string) (uint64, error) {
	decoded, err := decodepay.Decodepay(request)
	if err != nil {
		return 0, err
	}
	return uint64(decoded.MSatoshi) / 1000, nil
}

func blindedMessagesPoints(blindedMessages cashu.BlindedMessages) []string {
	B_s := make([]string, len(blindedMessages))
	for i, msg := range blindedMessages {
		B_s[i] = msg.B_
	}
	return B_s
}

// Info reports the mint's public identity for the optional /info endpoint.
func (m *Mint) Info() Info {
	return m.info
}

func (m *Mint) SetInfo(info Info) {
	m.info = info
}

func (m *Mint) Close() error {
	return m.db.Close()
}
