// Command nutw is the wallet CLI: request/claim mints, split ecash off to
// send, redeem what's received, pay invoices, and inspect local balance.
package main

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	decodepay "github.com/nbd-wtf/ln-decodepay"
	"github.com/urfave/cli/v2"

	"github.com/lackrobin/cashu/wallet"
)

var w *wallet.Wallet

func setWalletPath() string {
	homedir, err := os.UserHomeDir()
	if err != nil {
		log.Fatal(err)
	}

	path := filepath.Join(homedir, ".cashu", "wallet")
	if err := os.MkdirAll(path, 0700); err != nil {
		log.Fatal(err)
	}
	return path
}

func getMintURL() string {
	if mintURL := os.Getenv("MINT_URL"); len(mintURL) > 0 {
		return mintURL
	}

	mintHost := os.Getenv("MINT_HOST")
	mintPort := os.Getenv("MINT_PORT")
	if len(mintHost) == 0 || len(mintPort) == 0 {
		return "http://127.0.0.1:3338"
	}

	u := &url.URL{Scheme: "http", Host: mintHost + ":" + mintPort}
	return u.String()
}

func walletConfig() wallet.Config {
	path := setWalletPath()

	envPath := filepath.Join(path, ".env")
	if _, err := os.Stat(envPath); err != nil {
		if wd, err := os.Getwd(); err == nil {
			envPath = filepath.Join(wd, ".env")
		} else {
			envPath = ""
		}
	}
	if len(envPath) > 0 {
		godotenv.Load(envPath)
	}

	return wallet.Config{WalletPath: path, MintURL: getMintURL()}
}

func setupWallet(ctx *cli.Context) error {
	var err error
	w, err = wallet.LoadWallet(walletConfig())
	if err != nil {
		printErr(err)
	}
	return nil
}

func main() {
	app := &cli.App{
		Name:  "nutw",
		Usage: "cashu wallet",
		Commands: []*cli.Command{
			balanceCmd,
			statusCmd,
			mintCmd,
			sendCmd,
			receiveCmd,
			payCmd,
			reserveCmd,
			checkCmd,
			decodeCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var balanceCmd = &cli.Command{
	Name:   "balance",
	Usage:  "Wallet balance",
	Before: setupWallet,
	Action: getBalance,
}

func getBalance(ctx *cli.Context) error {
	fmt.Printf("total balance: %v sats\n", w.Balance())
	fmt.Printf("available (unreserved) balance: %v sats\n", w.AvailableBalance())
	return nil
}

var statusCmd = &cli.Command{
	Name:   "status",
	Usage:  "Denomination breakdown of the wallet's proofs",
	Before: setupWallet,
	Action: getStatus,
}

func getStatus(ctx *cli.Context) error {
	amounts := w.ProofAmounts()
	if len(amounts) == 0 {
		fmt.Println("no proofs held")
		return nil
	}
	for _, amount := range amounts {
		fmt.Printf("%v sat\n", amount)
	}
	return nil
}

const invoiceFlag = "invoice"

var mintCmd = &cli.Command{
	Name:      "mint",
	Usage:     "Request a mint quote, or claim tokens for one already paid",
	ArgsUsage: "[AMOUNT]",
	Before:    setupWallet,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  invoiceFlag,
			Usage: "payment hash of a previously requested, now-paid invoice to claim",
		},
	},
	Action: mintAction,
}

func mintAction(ctx *cli.Context) error {
	if ctx.IsSet(invoiceFlag) {
		proofs, err := w.MintTokens(ctx.String(invoiceFlag))
		if err != nil {
			printErr(err)
		}
		fmt.Printf("%v sats successfully minted\n", proofs.Amount())
		return nil
	}

	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify an amount to mint"))
	}
	amount, err := strconv.ParseUint(args.First(), 10, 64)
	if err != nil {
		printErr(errors.New("invalid amount"))
	}

	req, err := w.RequestMint(amount)
	if err != nil {
		printErr(err)
	}

	fmt.Printf("invoice: %v\n\n", req.PaymentRequest)
	fmt.Println("after paying the invoice, claim the ecash with --invoice <hash>")
	fmt.Printf("hash: %v\n", req.PaymentHash)
	return nil
}

const lockSecretFlag = "lock-secret"

var sendCmd = &cli.Command{
	Name:      "send",
	Usage:     "Splits off a token for the given amount to hand to someone else",
	ArgsUsage: "[AMOUNT]",
	Before:    setupWallet,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  lockSecretFlag,
			Usage: "derive deterministic secrets from this value, so the recipient can redeem without the token carrying them",
		},
	},
	Action: send,
}

func send(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify an amount to send"))
	}
	amount, err := strconv.ParseUint(args.First(), 10, 64)
	if err != nil {
		printErr(errors.New("invalid amount"))
	}

	if ctx.IsSet(lockSecretFlag) {
		sendSecret := ctx.String(lockSecretFlag)
		proofs, err := w.SplitToSend(amount, &sendSecret)
		if err != nil {
			printErr(err)
		}
		token, err := w.Serialize(proofs, true)
		if err != nil {
			printErr(err)
		}
		fmt.Println(token)
		return nil
	}

	token, err := w.Send(amount)
	if err != nil {
		printErr(err)
	}
	serialized, err := token.Serialize()
	if err != nil {
		printErr(err)
	}
	fmt.Println(serialized)
	return nil
}

var receiveCmd = &cli.Command{
	Name:      "receive",
	Usage:     "Redeems a token",
	ArgsUsage: "[TOKEN]",
	Before:    setupWallet,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  lockSecretFlag,
			Usage: "value the sender derived secrets from, for a token that doesn't carry its own",
		},
	},
	Action: receive,
}

func receive(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("token not provided"))
	}

	proofs, err := w.Deserialize(args.First())
	if err != nil {
		printErr(err)
	}

	var sendSecret *string
	if ctx.IsSet(lockSecretFlag) {
		s := ctx.String(lockSecretFlag)
		sendSecret = &s
	}

	redeemed, err := w.Redeem(proofs, sendSecret)
	if err != nil {
		printErr(err)
	}

	fmt.Printf("%v sats received\n", redeemed.Amount())
	return nil
}

var payCmd = &cli.Command{
	Name:      "pay",
	Usage:     "Pay a lightning invoice",
	ArgsUsage: "[INVOICE]",
	Before:    setupWallet,
	Action:    pay,
}

func pay(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify a lightning invoice to pay"))
	}
	invoice := args.First()

	if _, err := decodepay.Decodepay(invoice); err != nil {
		printErr(fmt.Errorf("invalid invoice: %v", err))
	}

	paid, preimage, err := w.Melt(invoice)
	if err != nil {
		printErr(err)
	}

	fmt.Printf("invoice paid: %v\n", paid)
	if paid {
		fmt.Printf("preimage: %v\n", preimage)
	}
	return nil
}

const unreserveFlag = "unreserve"

var reserveCmd = &cli.Command{
	Name:      "reserve",
	Usage:     "Mark a previously sent token's proofs as reserved (or, with --unreserve, clear that mark)",
	ArgsUsage: "[TOKEN]",
	Before:    setupWallet,
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: unreserveFlag},
	},
	Action: reserve,
}

func reserve(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("token not provided"))
	}

	proofs, err := w.Deserialize(args.First())
	if err != nil {
		printErr(err)
	}

	if err := w.SetReserved(proofs, !ctx.Bool(unreserveFlag)); err != nil {
		printErr(err)
	}
	fmt.Println("ok")
	return nil
}

var checkCmd = &cli.Command{
	Name:   "check",
	Usage:  "Checks held proofs against the mint and drops whichever are already spent",
	Before: setupWallet,
	Action: check,
}

func check(ctx *cli.Context) error {
	removed, err := w.Check()
	if err != nil {
		printErr(err)
	}
	fmt.Printf("%v proof(s) were already spent and have been removed\n", removed)
	return nil
}

var decodeCmd = &cli.Command{
	Name:      "decode",
	Usage:     "Decode a token without redeeming it",
	ArgsUsage: "[TOKEN]",
	Before:    setupWallet,
	Action:    decode,
}

func decode(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("token not provided"))
	}

	proofs, err := w.Deserialize(args.First())
	if err != nil {
		printErr(err)
	}

	fmt.Printf("%v proof(s), %v sats total\n", len(proofs), proofs.Amount())
	for _, p := range proofs {
		fmt.Printf("  amount=%v secret=%v\n", p.Amount, p.Secret)
	}
	return nil
}

func printErr(msg error) {
	fmt.Println(msg.Error())
	os.Exit(1)
}
