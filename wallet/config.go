package wallet

// Config is everything LoadWallet needs: where to keep local state and
// which mint to talk to.
type Config struct {
	WalletPath string
	MintURL    string
}
