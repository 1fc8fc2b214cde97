package mint

import (
	"log"
	"os"
	"strconv"

	"github.com/lackrobin/cashu/mint/lightning"
)

type LogLevel int

const (
	LogLevelInfo LogLevel = iota
	Debug
	Disable
)

// Limits caps a mint's exposure: the largest single mint/melt request it
// will service, and the total outstanding ecash liability it will carry.
type Limits struct {
	MintingMaxAmount uint64
	MeltingMaxAmount uint64
	MaxBalance       uint64
}

// Info is the mint's public identity, served from the optional GET
// /info endpoint.
type Info struct {
	Name        string
	Description string
	Pubkey      string
	Contact     []string
	Version     string
}

// Config is everything LoadMint needs to bring up a Mint: where its data
// lives, which Lightning backend to talk to, its public identity, and its
// request limits.
type Config struct {
	MintPath        string
	Port            int
	LogLevel        LogLevel
	LightningClient lightning.Client
	Info            Info
	Limits          Limits
}

// GetConfig builds a Config from environment variables, the way a deployed
// mint process is configured. It is not used by tests, which construct a
// Config by hand with a FakeBackend.
func GetConfig() Config {
	mintPath := os.Getenv("MINT_DB_PATH")

	port := 3338
	if envPort := os.Getenv("MINT_PORT"); len(envPort) > 0 {
		p, err := strconv.Atoi(envPort)
		if err != nil {
			log.Fatalf("invalid MINT_PORT: %v", err)
		}
		port = p
	}

	logLevel := LogLevelInfo
	switch os.Getenv("MINT_LOG_LEVEL") {
	case "DEBUG":
		logLevel = Debug
	case "DISABLE":
		logLevel = Disable
	}

	limits := Limits{}
	if v := os.Getenv("MINT_MAX_MINT_AMOUNT"); len(v) > 0 {
		amount, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			log.Fatalf("invalid MINT_MAX_MINT_AMOUNT: %v", err)
		}
		limits.MintingMaxAmount = amount
	}
	if v := os.Getenv("MINT_MAX_MELT_AMOUNT"); len(v) > 0 {
		amount, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			log.Fatalf("invalid MINT_MAX_MELT_AMOUNT: %v", err)
		}
		limits.MeltingMaxAmount = amount
	}
	if v := os.Getenv("MINT_MAX_BALANCE"); len(v) > 0 {
		amount, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			log.Fatalf("invalid MINT_MAX_BALANCE: %v", err)
		}
		limits.MaxBalance = amount
	}

	info := Info{
		Name:        os.Getenv("MINT_NAME"),
		Description: os.Getenv("MINT_DESCRIPTION"),
	}

	return Config{
		MintPath: mintPath,
		Port:     port,
		LogLevel: logLevel,
		Info:     info,
		Limits:   limits,
	}
}
