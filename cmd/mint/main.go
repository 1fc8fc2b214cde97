// Command mint runs the ledger as a standalone HTTP process: load .env,
// build a Config from the environment, bring up a Mint, and serve until
// interrupted.
package main

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/lackrobin/cashu/mint"
	"github.com/lackrobin/cashu/mint/lightning"
)

func configFromEnv() (mint.Config, error) {
	config := mint.GetConfig()

	if len(config.MintPath) == 0 {
		homedir, err := os.UserHomeDir()
		if err != nil {
			return mint.Config{}, err
		}
		config.MintPath = filepath.Join(homedir, ".cashu", "mint")
	}

	// Real Lightning backend integration is out of scope for this mint:
	// the FakeBackend is used whatever LIGHTNING_ENABLED says, so invoices
	// always settle instantly; LIGHTNING_ENABLED=false only logs a notice.
	config.LightningClient = &lightning.FakeBackend{}
	if os.Getenv("LIGHTNING_ENABLED") == "false" {
		log.Println("LIGHTNING_ENABLED=false; using FakeBackend with no real settlement path")
	}

	if order := os.Getenv("MINT_MAX_ORDER"); len(order) > 0 {
		if _, err := strconv.Atoi(order); err != nil {
			return mint.Config{}, fmt.Errorf("invalid MINT_MAX_ORDER: %v", err)
		}
		// MaxOrder is fixed by crypto.MaxOrder; the env var is accepted
		// for forwards compatibility with deployments that set it but
		// not otherwise consulted, since this mint runs a single keyset.
	}

	return config, nil
}

// seedOverride returns the operator-supplied MINT_PRIVATE_KEY, if any, so a
// mint can be restored onto fresh storage with a known keyset rather than
// have one generated for it.
func seedOverride() ([]byte, error) {
	hexSeed := os.Getenv("MINT_PRIVATE_KEY")
	if len(hexSeed) == 0 {
		return nil, nil
	}
	seed, err := hex.DecodeString(hexSeed)
	if err != nil {
		return nil, fmt.Errorf("invalid MINT_PRIVATE_KEY: %v", err)
	}
	return seed, nil
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, reading configuration from the environment")
	}

	config, err := configFromEnv()
	if err != nil {
		log.Fatalf("error building mint config: %v", err)
	}

	seed, err := seedOverride()
	if err != nil {
		log.Fatal(err)
	}
	if len(seed) > 0 {
		if err := mint.SeedMintStorage(config, seed); err != nil {
			log.Fatalf("error applying MINT_PRIVATE_KEY: %v", err)
		}
	}

	m, err := mint.LoadMint(config)
	if err != nil {
		log.Fatalf("error loading mint: %v", err)
	}

	addr := fmt.Sprintf(":%d", config.Port)
	server, err := mint.SetupServer(m, addr)
	if err != nil {
		log.Fatalf("error starting mint server: %v", err)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-c
		server.Shutdown()
		m.Close()
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(); err != nil {
			log.Fatalf("error running mint server: %v", err)
		}
	}()
	wg.Wait()
}
