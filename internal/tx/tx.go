// Package tx builds funding and fuel transactions by driving the external
// cardano-cli. The builder is stateless and synchronous; it may be invoked
// concurrently with any other operation.
package tx

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"time"

	"hydrapay.dev/hpd/internal/cli"
	"hydrapay.dev/hpd/internal/config"
	"hydrapay.dev/hpd/internal/types"
)

// FuelMarkerDatumHash tags fuel outputs on chain so they can be told apart
// from ordinary spendable funds later. The value is fixed by the protocol.
const FuelMarkerDatumHash = "a654fb60d21c1fed48db2c320aa6df9737ec0204c0ba53b9b94a09fb40e757f3"

// KeyProvider resolves or creates the proxy address for an owner.
type KeyProvider interface {
	AddOrGetKeyInfo(owner string) (string, types.KeyInfo, error)
}

// Builder constructs transactions via cardano-cli.
type Builder struct {
	cfg  *config.Config
	keys KeyProvider
	run  cli.Runner
}

// NewBuilder creates a transaction builder using the default CLI runner.
func NewBuilder(cfg *config.Config, keys KeyProvider) *Builder {
	return &Builder{cfg: cfg, keys: keys, run: cli.Run}
}

// SetRunner overrides the CLI runner. Used by tests.
func (b *Builder) SetRunner(run cli.Runner) {
	b.run = run
}

func (b *Builder) callCtx() (context.Context, context.CancelFunc) {
	timeout := time.Duration(b.cfg.CLITimeoutSeconds) * time.Second
	return context.WithTimeout(context.Background(), timeout)
}

func (b *Builder) socketEnv() []string {
	return []string{"CARDANO_NODE_SOCKET_PATH=" + b.cfg.Ledger.NodeSocket}
}

// QueryUTxOs returns the current unspent outputs at an address.
func (b *Builder) QueryUTxOs(address string) (types.UTxOSet, error) {
	ctx, cancel := b.callCtx()
	defer cancel()

	outFile, err := tempOutFile("utxo-*.json")
	if err != nil {
		return nil, err
	}
	defer os.Remove(outFile)

	_, err = b.run(ctx, b.socketEnv(), b.cfg.CardanoCLIBin,
		"query", "utxo",
		"--address", address,
		"--testnet-magic", strconv.Itoa(b.cfg.Ledger.NetworkMagic),
		"--out-file", outFile)
	if err != nil {
		return nil, fmt.Errorf("query utxo: %w", err)
	}

	data, err := os.ReadFile(outFile)
	if err != nil {
		return nil, fmt.Errorf("read utxo file: %w", err)
	}

	var utxos types.UTxOSet
	if err := json.Unmarshal(data, &utxos); err != nil {
		return nil, fmt.Errorf("decode utxo file: %w", err)
	}
	return utxos, nil
}

// BuildAddTx builds a transaction spending all of the sender's
// lovelace-denominated inputs into one output of amount lovelace at the
// sender's proxy address, tagged with the fuel marker datum hash when txType
// is fuel, with remaining value returned as change to the sender. Inputs
// carrying native assets are left untouched. Failures to invoke the tool or
// decode its output surface as FailedToBuildFundsTx.
func (b *Builder) BuildAddTx(txType types.TxType, fromAddress string, amount uint64) (*types.Transaction, error) {
	utxos, err := b.QueryUTxOs(fromAddress)
	if err != nil {
		log.Printf("tx: query utxos for %s: %v", fromAddress, err)
		return nil, types.ErrFailedToBuildFundsTx()
	}
	spendable := utxos.OnlyLovelace()
	if spendable.TotalLovelace() < amount {
		return nil, types.ErrInsufficientFunds()
	}

	proxyAddress, _, err := b.keys.AddOrGetKeyInfo(fromAddress)
	if err != nil {
		log.Printf("tx: resolve proxy for %s: %v", fromAddress, err)
		return nil, types.ErrFailedToBuildFundsTx()
	}

	outFile, err := tempOutFile("tx-*.json")
	if err != nil {
		return nil, types.ErrFailedToBuildFundsTx()
	}
	defer os.Remove(outFile)

	args := []string{"transaction", "build", "--babbage-era"}
	for _, ref := range sortedRefs(spendable) {
		args = append(args, "--tx-in", ref)
	}
	args = append(args, "--tx-out", fmt.Sprintf("%s+%d", proxyAddress, amount))
	if txType == types.TxFuel {
		args = append(args, "--tx-out-datum-hash", FuelMarkerDatumHash)
	}
	args = append(args,
		"--change-address", fromAddress,
		"--testnet-magic", strconv.Itoa(b.cfg.Ledger.NetworkMagic),
		"--out-file", outFile)

	ctx, cancel := b.callCtx()
	defer cancel()

	if _, err := b.run(ctx, b.socketEnv(), b.cfg.CardanoCLIBin, args...); err != nil {
		log.Printf("tx: build for %s: %v", fromAddress, err)
		return nil, types.ErrFailedToBuildFundsTx()
	}

	data, err := os.ReadFile(outFile)
	if err != nil {
		log.Printf("tx: read out-file for %s: %v", fromAddress, err)
		return nil, types.ErrFailedToBuildFundsTx()
	}

	var transaction types.Transaction
	if err := json.Unmarshal(data, &transaction); err != nil || transaction.CborHex == "" {
		log.Printf("tx: malformed transaction output for %s", fromAddress)
		return nil, types.ErrFailedToBuildFundsTx()
	}

	return &transaction, nil
}

// sortedRefs returns the utxo references in a stable order so the built
// command line is deterministic.
func sortedRefs(utxos types.UTxOSet) []string {
	refs := make([]string, 0, len(utxos))
	for ref := range utxos {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

func tempOutFile(pattern string) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", fmt.Errorf("create temp out-file: %w", err)
	}
	name := f.Name()
	f.Close()
	return name, nil
}
