// Command icusdctl is an offline operator tool: it opens the same data
// directory a running icusdd points at, replays the event log, performs a
// single query or admin mutation, and exits. It has no RPC client of its
// own because icusdd serves none; every subcommand operates on the data
// directory directly, the way nhbctl's migrate-keystore subcommand reads
// and rewrites a node's config/keystore files offline.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"icusdprotocol/cmd/internal/passphrase"
	"icusdprotocol/config"
	"icusdprotocol/core/eventlog"
	"icusdprotocol/export"
	"icusdprotocol/internal/storage"
	"icusdprotocol/ledger"
	"icusdprotocol/mode"
	"icusdprotocol/priceoracle"
	"icusdprotocol/protocol"
	"icusdprotocol/types"
)

const (
	defaultConfig  = "./icusdd.toml"
	adminTokenEnv  = "ICUSD_ADMIN_TOKEN"
	statusCommand  = "status"
	vaultsCommand  = "vaults"
	snapshotCmd    = "snapshot"
	exportCommand  = "export"
	upgradeCommand = "upgrade"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case statusCommand:
		err = runStatus(os.Args[2:])
	case vaultsCommand:
		err = runVaults(os.Args[2:])
	case snapshotCmd:
		err = runSnapshot(os.Args[2:])
	case exportCommand:
		err = runExport(os.Args[2:])
	case upgradeCommand:
		err = runUpgrade(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: icusdctl <status|vaults|snapshot|export|upgrade> [flags]")
}

// openProtocol replays the event log at cfg.DataDir into a fresh Protocol
// bound to throwaway ledger/oracle collaborators. This is sufficient for
// the query and mode-override paths icusdctl exposes: neither consults
// ledger balances, so a process-local stand-in never diverges from the
// real ledger canister a live icusdd is wired to.
func openProtocol(configPath string) (*protocol.Protocol, func() error, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open data dir %s: %w", cfg.DataDir, err)
	}
	log, err := eventlog.Open(db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("open event log: %w", err)
	}

	protocolAccount, err := types.ParseAccount(cfg.ProtocolAccount)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("config has no valid ProtocolAccount yet; start icusdd once first: %w", err)
	}
	developerAccount, err := types.ParseAccount(cfg.DeveloperFeeAccount)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("config has no valid DeveloperFeeAccount yet; start icusdd once first: %w", err)
	}

	proto, err := protocol.New(cfg, log, ledger.NewMemLedger(), ledger.NewMemLedger(), priceoracle.StaticOracle{}, protocol.Accounts{
		Protocol:  protocolAccount,
		Developer: developerAccount,
	}, nil)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("construct protocol: %w", err)
	}
	if err := proto.Restore(context.Background()); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("replay event log: %w", err)
	}
	return proto, db.Close, nil
}

func runStatus(args []string) error {
	configPath, rest := flagConfig(args)
	_ = rest
	proto, closeDB, err := openProtocol(configPath)
	if err != nil {
		return err
	}
	defer closeDB()

	totals, err := proto.GetTotals()
	if err != nil {
		return err
	}
	halted, reason := proto.Halted()
	fmt.Printf("mode:              %s\n", totals.Mode)
	fmt.Printf("total collateral:  %d e8s\n", totals.CollateralE8s)
	fmt.Printf("total debt:        %d e8s\n", totals.DebtE8s)
	fmt.Printf("stability pool:    %d e8s\n", proto.GetStabilityPoolTotal())
	fmt.Printf("pending transfers: %d\n", len(proto.GetPendingTransfers()))
	fmt.Printf("halted:            %t", halted)
	if halted {
		fmt.Printf(" (%s)", reason)
	}
	fmt.Println()
	return nil
}

func runVaults(args []string) error {
	configPath, rest := flagConfig(args)
	if len(rest) == 0 {
		return fmt.Errorf("usage: icusdctl vaults <owner-bech32> [--config path]")
	}
	owner, err := types.ParseAccount(rest[0])
	if err != nil {
		return fmt.Errorf("invalid owner account: %w", err)
	}
	proto, closeDB, err := openProtocol(configPath)
	if err != nil {
		return err
	}
	defer closeDB()

	ids := proto.GetVaultsByOwner(owner)
	if len(ids) == 0 {
		fmt.Println("no vaults for this owner")
		return nil
	}
	for _, id := range ids {
		v, ok := proto.GetVault(id)
		if !ok {
			continue
		}
		fmt.Printf("vault %d: collateral=%d e8s debt=%d e8s\n", v.ID, v.CollateralE8s, v.DebtE8s)
	}
	return nil
}

// snapshotDoc is the YAML shape an operator gets when auditing protocol
// state outside of the running process, e.g. attaching it to an incident
// report.
type snapshotDoc struct {
	GeneratedAt  time.Time `yaml:"generated_at"`
	Mode         string    `yaml:"mode"`
	TotalCollateralE8s uint64 `yaml:"total_collateral_e8s"`
	TotalDebtE8s       uint64 `yaml:"total_debt_e8s"`
	StabilityPoolE8s   uint64 `yaml:"stability_pool_e8s"`
	PendingTransfers   int    `yaml:"pending_transfers"`
	Halted             bool   `yaml:"halted"`
	HaltedReason       string `yaml:"halted_reason,omitempty"`
}

func runSnapshot(args []string) error {
	configPath, rest := flagConfig(args)
	_ = rest
	proto, closeDB, err := openProtocol(configPath)
	if err != nil {
		return err
	}
	defer closeDB()

	totals, err := proto.GetTotals()
	if err != nil {
		return err
	}
	halted, reason := proto.Halted()
	doc := snapshotDoc{
		GeneratedAt:        time.Now().UTC(),
		Mode:               totals.Mode.String(),
		TotalCollateralE8s: totals.CollateralE8s,
		TotalDebtE8s:       totals.DebtE8s,
		StabilityPoolE8s:   proto.GetStabilityPoolTotal(),
		PendingTransfers:   len(proto.GetPendingTransfers()),
		Halted:             halted,
		HaltedReason:       reason,
	}
	enc := yaml.NewEncoder(os.Stdout)
	defer enc.Close()
	return enc.Encode(doc)
}

// runExport dumps the whole event log to a Parquet file. Unlike the other
// subcommands it never replays the log into a Protocol; the exporter walks
// raw records, so it works even on a data directory whose state a running
// icusdd has halted on.
func runExport(args []string) error {
	configPath, rest := flagConfig(args)
	if len(rest) == 0 {
		return fmt.Errorf("usage: icusdctl export <output.parquet> [--config path]")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open data dir %s: %w", cfg.DataDir, err)
	}
	defer db.Close()
	log, err := eventlog.Open(db)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	if err := export.Export(log, eventlog.ProtocolDecoder{}, rest[0]); err != nil {
		return err
	}
	fmt.Printf("exported %d records to %s\n", log.Len(), rest[0])
	return nil
}

func runUpgrade(args []string) error {
	configPath, rest := flagConfig(args)
	if len(rest) == 0 {
		return fmt.Errorf("usage: icusdctl upgrade <general|recovery|readonly|clear> [--config path]")
	}

	source := passphrase.NewLabeledSource(adminTokenEnv, "admin operator token")
	token, err := source.Get()
	if err != nil {
		return fmt.Errorf("admin authorization required: %w", err)
	}
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("admin authorization token must not be blank")
	}

	var override *mode.Mode
	switch strings.ToLower(rest[0]) {
	case "general":
		m := mode.GeneralAvailability
		override = &m
	case "recovery":
		m := mode.Recovery
		override = &m
	case "readonly":
		m := mode.ReadOnly
		override = &m
	case "clear":
		override = nil
	default:
		return fmt.Errorf("unknown mode override %q", rest[0])
	}

	proto, closeDB, err := openProtocol(configPath)
	if err != nil {
		return err
	}
	defer closeDB()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	caller, err := types.ParseAccount(cfg.DeveloperFeeAccount)
	if err != nil {
		return fmt.Errorf("resolve operator caller account: %w", err)
	}

	if err := proto.Upgrade(context.Background(), caller, override, time.Now()); err != nil {
		return fmt.Errorf("submit upgrade: %w", err)
	}
	fmt.Println("upgrade submitted")
	return nil
}

// flagConfig extracts an optional "--config path" pair from args and
// returns the remaining positional arguments, avoiding a flag.FlagSet per
// subcommand since every subcommand shares this one option.
func flagConfig(args []string) (string, []string) {
	path := defaultConfig
	rest := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		if args[i] == "--config" && i+1 < len(args) {
			path = args[i+1]
			i++
			continue
		}
		rest = append(rest, args[i])
	}
	return path, rest
}
