// shieldd - Device integrity evaluation with progressive trust
//
//	shieldd check       Run one integrity evaluation and print the verdict
//	shieldd daemon      Run periodic evaluation with optional path watching
//	shieldd history     Show the ledger history (requires authentication)
//	shieldd export      Export the ledger, plain or encrypted
//	shieldd clear-logs  Remove log entries (reports are kept)
//	shieldd status      Show configuration and store health
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"shieldd/internal/attest"
	"shieldd/internal/config"
	"shieldd/internal/gate"
	"shieldd/internal/keystore"
	"shieldd/internal/ledger"
	"shieldd/internal/logging"
	"shieldd/internal/probe"
	"shieldd/internal/shield"
	syncer "shieldd/internal/sync"
	"shieldd/internal/watch"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "check":
		cmdCheck()
	case "daemon":
		cmdDaemon()
	case "history":
		cmdHistory()
	case "export":
		cmdExport()
	case "clear-logs":
		cmdClearLogs()
	case "status":
		cmdStatus()
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`shieldd - Device Integrity Evaluation

USAGE:
    shieldd <command> [options]

COMMANDS:
    check               Run one integrity evaluation and print the verdict
    daemon              Run periodic evaluation until interrupted
    history             Show ledger history (requires authentication)
    export              Export the ledger to a file, plain or encrypted
    clear-logs          Remove log entries; reports are never removed
    status              Show configuration and store health
    help                Show this help message

Common options (per command):
    -config <path>      Configuration file (default: data dir config.toml)

The data directory defaults to the platform state directory and can be
overridden with SHIELDD_DATA_DIR.`)
}

// runtime bundles everything a subcommand needs, built once and torn
// down in order.
type runtime struct {
	cfg    *config.Config
	log    *logging.Logger
	ks     keystore.Provider
	led    *ledger.Ledger
	shield *shield.Shield
}

func (r *runtime) close() {
	if r.led != nil {
		r.led.Close()
	}
	if r.ks != nil {
		r.ks.Close()
	}
	if r.log != nil {
		r.log.Close()
	}
}

func setup(cfgPath string) (*runtime, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	logCfg := logging.DefaultConfig()
	logCfg.FilePath = cfg.Logging.FilePath
	if cfg.Logging.Output != "" {
		logCfg.Output = cfg.Logging.Output
	}
	if cfg.Logging.Level != "" {
		level, err := logging.ParseLevel(cfg.Logging.Level)
		if err != nil {
			return nil, err
		}
		logCfg.Level = level
	}
	if cfg.Logging.Format == "json" {
		logCfg.Format = logging.FormatJSON
	}
	if cfg.Logging.MaxSizeMB > 0 {
		logCfg.MaxSize = int64(cfg.Logging.MaxSizeMB)
	}
	if cfg.Logging.MaxBackups > 0 {
		logCfg.MaxBackups = cfg.Logging.MaxBackups
	}
	if cfg.Logging.MaxAgeDays > 0 {
		logCfg.MaxAge = cfg.Logging.MaxAgeDays
	}
	logCfg.Compress = cfg.Logging.Compress
	log, err := logging.New(logCfg)
	if err != nil {
		return nil, err
	}

	r := &runtime{cfg: cfg, log: log}

	r.ks, err = keystore.Open(cfg.Keystore, log)
	if err != nil {
		r.close()
		return nil, err
	}

	svc, err := attest.NewLocalService(r.ks)
	if err != nil {
		r.close()
		return nil, err
	}

	master, err := r.ks.MasterSecret()
	if err != nil {
		r.close()
		return nil, err
	}
	r.led, err = ledger.Open(cfg.Ledger, master, log)
	master.Destroy()
	if err != nil {
		if r.led == nil {
			r.close()
			return nil, err
		}
		// Corrupted ledger: keep going read-only, live checks still work.
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	collector := probe.NewCollector(cfg.Probes, log)
	g := gate.New(cfg.Auth, log)
	verifier, err := gate.NewVerifier(cfg.Auth, log)
	if err != nil {
		r.close()
		return nil, err
	}

	r.shield = shield.New(cfg, collector, attest.NewClient(cfg.Attestation, log),
		r.led, syncer.New(cfg.Attestation, svc, r.led, log), g, verifier, log)

	return r, nil
}

// authenticate drives the gate until it settles. Passphrase deployments
// read the credential from stdin; biometric and open deployments ignore it.
func authenticate(r *runtime) bool {
	for {
		credential := ""
		if r.cfg.Auth.Verifier == "passphrase" {
			fmt.Fprint(os.Stderr, "Passphrase: ")
			scanner := bufio.NewScanner(os.Stdin)
			if !scanner.Scan() {
				return false
			}
			credential = scanner.Text()
		}

		state := r.shield.Authenticate(context.Background(), credential)
		switch state {
		case gate.Authenticated:
			return true
		case gate.Retry:
			fmt.Fprintf(os.Stderr, "Authentication failed (%d attempts used)\n",
				r.shield.Gate().FailedAttempts())
		case gate.Lockout:
			fmt.Fprintf(os.Stderr, "Locked out until %s\n",
				r.shield.Gate().LockoutUntil().Format(time.RFC3339))
			return false
		default:
			fmt.Fprintln(os.Stderr, "Authentication unavailable, limited mode only")
			return false
		}
	}
}

func cmdCheck() {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	cfgPath := fs.String("config", "", "configuration file")
	fs.Parse(os.Args[2:])

	r, err := setup(*cfgPath)
	if err != nil {
		fatal(err)
	}
	defer r.close()

	report, err := r.shield.Cycle(context.Background())
	if err != nil {
		fatal(err)
	}

	fmt.Printf("Verdict:    %s\n", report.Verdict)
	fmt.Printf("Risk score: %d\n", report.RiskScore)
	if len(report.Details) > 0 {
		fmt.Println("Findings:")
		for _, d := range report.Details {
			fmt.Printf("  - %s\n", d)
		}
	}

	if report.Verdict.String() != "Genuine" {
		os.Exit(2)
	}
}

func cmdDaemon() {
	fs := flag.NewFlagSet("daemon", flag.ExitOnError)
	cfgPath := fs.String("config", "", "configuration file")
	fs.Parse(os.Args[2:])

	r, err := setup(*cfgPath)
	if err != nil {
		fatal(err)
	}
	defer r.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var w *watch.Watcher
	if r.cfg.Watch.Enabled {
		w, err = watch.New(r.cfg.Watch, r.cfg.Probes, r.log)
		if err != nil {
			fatal(err)
		}
		defer w.Close()
	}

	r.log.Info("shieldd starting",
		"interval_sec", r.cfg.Check.IntervalSec,
		"watch", r.cfg.Watch.Enabled)

	if err := r.shield.Run(ctx, w); err != nil && ctx.Err() == nil {
		fatal(err)
	}
	r.log.Info("shieldd stopped")
}

func cmdHistory() {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	cfgPath := fs.String("config", "", "configuration file")
	kind := fs.String("kind", "", "filter: report or log")
	category := fs.String("category", "", "filter log entries by category")
	limit := fs.Int("limit", 50, "maximum entries")
	fs.Parse(os.Args[2:])

	r, err := setup(*cfgPath)
	if err != nil {
		fatal(err)
	}
	defer r.close()

	if !authenticate(r) {
		os.Exit(1)
	}

	entries, err := r.shield.History(ledger.Filter{
		Kind:     ledger.Kind(*kind),
		Category: *category,
		Limit:    *limit,
	}, time.Now())
	if err != nil {
		fatal(err)
	}

	for _, e := range entries {
		ts := e.Timestamp.Format("2006-01-02 15:04:05")
		if e.Kind == ledger.KindReport {
			fmt.Printf("%s  %-11s score=%-3d %s\n", ts, e.Verdict, e.RiskScore,
				strings.Join(e.Details, "; "))
		} else {
			fmt.Printf("%s  %-11s %s\n", ts, e.Category, e.Message)
		}
	}
}

func cmdExport() {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	cfgPath := fs.String("config", "", "configuration file")
	encrypted := fs.Bool("enc", false, "produce an encrypted export")
	outDir := fs.String("o", ".", "output directory")
	fs.Parse(os.Args[2:])

	r, err := setup(*cfgPath)
	if err != nil {
		fatal(err)
	}
	defer r.close()

	if !authenticate(r) {
		os.Exit(1)
	}

	data, err := r.shield.Export(ledger.Filter{}, *encrypted, time.Now())
	if err != nil {
		fatal(err)
	}

	path := filepath.Join(*outDir, ledger.ExportFileName(*encrypted, time.Now()))
	if err := os.WriteFile(path, data, 0600); err != nil {
		fatal(err)
	}
	fmt.Printf("Exported to %s\n", path)
}

func cmdClearLogs() {
	fs := flag.NewFlagSet("clear-logs", flag.ExitOnError)
	cfgPath := fs.String("config", "", "configuration file")
	fs.Parse(os.Args[2:])

	r, err := setup(*cfgPath)
	if err != nil {
		fatal(err)
	}
	defer r.close()

	if !authenticate(r) {
		os.Exit(1)
	}

	if err := r.shield.ClearLogs(time.Now()); err != nil {
		fatal(err)
	}
	fmt.Println("Log entries cleared")
}

func cmdStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	cfgPath := fs.String("config", "", "configuration file")
	fs.Parse(os.Args[2:])

	r, err := setup(*cfgPath)
	if err != nil {
		fatal(err)
	}
	defer r.close()

	fmt.Printf("Data directory:  %s\n", config.DataDir())
	fmt.Printf("Ledger:          %s\n", r.cfg.Ledger.Path)
	fmt.Printf("Ledger healthy:  %t\n", !r.led.ReadOnly())
	fmt.Printf("Key store:       %s\n", r.ks.Describe())
	fmt.Printf("Auth backend:    %s\n", r.cfg.Auth.Verifier)
	fmt.Printf("Oracle:          %s\n", orDefault(r.cfg.Attestation.OracleURL, "(not configured)"))
	fmt.Printf("Verifier:        %s\n", orDefault(r.cfg.Attestation.VerifierURL, "(not configured)"))
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "shieldd: %v\n", err)
	os.Exit(1)
}
