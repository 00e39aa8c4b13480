// Command sncored drives the blockchain service core as a standalone
// process: it wires config, logging, metrics and the fork store, then
// exposes the core's public operations as CLI subcommands. It contains no
// chain logic of its own.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/wyvernnet/sncore/chain"
	"github.com/wyvernnet/sncore/config"
	"github.com/wyvernnet/sncore/forkstore"
	"github.com/wyvernnet/sncore/log"
	"github.com/wyvernnet/sncore/memdal"
	"github.com/wyvernnet/sncore/metrics"
)

var (
	configFlag  = &cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to a YAML config file"}
	dataDirFlag = &cli.StringFlag{Name: "datadir", Usage: "override config.DataDir"}
)

func main() {
	app := &cli.App{
		Name:  "sncored",
		Usage: "blockchain service core node",
		Flags: []cli.Flag{configFlag, dataDirFlag},
		Commands: []*cli.Command{
			rootCommand,
			submitCommand,
			branchesCommand,
			currentCommand,
			requirementsCommand,
			serveCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "sncored:", err)
		os.Exit(1)
	}
}

// loaded bundles everything bootstrap needs to hand to a Core.
type loaded struct {
	cfg config.Config
	reg *metrics.Registry
	mx  *chain.Metrics
	fs  *forkstore.LevelDB
	st  *memdal.Store
	cr  *chain.Core
}

func bootstrap(c *cli.Context) (*loaded, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if dir := c.String("datadir"); dir != "" {
		cfg.DataDir = dir
	}

	lvl := log.LevelFromString(cfg.LogLevel)
	logger := log.NewRotating(lvl.ToSlogLevel(), cfg.LogFormat, log.FileConfig{
		Path:       cfg.LogFile,
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 30,
		Compress:   true,
	})
	log.SetDefault(logger)

	reg := metrics.NewRegistry()
	mx := chain.NewMetrics(reg)

	fs, err := forkstore.Open(cfg.ForkStorePath)
	if err != nil {
		return nil, fmt.Errorf("open fork store: %w", err)
	}

	store := memdal.NewStore()
	rules := memdal.NewRules(store)
	gen := memdal.NewGenerator(store)

	core := chain.NewCore(store, rules, gen, fs, cfg.ChainConfig(), chain.PublicKey(cfg.SelfPubkey), mx)
	return &loaded{cfg: cfg, reg: reg, mx: mx, fs: fs, st: store, cr: core}, nil
}

var rootCommand = &cli.Command{
	Name:  "root",
	Usage: "generate and print the manual root block",
	Action: func(c *cli.Context) error {
		l, err := bootstrap(c)
		if err != nil {
			return err
		}
		defer l.fs.Close()

		block, err := l.cr.GenerateManualRoot(c.Context)
		if err != nil {
			return err
		}
		proved, err := l.cr.Prove(c.Context, block, block.PowMin)
		if err != nil {
			return err
		}
		return printJSON(proved)
	},
}

var submitCommand = &cli.Command{
	Name:      "submit",
	Usage:     "submit a block read from a JSON file",
	ArgsUsage: "<block.json>",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "check", Value: true},
		&cli.BoolFlag{Name: "fork-allowed", Value: true},
	},
	Action: func(c *cli.Context) error {
		if c.Args().Len() != 1 {
			return fmt.Errorf("usage: sncored submit <block.json>")
		}
		l, err := bootstrap(c)
		if err != nil {
			return err
		}
		defer l.fs.Close()

		buf, err := os.ReadFile(c.Args().First())
		if err != nil {
			return err
		}
		var block chain.Block
		if err := json.Unmarshal(buf, &block); err != nil {
			return fmt.Errorf("parse block: %w", err)
		}

		applied, err := l.cr.SubmitBlock(c.Context, &block, c.Bool("check"), c.Bool("fork-allowed"))
		if err != nil {
			return err
		}
		return printJSON(applied)
	},
}

var branchesCommand = &cli.Command{
	Name:  "branches",
	Usage: "list the current head and every longest side-branch tip",
	Action: func(c *cli.Context) error {
		l, err := bootstrap(c)
		if err != nil {
			return err
		}
		defer l.fs.Close()

		branches, err := l.cr.Branches(c.Context)
		if err != nil {
			return err
		}
		return printJSON(branches)
	},
}

var currentCommand = &cli.Command{
	Name:  "current",
	Usage: "print the current head block",
	Action: func(c *cli.Context) error {
		l, err := bootstrap(c)
		if err != nil {
			return err
		}
		defer l.fs.Close()

		current, err := l.cr.Current(c.Context)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("no current block")
		}
		return printJSON(current)
	},
}

var requirementsCommand = &cli.Command{
	Name:      "requirements",
	Usage:     "compute membership/certification requirements for a pubkey",
	ArgsUsage: "<pubkey>",
	Action: func(c *cli.Context) error {
		if c.Args().Len() != 1 {
			return fmt.Errorf("usage: sncored requirements <pubkey>")
		}
		l, err := bootstrap(c)
		if err != nil {
			return err
		}
		defer l.fs.Close()

		req, err := l.cr.RequirementsOfIdentity(c.Context, chain.PublicKey(c.Args().First()))
		if err != nil {
			return err
		}
		return printJSON(req)
	},
}

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "run the admission pipeline, prover and memory maintainer until signaled",
	Action: func(c *cli.Context) error {
		l, err := bootstrap(c)
		if err != nil {
			return err
		}
		defer l.fs.Close()

		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		l.cr.Start(ctx)

		var metricsSrv *http.Server
		if l.cfg.MetricsAddr != "" {
			metricsSrv = &http.Server{Addr: l.cfg.MetricsAddr, Handler: l.reg.Handler()}
			go func() {
				if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					slog.Error("metrics server failed", "error", err)
				}
			}()
		}
		slog.Info("sncored serving", "metrics_addr", l.cfg.MetricsAddr, "datadir", l.cfg.DataDir)

		<-ctx.Done()
		slog.Info("shutting down")
		if metricsSrv != nil {
			_ = metricsSrv.Close()
		}
		return l.cr.Stop()
	},
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
