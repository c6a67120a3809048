// Command predictctl inspects the indexed store and replays archives.
//
//	predictctl [-config path] <command> [flags] [args]
//
// Commands:
//
//	markets     list markets (-status, -category, -limit, -offset)
//	market      show one market by id
//	user        show one user by address
//	prediction  show one prediction by id ({marketId}-{address})
//	stats       show global counters
//	leaderboard rank users (-by reputation|winnings, -limit)
//	events      list a raw event mirror by name (-limit, -offset)
//	replay      re-apply archived raw events to the configured store
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/predictindexer/internal/app"
	"github.com/alanyoungcy/predictindexer/internal/config"
	"github.com/alanyoungcy/predictindexer/internal/domain"
	"github.com/alanyoungcy/predictindexer/internal/service"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	verbose := flag.Bool("v", false, "log to stderr")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	var logOut io.Writer = io.Discard
	if *verbose {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, flag.Args(), os.Stdout, logger); err != nil {
		fmt.Fprintf(os.Stderr, "predictctl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: predictctl [-config path] [-v] <markets|market|user|prediction|stats|leaderboard|events|replay> [flags] [args]\n")
	flag.PrintDefaults()
}

func run(ctx context.Context, configPath string, args []string, out io.Writer, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if args[0] == "replay" {
		cfg.Mode = "replay"
	} else {
		cfg.Mode = "server"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	deps, cleanup, err := app.Wire(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	return runCommand(ctx, cfg, deps, args, out, logger)
}

func runCommand(ctx context.Context, cfg *config.Config, deps *app.Dependencies, args []string, out io.Writer, logger *slog.Logger) error {
	q := service.NewQueryService(deps.Store, nil, logger)
	cmd, rest := args[0], args[1:]

	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	limit := fs.Int("limit", 20, "page size")
	offset := fs.Int("offset", 0, "page offset")
	status := fs.String("status", "", "market status filter (Active, Resolved, Cancelled)")
	category := fs.String("category", "", "market category filter")
	by := fs.String("by", string(domain.LeaderboardByReputation), "leaderboard order")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	opts := domain.ListOpts{Limit: *limit, Offset: *offset}

	arg := func() (string, error) {
		if fs.NArg() != 1 {
			return "", fmt.Errorf("%s: expected one argument", cmd)
		}
		return fs.Arg(0), nil
	}

	var v any
	switch cmd {
	case "markets":
		v, err = q.ListMarkets(ctx, domain.MarketFilter{
			Status:   domain.MarketStatus(*status),
			Category: *category,
			ListOpts: opts,
		})
	case "market":
		var id string
		if id, err = arg(); err == nil {
			v, err = q.GetMarket(ctx, id)
		}
	case "user":
		var addr string
		if addr, err = arg(); err == nil {
			v, err = q.GetUser(ctx, addr)
		}
	case "prediction":
		var id string
		if id, err = arg(); err == nil {
			v, err = q.GetPrediction(ctx, id)
		}
	case "stats":
		v, err = q.GetStats(ctx)
	case "leaderboard":
		v, err = q.Leaderboard(ctx, domain.LeaderboardOrder(*by), opts)
	case "events":
		var name string
		if name, err = arg(); err == nil {
			v, err = q.ListEvents(ctx, name, opts)
		}
	case "replay":
		v, err = app.New(cfg, logger).ReplayMode(ctx, deps)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%s: not found", cmd)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
