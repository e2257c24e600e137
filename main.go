package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/aerth/landingd/config"
	"github.com/aerth/landingd/greylist"
	"github.com/aerth/landingd/logging"
	"github.com/aerth/landingd/notifier"
	"github.com/aerth/landingd/system"
)

var info = "landing page and contact relay"
var logo = "" +
	"    __                ___            __\n" +
	"   / /___ _____  ____/ (_)___  ____ _/ /\n" +
	"  / / __ `/ __ \\/ __  / / __ \\/ __ `/ /    " + info + "\n" +
	" / / /_/ / / / / /_/ / / / / / /_/ /_/\n" +
	"/_/\\__,_/_/ /_/\\__,_/_/_/ /_/\\__, (_)\n" +
	"                            /____/\n\n"

func main() {
	if err := newApp(serve).Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp(action cli.ActionFunc) *cli.Command {
	return &cli.Command{
		Name:    "landingd",
		Version: Version,
		Usage:   info,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-file",
				Usage:   "load settings from this .env file (default ./.env if present)",
				Aliases: []string{"e"},
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "address to serve, overrides HOST and PORT",
			},
			&cli.BoolFlag{
				Name:  "dev",
				Usage: "development mode (insecure)",
			},
		},
		Commands: []*cli.Command{versionCmd},
		Action:   action,
	}
}

// applyFlags lays the command line over the loaded config.
func applyFlags(cfg *config.Config, cmd *cli.Command) error {
	if cmd.Bool("dev") {
		cfg.Meta.DevelopmentMode = true
	}
	if addr := cmd.String("addr"); addr != "" {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return fmt.Errorf("bad --addr: %w", err)
		}
		cfg.Meta.Host, cfg.Meta.Port = host, port
	}
	return nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	fmt.Fprint(os.Stderr, logo)

	var envFiles []string
	if f := cmd.String("env-file"); f != "" {
		envFiles = append(envFiles, f)
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return cli.Exit(err, 1)
	}
	cfg.Meta.Version = Version
	if err := applyFlags(&cfg, cmd); err != nil {
		return cli.Exit(err, 1)
	}

	logger, closer := logging.Setup(cfg)
	defer closer.Close()
	log := logging.Module(logger, "main")
	log.Info("starting",
		slog.String("app", cfg.Meta.AppName),
		slog.String("version", cfg.Meta.Version),
		slog.Bool("dev", cfg.Meta.DevelopmentMode),
	)
	if cfg.ConfigFilePath != "" {
		log.Info("read config", slog.String("file", cfg.ConfigFilePath))
	}

	opts := []system.Option{system.WithLogger(logger)}
	if cfg.Sec.Whitelist != "" || cfg.Sec.Blacklist != "" {
		opts = append(opts, system.WithGreylist(
			greylist.New(cfg.Sec.Whitelist, cfg.Sec.Blacklist, cfg.Sec.GreylistRefresh, logger),
		))
	}
	mail := notifier.NewMailgun(cfg.Keys, notifier.WithLogger(logger))
	s := system.New(cfg, mail, opts...)

	if cfg.Meta.SiteURL != "" {
		log.Info("view in browser", slog.String("url", cfg.Meta.SiteURL))
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := s.Run(ctx, s.Routes()); err != nil {
		log.Error("server exited", logging.Error(err))
		return cli.Exit(err, 1)
	}
	return nil
}
