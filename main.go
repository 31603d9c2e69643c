package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/facebookgo/flagenv"
	"github.com/golang/groupcache"
	"go.uber.org/zap"

	"github.com/QBayLogic/qbaymid/config"
	"github.com/QBayLogic/qbaymid/publish"
)

// Exit codes.
const (
	exitOK = iota
	exitUsage
	exitConfig
	exitFailed
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: %s [flags] [command]

Commands:
  build    Build the site into the build folder (default)
  plan     Build in memory and list what publishing would change
  publish  Sync the build folder to S3 and invalidate CloudFront
  deploy   Build, then publish
  serve    Build, serve the build folder and rebuild on changes

Flags (also read from the upper-cased environment variable):
`, os.Args[0])
	flag.PrintDefaults()
}

// main is where it all begins. 😀
func main() {
	var (
		fConfig    = flag.String("config", config.DefaultFile, "Site configuration file.")
		fAccessKey = flag.String("aws_access_key", "", "AWS access key ID.")
		fSecret    = flag.String("aws_secret", "", "AWS secret access key.")
		fVerbose   = flag.Bool("verbose", false, "Log debug messages.")
		fDryRun    = flag.Bool("dryrun", false, "Log bucket and CDN changes instead of making them.")
		fAddr      = flag.String("addr", "", "Preview server address; overrides the configuration.")
	)
	flag.Usage = usage
	flag.Parse()
	flagenv.Parse()

	log := newLogger(*fVerbose)
	defer func() { _ = log.Sync() }()

	// Setup groupcache with no peers
	groupcache.RegisterPeerPicker(func() groupcache.PeerPicker { return groupcache.NoPeers{} })

	cfg, err := config.Load(*fConfig)
	if err != nil {
		log.Error("Cannot load configuration", zap.String("file", *fConfig), zap.Error(err))
		os.Exit(exitConfig)
	}
	if *fAddr != "" {
		cfg.Serve.Addr = *fAddr
	}

	// Cancel on interrupt from the terminal or SIGTERM from the service manager
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{
		cfg:    cfg,
		log:    log,
		dryRun: *fDryRun,
		creds:  publish.Credentials{AccessKey: *fAccessKey, Secret: *fSecret},
	}

	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "build"
	}
	var run func(context.Context) error
	switch cmd {
	case "build":
		run = a.build
	case "plan":
		run = a.plan
	case "publish":
		run = a.publish
	case "deploy":
		run = a.deploy
	case "serve":
		run = a.serve
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", cmd)
		usage()
		os.Exit(exitUsage)
	}

	if err := run(ctx); err != nil {
		if errors.Is(err, config.ErrInvalid) {
			log.Error("Invalid configuration", zap.String("command", cmd), zap.Error(err))
			_ = log.Sync()
			os.Exit(exitConfig)
		}
		log.Error("Command failed", zap.String("command", cmd), zap.Error(err))
		_ = log.Sync()
		os.Exit(exitFailed)
	}
	log.Info("Goodbye.")
	_ = log.Sync()
	os.Exit(exitOK)
}

func newLogger(verbose bool) *zap.Logger {
	var (
		log *zap.Logger
		err error
	)
	if verbose {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot create logger: %s\n", err)
		os.Exit(exitFailed)
	}
	return log
}
