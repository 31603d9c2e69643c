// Command simpleserver serves an already built site folder, without watching or
// rebuilding, using the cache and error settings of the site configuration.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/facebookgo/flagenv"
	"github.com/golang/groupcache"
	"go.uber.org/zap"

	"github.com/QBayLogic/qbaymid/config"
	"github.com/QBayLogic/qbaymid/web"
)

func main() {
	folder := flag.String("folder", "", "Built site folder; defaults to the configured build folder")
	addr := flag.String("addr", ":9000", "Server address")
	cfgFile := flag.String("config", config.DefaultFile, "Site configuration file")
	flag.Parse()
	flagenv.Parse()

	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	// Setup groupcache (in this example with no peers)
	groupcache.RegisterPeerPicker(func() groupcache.PeerPicker { return groupcache.NoPeers{} })

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		log.Fatal("Cannot load configuration", zap.Error(err))
	}
	if *folder == "" {
		*folder = cfg.Build
	}

	h := web.Handler(os.DirFS(*folder), web.Options{
		Headers:       cfg.Serve.Headers,
		Policy:        cfg.Cache,
		IndexDocument: cfg.S3.IndexDocument,
		ErrorDocument: cfg.S3.ErrorDocument,
		CacheBytes:    10 * 1024 * 1024,
		CacheDuration: 10 * time.Second,
		Logger:        log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := web.ListenAndServe(ctx, web.NewServer(*addr, h), log); err != nil {
		log.Fatal("HTTP server", zap.Error(err))
	}
}
