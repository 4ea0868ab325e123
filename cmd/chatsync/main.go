// Command chatsync is a replay harness for the sync core: it feeds
// recorded transport deliveries through the full component graph and
// serves the merged views and metrics on a local debug address.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/joho/godotenv"

	"chatsync/internal/app"
	"chatsync/pkg/banner"
	"chatsync/pkg/config"
	"chatsync/pkg/logger"
	"chatsync/pkg/shutdown"
	"chatsync/pkg/transport"
)

var version = "dev" // set via ldflags

func main() {
	_ = godotenv.Load(".env")

	var (
		cfgPath      = flag.String("config", "", "path to chatsync.yaml")
		fixtures     = flag.String("fixtures", "", "JSONL fixture file to replay")
		conversation = flag.String("conversation", "", "conversation id to open")
		loop         = flag.Bool("loop", false, "replay the fixture file repeatedly")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Log.Sink != "" {
		logger.InitWithSink(cfg.Log.Sink, cfg.Log.Level)
	} else {
		logger.InitWithLevel(cfg.Log.Level)
	}
	banner.Print(cfg.Debug.Addr, cfg.Backend.BaseURL, cfg.Cache.Path, version)

	lb := transport.NewLoopback()
	session := transport.NewSession()
	session.SetConnected(true)

	a, err := app.New(cfg, lb, session)
	if err != nil {
		log.Fatalf("failed to build app: %v", err)
	}
	a.Start()

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	stopRetention, err := a.StartRetention(ctx)
	if err != nil {
		log.Fatalf("failed to start retention: %v", err)
	}
	defer stopRetention()

	if *conversation != "" {
		openCtx, openCancel := context.WithTimeout(ctx, 30*time.Second)
		if err := a.OpenConversation(openCtx, *conversation); err != nil {
			logger.Warn("open_conversation_failed", "conversation", *conversation, "error", err.Error())
		}
		openCancel()
	}

	dbg := a.NewDebugServer()
	go func() {
		if err := dbg.Start(); err != nil {
			logger.Error("debug_server_failed", "error", err.Error())
			cancel()
		}
	}()

	if *fixtures != "" {
		go func() {
			for {
				if err := replayFile(ctx, lb, *fixtures); err != nil {
					logger.Error("replay_failed", "path", *fixtures, "error", err.Error())
					return
				}
				if !*loop || ctx.Err() != nil {
					return
				}
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting_down")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	_ = dbg.Shutdown(shutCtx)
	a.Stop()
	logger.Info("stopped")
}
