package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/m4xw311/agentwire/config"
	"github.com/m4xw311/agentwire/engine"
	"github.com/m4xw311/agentwire/proxy"
	"github.com/m4xw311/agentwire/transport"
	"github.com/m4xw311/agentwire/transport/ws"
)

func main() {
	listenFlag := flag.String("listen", "", "Listen address, overrides the configured one")
	engineFlag := flag.String("engine", "", "Generation engine: 'gemini', 'openai', 'anthropic', 'bedrock' or 'echo'")
	modelFlag := flag.String("model", "", "Model name passed to the engine")
	debugFlag := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %+v\n", err)
		os.Exit(1)
	}
	if *listenFlag != "" {
		cfg.Server.Listen = *listenFlag
	}
	if *engineFlag != "" {
		cfg.Engine = *engineFlag
	}
	if *modelFlag != "" {
		cfg.Model = *modelFlag
	}

	log, err := newLogger(*debugFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %+v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	gen, err := newEngine(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing %s engine: %+v\n", cfg.Engine, err)
		os.Exit(1)
	}

	tp := proxy.New(cfg.ToolTimeout.Std(), log.Named("proxy"))
	router := transport.NewRouter(gen, tp, log.Named("router"))

	server := ws.NewServer(ws.ServerConfig{
		Addr:           cfg.Server.Listen,
		Path:           cfg.Server.Path,
		AuthToken:      cfg.Server.AuthToken,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, router, log.Named("ws"))

	if err := server.Start(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting server: %+v\n", err)
		os.Exit(1)
	}
	fmt.Printf("agentwire server listening on %s%s (engine: %s)\n", server.Addr(), cfg.Server.Path, cfg.Engine)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		log.Warn("shutdown did not complete cleanly", zap.Error(err))
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newEngine(cfg *config.Config) (engine.Generator, error) {
	ctx := context.Background()
	switch cfg.Engine {
	case "gemini":
		return engine.NewGemini(ctx, cfg.Model)
	case "openai":
		return engine.NewOpenAI(ctx, cfg.Model)
	case "anthropic":
		return engine.NewAnthropic(ctx, cfg.Model)
	case "bedrock":
		return engine.NewBedrock(ctx, cfg.Model)
	default:
		return engine.Echo{}, nil
	}
}
