package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/m4xw311/agentwire/config"
	"github.com/m4xw311/agentwire/engine"
	"github.com/m4xw311/agentwire/protocol"
	"github.com/m4xw311/agentwire/proxy"
	"github.com/m4xw311/agentwire/toolexec"
	"github.com/m4xw311/agentwire/toolexec/mcp"
	"github.com/m4xw311/agentwire/transport"
	"github.com/m4xw311/agentwire/transport/ws"
)

func main() {
	serverFlag := flag.String("server", "", "Server URL, e.g. ws://localhost:8137/ws; empty runs an in-process engine")
	engineFlag := flag.String("engine", "", "Engine for in-process mode")
	modelFlag := flag.String("model", "", "Model name passed to the engine")
	streamFlag := flag.Bool("stream", false, "Stream responses chunk by chunk")
	debugFlag := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %+v\n", err)
		os.Exit(1)
	}
	if *serverFlag != "" {
		cfg.Client.ServerURL = *serverFlag
	}
	if *engineFlag != "" {
		cfg.Engine = *engineFlag
	}
	if *modelFlag != "" {
		cfg.Model = *modelFlag
	}

	log := zap.NewNop()
	if *debugFlag {
		log, err = zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing logger: %+v\n", err)
			os.Exit(1)
		}
	}
	defer log.Sync()

	ctx := context.Background()

	var client transport.Client
	var srv transport.Server
	if cfg.Client.ServerURL == "" {
		client, srv, err = newLoopback(ctx, cfg, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing in-process engine: %+v\n", err)
			os.Exit(1)
		}
		defer srv.Stop(ctx)
	} else {
		client = ws.NewClient(ws.ClientConfig{
			URL:            cfg.Client.ServerURL,
			AuthToken:      cfg.Client.AuthToken,
			RequestTimeout: cfg.RequestTimeout.Std(),
		}, log)
	}

	if err := client.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting: %+v\n", err)
		os.Exit(1)
	}
	defer client.Disconnect()

	bridges, err := connectMCPServers(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting MCP servers: %+v\n", err)
		os.Exit(1)
	}
	defer func() {
		for _, b := range bridges {
			b.Close()
		}
	}()

	if len(bridges) > 0 {
		execs := make([]toolexec.Executor, len(bridges))
		for i, b := range bridges {
			execs[i] = b
		}
		client.SetToolExecutor(toolexec.Combine(execs...))
		if err := client.AnnounceTools(); err != nil {
			fmt.Fprintf(os.Stderr, "Error announcing tools: %+v\n", err)
			os.Exit(1)
		}
	}

	fmt.Println("agentwire is ready. Type your prompt.")
	if err := runPromptLoop(ctx, client, *streamFlag); err != nil {
		fmt.Fprintf(os.Stderr, "Client stopped with an error: %+v\n", err)
		os.Exit(1)
	}
}

// newLoopback assembles engine, proxy, router and the in-process binding so
// the CLI works with no server running.
func newLoopback(ctx context.Context, cfg *config.Config, log *zap.Logger) (transport.Client, transport.Server, error) {
	var gen engine.Generator
	var err error
	switch cfg.Engine {
	case "gemini":
		gen, err = engine.NewGemini(ctx, cfg.Model)
	case "openai":
		gen, err = engine.NewOpenAI(ctx, cfg.Model)
	case "anthropic":
		gen, err = engine.NewAnthropic(ctx, cfg.Model)
	case "bedrock":
		gen, err = engine.NewBedrock(ctx, cfg.Model)
	default:
		gen = engine.Echo{}
	}
	if err != nil {
		return nil, nil, err
	}

	tp := proxy.New(cfg.ToolTimeout.Std(), log.Named("proxy"))
	router := transport.NewRouter(gen, tp, log.Named("router"))
	client, srv := transport.NewLoopback(router, log)
	if err := srv.Start(ctx); err != nil {
		return nil, nil, err
	}
	return client, srv, nil
}

func connectMCPServers(ctx context.Context, cfg *config.Config) ([]*mcp.Bridge, error) {
	var bridges []*mcp.Bridge
	for _, s := range cfg.MCPServers {
		b, err := mcp.Connect(ctx, s.Name, s.Command, s.Args)
		if err != nil {
			for _, prev := range bridges {
				prev.Close()
			}
			return nil, err
		}
		bridges = append(bridges, b)
	}
	return bridges, nil
}

func runPromptLoop(ctx context.Context, client transport.Client, stream bool) error {
	scanner := bufio.NewScanner(os.Stdin)
	var history []protocol.Content

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		history = append(history, protocol.Content{
			Role:  "user",
			Parts: []protocol.Part{{Text: line}},
		})

		var reply string
		var err error
		if stream {
			reply, err = generateStreaming(ctx, client, history)
		} else {
			reply, err = generate(ctx, client, history)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
			// Drop the failed turn so the history stays consistent.
			history = history[:len(history)-1]
			continue
		}

		// Streaming already printed the chunks as they arrived.
		if !stream {
			fmt.Println(reply)
		}
		history = append(history, protocol.Content{
			Role:  "model",
			Parts: []protocol.Part{{Text: reply}},
		})
	}
}

func generate(ctx context.Context, client transport.Client, history []protocol.Content) (string, error) {
	resp, err := client.GenerateContent(ctx, history, nil)
	if err != nil {
		return "", err
	}
	return renderResponse(resp), nil
}

func generateStreaming(ctx context.Context, client transport.Client, history []protocol.Content) (string, error) {
	chunks, err := client.GenerateContentStream(ctx, history, nil)
	if err != nil {
		return "", err
	}

	var full strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			fmt.Println()
			return "", chunk.Err
		}
		if len(chunk.Data) > 0 {
			text := renderResponse(chunk.Data)
			fmt.Print(text)
			full.WriteString(text)
		}
	}
	fmt.Println()
	return full.String(), nil
}

// renderResponse extracts text from a generation result. Engines answer with
// a conversation turn; anything else is shown as raw JSON.
func renderResponse(raw json.RawMessage) string {
	var content protocol.Content
	if err := json.Unmarshal(raw, &content); err == nil && len(content.Parts) > 0 {
		var parts []string
		for _, p := range content.Parts {
			if p.Text != "" {
				parts = append(parts, p.Text)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "\n")
		}
	}
	return string(raw)
}
