package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/lightmesh/enginebridge/bridge"
	"github.com/lightmesh/enginebridge/engine"
	"github.com/lightmesh/enginebridge/platform/wsnet"
)

func main() {
	var (
		engineFile  = flag.String("engine", "", "Path to the engine wasm binary")
		configFile  = flag.String("config", "", "Path to a TOML configuration file")
		specFile    = flag.String("chain", "", "Path to a chain spec JSON file (alternative to -config)")
		logLevel    = flag.String("log-level", "", "Bridge log level (debug, info, warn, error)")
		interactive = flag.Bool("i", false, "Interactive JSON-RPC console")
	)
	flag.Parse()

	if *engineFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: bridgecli -engine <engine.wasm> -chain <spec.json> [-i]")
		fmt.Fprintln(os.Stderr, "       bridgecli -engine <engine.wasm> -config <bridgecli.toml> [-i]")
		os.Exit(1)
	}
	if *interactive && !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(os.Stderr, "Error: -i requires a terminal")
		os.Exit(1)
	}

	if err := run(*engineFile, *configFile, *specFile, *logLevel, *interactive); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(engineFile, configFile, specFile, logLevel string, interactive bool) error {
	ctx := context.Background()

	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	if specFile != "" {
		cfg.Chains = append(cfg.Chains, chainConfig{Name: "chain", SpecFile: specFile})
	}
	if len(cfg.Chains) == 0 {
		return fmt.Errorf("no chain configured; pass -chain or a -config with [[chain]] entries")
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger, err := buildLogger(cfg.LogLevel, interactive)
	if err != nil {
		return err
	}
	defer logger.Sync()
	engine.SetLogger(logger)

	wasmBytes, err := os.ReadFile(engineFile)
	if err != nil {
		return fmt.Errorf("read engine binary: %w", err)
	}

	plat := wsnet.New()
	client, err := bridge.New(ctx, bridge.Config{
		Start: func(ctx context.Context) (engine.Instance, error) {
			return engine.NewWazeroInstance(ctx, wasmBytes, engine.Config{
				Platform:    plat,
				MaxLogLevel: cfg.MaxLogLevel,
			})
		},
		Platform: plat,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer client.Terminate(ctx)

	var chains []namedChain
	for _, chCfg := range cfg.Chains {
		spec, database, err := chCfg.readSpec()
		if err != nil {
			return err
		}
		chain, err := client.AddChain(ctx, bridge.AddChainOptions{
			ChainSpec:                 spec,
			DatabaseContent:           database,
			DisableJSONRPC:            chCfg.DisableJSONRPC,
			JSONRPCMaxPendingRequests: chCfg.MaxPendingRequests,
			JSONRPCMaxSubscriptions:   chCfg.MaxSubscriptions,
		})
		if err != nil {
			return fmt.Errorf("add chain %s: %w", chCfg.Name, err)
		}
		logger.Info("chain added", zap.String("name", chCfg.Name))
		if !chCfg.DisableJSONRPC {
			chains = append(chains, namedChain{name: chCfg.Name, chain: chain})
		}
	}

	if interactive {
		return runInteractive(ctx, chains)
	}
	return runPipe(ctx, chains)
}

type namedChain struct {
	name  string
	chain *bridge.Chain
}

// runPipe reads one JSON-RPC request per stdin line, submits it to the first
// chain, and prints every response to stdout.
func runPipe(ctx context.Context, chains []namedChain) error {
	if len(chains) == 0 {
		// All chains have JSON-RPC disabled: nothing to do but follow logs.
		<-ctx.Done()
		return nil
	}
	target := chains[0]

	for _, nc := range chains {
		nc := nc
		go func() {
			for {
				response, err := nc.chain.NextJSONRPCResponse(ctx)
				if err != nil {
					return
				}
				fmt.Printf("%s: %s\n", nc.name, response)
			}
		}()
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := target.chain.SendJSONRPC(line); err != nil {
			fmt.Fprintf(os.Stderr, "send: %v\n", err)
		}
	}
	return scanner.Err()
}

func buildLogger(level string, interactive bool) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.Set(level); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	if interactive {
		// The TUI owns the terminal; keep diagnostics out of it.
		cfg.OutputPaths = []string{"stderr"}
		cfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	}
	return cfg.Build()
}
