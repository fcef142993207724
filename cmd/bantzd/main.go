package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bantz-ai/bantz/internal/app"
)

func main() {
	// Logging setup
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// .env is optional convenience for local runs.
	_ = godotenv.Load()

	var (
		configPath       string
		routerBaseURL    string
		routerModel      string
		routerKey        string
		finalizerBaseURL string
		finalizerModel   string
		finalizerKey     string
		finalizerMode    string
		memoryDB         string
		trackerDB        string
		idemPath         string
		profilePath      string
		verbose          bool
	)

	flag.StringVar(&configPath, "config", "", "Path to YAML config file (optional)")
	flag.StringVar(&routerBaseURL, "router.base", "", "OpenAI-compatible base URL for the router model")
	flag.StringVar(&routerModel, "router.model", "", "Router model name")
	flag.StringVar(&routerKey, "router.key", "", "API key for the router endpoint")
	flag.StringVar(&finalizerBaseURL, "finalizer.base", "", "OpenAI-compatible base URL for the finalizer model")
	flag.StringVar(&finalizerModel, "finalizer.model", "", "Finalizer model name")
	flag.StringVar(&finalizerKey, "finalizer.key", "", "API key for the finalizer endpoint")
	flag.StringVar(&finalizerMode, "finalizer.mode", "", "Finalizer gating mode: auto | always | never")
	flag.StringVar(&memoryDB, "memory.db", "", "SQLite file for dialog memory")
	flag.StringVar(&trackerDB, "tracker.db", "", "SQLite file for run tracking")
	flag.StringVar(&idemPath, "idempotency.path", "", "JSON file for the idempotency store")
	flag.StringVar(&profilePath, "profile", "", "Path to the user profile Markdown")
	flag.BoolVar(&verbose, "v", false, "Verbose (debug) logging")
	flag.Parse()

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// Layering: flags > env > config file > defaults.
	cfg := app.Config{
		RouterBaseURL:    routerBaseURL,
		RouterModel:      routerModel,
		RouterAPIKey:     routerKey,
		FinalizerBaseURL: finalizerBaseURL,
		FinalizerModel:   finalizerModel,
		FinalizerAPIKey:  finalizerKey,
		FinalizerMode:    finalizerMode,
		MemoryDBPath:     memoryDB,
		TrackerDBPath:    trackerDB,
		IdempotencyStore: idemPath,
		ProfilePath:      profilePath,
		Verbose:          verbose,
	}
	app.ApplyEnvToConfig(&cfg)
	if configPath != "" {
		fileCfg, err := app.LoadConfigFile(configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("config file unusable")
		}
		app.MergeUnset(&cfg, fileCfg)
	}
	app.MergeUnset(&cfg, app.DefaultConfig())
	// These default on; a zero bool cannot express that, so force before the
	// env overrides get the last word.
	cfg.FinalizeWithFinalizer = true
	cfg.NoNewFactsGuard = true
	cfg.MemoryPIIFilter = true
	app.ApplyEnvOverrides(&cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			log.Warn().Err(err).Msg("shutdown incomplete")
		}
	}()

	log.Info().Str("session", a.State.SessionID).Msg("bantzd hazır")
	fmt.Println("Bantz hazır efendim. Çıkmak için Ctrl+D.")

	if err := repl(ctx, a); err != nil {
		log.Error().Err(err).Msg("repl terminated")
	}
}

// repl reads one line per turn from stdin and prints the assistant reply.
func repl(ctx context.Context, a *app.App) error {
	lines := make(chan string)
	errs := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			lines <- sc.Text()
		}
		errs <- sc.Err()
		close(lines)
	}()

	for {
		fmt.Print("> ")
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-errs
			}
			input := strings.TrimSpace(line)
			if input == "" {
				continue
			}
			if input == "/rapor" {
				md, err := a.LatestRunReport(ctx)
				if err != nil {
					fmt.Println("Rapor hazırlanamadı:", err)
					continue
				}
				fmt.Println(md)
				continue
			}
			out := a.ProcessTurn(ctx, input)
			fmt.Println(out.AssistantReply)
			if out.AskUser && out.Question != "" {
				fmt.Println(out.Question)
			}
		}
	}
}
