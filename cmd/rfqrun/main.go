// rfqrun runs one quote campaign from the command line and prints the result
// as JSON. Useful for trying a spec against live suppliers without the HTTP
// server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/quotepilot/quotepilot/internal/core/domain"
	"github.com/quotepilot/quotepilot/internal/runtime"
)

func main() {
	_ = godotenv.Load()

	var (
		configPath = flag.String("config", "config.yaml", "path to config file")
		spec       = flag.String("spec", "", "product specification to source quotes for")
		accept     = flag.String("accept", "", "thread id of a final offer to accept instead of running a campaign")
		timeout    = flag.Duration("timeout", 10*time.Minute, "overall run timeout")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *spec == "" && *accept == "" {
		log.Fatal("either -spec or -accept is required")
	}

	engine, err := runtime.New(
		runtime.WithFileConfig(*configPath),
		runtime.WithLogger(logger),
	)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := engine.Init(ctx); err != nil {
		log.Fatalf("Failed to initialize engine: %v", err)
	}
	defer engine.Shutdown(context.Background())

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if *accept != "" {
		offer, err := engine.Orchestrator().AcceptOffer(ctx, *accept)
		var sendErr *domain.SendError
		if errors.As(err, &sendErr) {
			// The order stands; only the confirmation email failed.
			logger.Warn("purchase order email failed", slog.String("error", sendErr.Error()))
		} else if err != nil {
			log.Fatalf("Accept failed: %v", err)
		}
		if err := enc.Encode(offer); err != nil {
			log.Fatal(err)
		}
		return
	}

	result, err := engine.Orchestrator().RunCampaign(ctx, *spec)
	if err != nil {
		log.Fatalf("Campaign failed: %v", err)
	}
	if err := enc.Encode(result); err != nil {
		log.Fatal(err)
	}
}
