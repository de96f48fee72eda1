// ABOUTME: Text engine binary: serves the text ruleset over stdin/stdout
// ABOUTME: Install it as forseti_engine_text in a search path for the host to discover it

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mauromedda/forseti-go/internal/config"
	"github.com/mauromedda/forseti-go/internal/log"
	"github.com/mauromedda/forseti-go/internal/rules/text"
	"github.com/mauromedda/forseti-go/pkg/engine"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if lvl, ok := os.LookupEnv(config.EnvLogLevel); ok {
		if l, err := log.ParseLevel(lvl); err == nil {
			log.SetLevel(l)
		}
	}

	if err := engine.ServeStdio(ctx, text.NewProvider(version)); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
