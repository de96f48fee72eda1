// ABOUTME: Process entry point for engine binaries: serve the protocol on stdin/stdout
// ABOUTME: Logging is pinned to stderr so stdout carries protocol lines only

package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/mauromedda/forseti-go/internal/log"
	"github.com/mauromedda/forseti-go/pkg/transport"
)

// ServeStdio serves p on the process's standard streams until the host
// sends shutdown, closes stdin, or ctx ends.
func ServeStdio(ctx context.Context, p Provider) error {
	log.SetOutput(os.Stderr)

	conn := transport.New(os.Stdin, os.Stdout)
	srv := NewServer(p, conn)
	if err := srv.Serve(ctx); err != nil {
		return fmt.Errorf("serving %s: %w", p.Capabilities().EngineID, err)
	}
	return nil
}
