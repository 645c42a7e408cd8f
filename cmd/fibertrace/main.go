// fibertrace records an instrumented child process and converts its
// scheduling and runtime events into a trace timeline file.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"fibertrace/internal/config"
	"fibertrace/internal/otel"
	"fibertrace/internal/session"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	cfg, err := config.ParseArgs(os.Args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var tracer trace.Tracer
	if cfg.OTEL {
		otelCfg, err := config.ParseOTELConfig()
		if err != nil {
			return err
		}
		tp, err := otel.InitProvider(otelCfg, []attribute.KeyValue{
			attribute.String("process.command", strings.Join(cfg.FullCommand(), " ")),
		})
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := otel.ShutdownProvider(tp, shutdownCtx); err != nil {
				log.Printf("Error shutting down OTEL provider: %v", err)
			}
		}()
		tracer = tp.Tracer("fibertrace")
	}

	log.Printf("Recording %s into %s...", cfg.Command, cfg.Output)
	return session.New(cfg, tracer).Run(ctx)
}
