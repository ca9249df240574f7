package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"apk-builder-be/internal/bootstrap"
	"apk-builder-be/internal/config"
	"apk-builder-be/internal/server"
	"apk-builder-be/internal/tracer"

	"golang.org/x/sync/errgroup"
)

func main() {
	// 0. Initialize Tracer (no-op unless OTEL_ENABLED=true)
	shutdownTracer := tracer.InitTracer()
	defer shutdownTracer(context.Background())

	// 1. Load Configuration
	cfg := config.Load()
	if cfg.Session.TTL <= 0 {
		log.Println("[WARN] SESSION_TTL is not set: sessions and their artifacts are kept until restart")
	}

	// 2. Bootstrap Dependencies (Container)
	container := bootstrap.NewContainer(cfg)
	defer container.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// 3. Start Background Services
	g.Go(func() error {
		container.WebSocketHub.Run(ctx)
		return nil
	})

	log.Println("Background: Starting Consumer Service...")
	if err := container.ConsumerService.Consume(ctx); err != nil {
		log.Printf("Background Consumer Error: %v", err)
	}

	if container.StepReportService != nil {
		log.Println("Background: Starting Step Report Service...")
		if err := container.StepReportService.Start(ctx); err != nil {
			log.Printf("Background Step Report Error: %v", err)
		}
	}

	// 4. Initialize Server
	srv := server.New(cfg, container)

	// 5. Run Server until a signal arrives
	g.Go(srv.Run)
	g.Go(func() error {
		<-ctx.Done()
		return srv.Shutdown()
	})

	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
}
