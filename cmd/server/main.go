package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/showfolio/showfolio/internal/config"
	"github.com/showfolio/showfolio/internal/db"
	"github.com/showfolio/showfolio/internal/httpapi"
	"github.com/showfolio/showfolio/internal/httpapi/handlers"
	"github.com/showfolio/showfolio/internal/store/rabbitmq"
	"github.com/showfolio/showfolio/internal/store/redisstore"
)

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()

	var publisher handlers.ReindexPublisher
	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		// chat still works without the indexing queue
		log.Printf("rabbit unavailable, reindex disabled: %v", err)
	} else {
		publisher = pub
		defer pub.Close()
	}

	router := httpapi.NewRouter(gdb, cfg, rds, publisher)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	go func() {
		log.Printf("server listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
