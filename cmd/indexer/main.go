package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/showfolio/showfolio/internal/ai"
	"github.com/showfolio/showfolio/internal/config"
	"github.com/showfolio/showfolio/internal/db"
	"github.com/showfolio/showfolio/internal/indexer"
	"github.com/showfolio/showfolio/internal/logging"
	"github.com/showfolio/showfolio/internal/rag"
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg := config.Load()
	logger := logging.NewWithService("showfolio-indexer")

	gdb := db.Connect(cfg.DBDSN)
	store := rag.NewChunkStore(gdb)

	var embedder rag.Embedder
	switch cfg.AIProvider {
	case "ollama":
		embedder = ai.NewOllamaProvider(cfg.OllamaBaseURL, cfg.ChatModel, cfg.EmbeddingModel, cfg.ProviderTimeout)
	default:
		embedder = ai.NewOpenAIProvider(cfg.OpenAIBaseURL, cfg.AgentProviderKey, cfg.ChatModel, cfg.EmbeddingModel, cfg.ProviderTimeout)
	}

	svc := indexer.NewService(gdb, store, embedder, logger)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(cfg.RabbitQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": cfg.RabbitQueue + ".dlq",
	}); err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	concurrency := workerConcurrency()
	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("indexer started, queue=%s concurrency=%d", cfg.RabbitQueue, concurrency)

	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				var job indexer.Job
				if err := json.Unmarshal(d.Body, &job); err != nil || job.PortfolioID == 0 {
					log.Printf("worker=%d bad message: %v", workerID, err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				n, err := svc.Reindex(ctx, job)
				if err != nil {
					log.Printf("worker=%d portfolio=%d reindex failed cost=%s err=%v",
						workerID, job.PortfolioID, time.Since(start), err)
					_ = d.Nack(false, false)
					continue
				}
				log.Printf("worker=%d portfolio=%d reindexed chunks=%d cost=%s",
					workerID, job.PortfolioID, n, time.Since(start))

				if err := d.Ack(false); err != nil {
					log.Printf("worker=%d ack failed portfolio=%d err=%v", workerID, job.PortfolioID, err)
				}
			}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			log.Printf("indexer shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Printf("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}
