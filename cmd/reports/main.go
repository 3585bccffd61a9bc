// Command reports tails the trade report topic and prints one line per
// closed signal. Meant for operators watching a live bot.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"VolBot/internal/domain/models"
	"VolBot/pkg/config"
	pkgkafka "VolBot/pkg/kafka"
)

type reportHandler struct {
	topic string
}

func (h *reportHandler) Topic() string { return h.topic }

func (h *reportHandler) Handle(_ context.Context, data []byte) error {
	var r models.TradeReport
	if err := json.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("report payload: %w", err)
	}
	mode := "live"
	if r.PaperTrading {
		mode = "paper"
	}
	fmt.Printf("%s %s %s buy=%.2f sell=%.2f qty=%.5f net=%.4f roi=%.2f%% held=%s\n",
		mode, r.Symbol, r.SignalID, r.BuyPrice, r.SellPrice, r.Quantity, r.NetProfit, r.ROI, r.Duration)
	return nil
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	groupID := flag.String("group", "volbot-reports", "consumer group id")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if !cfg.Kafka.Enabled || cfg.Kafka.ReportTopic == "" {
		log.Fatal("kafka report topic is not configured")
	}

	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(*groupID),
		pkgkafka.WithConsumerAutoOffsetReset("latest"),
		pkgkafka.WithConsumerWorkers(1),
	)
	if err != nil {
		log.Fatalf("consumer init failed: %v", err)
	}
	consumer.RegisterHandler(&reportHandler{topic: cfg.Kafka.ReportTopic})

	if err := consumer.Start(); err != nil {
		log.Fatalf("consumer start failed: %v", err)
	}
	log.Printf("tailing %s on %v", cfg.Kafka.ReportTopic, cfg.Kafka.Brokers)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := consumer.Stop(ctx); err != nil {
		log.Printf("consumer stop: %v", err)
	}
}
