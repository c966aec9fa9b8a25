// Worker consumes security alerts from Kafka and pushes them to Loki.
// Set KAFKA_BROKERS, ALERT_KAFKA_TOPIC, KAFKA_GROUP_ID, and LOKI_URL.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"ledgerguard/backend/internal/config"
	"ledgerguard/backend/internal/logger"
	"ledgerguard/backend/internal/telemetry/loki"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zlog := logger.Init(cfg.Env, cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = zlog.Sync() }()

	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		zlog.Fatal("worker: KAFKA_BROKERS is required")
	}
	sink, err := loki.New(cfg.LokiURL)
	if err != nil {
		zlog.Fatal("worker: LOKI_URL is required", zap.Error(err))
	}

	topic := cfg.AlertKafkaTopic
	if topic == "" {
		topic = "ledgerguard-security-alerts"
	}
	groupID := cfg.KafkaGroupID
	if groupID == "" {
		groupID = "ledgerguard-alert-worker"
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zlog.Info("worker: consuming alerts",
		zap.String("topic", topic), zap.String("group", groupID), zap.String("loki", cfg.LokiURL))

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				zlog.Info("worker: stopped")
				return
			}
			zlog.Warn("worker: kafka read error", zap.Error(err))
			continue
		}

		pushCtx, pushCancel := context.WithTimeout(ctx, 10*time.Second)
		if err := sink.PushAlert(pushCtx, msg.Value); err != nil {
			zlog.Warn("worker: loki push failed", zap.Error(err), zap.Int64("offset", msg.Offset))
		}
		pushCancel()
	}
}
