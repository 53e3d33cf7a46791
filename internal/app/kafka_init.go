package app

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
)

// splitBrokers разбирает список брокеров через запятую.
func splitBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// initKafkaProducer создаёт producer, если брокеры заданы.
// При ошибке сервис продолжает работу без Kafka: события уходят в очередь уведомлений напрямую.
func initKafkaProducer(brokers string, logger *log.Entry) *kafka.Producer {
	list := splitBrokers(brokers)
	if len(list) == 0 {
		return nil
	}
	producer, err := kafka.NewProducer(list)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil
	}
	logger.WithField("brokers", list).Info("kafka producer initialized")
	return producer
}

// startKafkaConsumer подписывает обработчик на события заказов.
func startKafkaConsumer(ctx context.Context, cfg Config, dlq *kafka.Producer, handler kafka.MessageHandler, logger *log.Entry) *kafka.Consumer {
	consumer, err := kafka.NewConsumerWithConfig(kafka.ConsumerConfig{
		Brokers:     splitBrokers(cfg.KafkaBrokers),
		GroupID:     cfg.KafkaConsumerGroup,
		Topics:      []string{kafka.TopicOrderEvents},
		DLQProducer: dlq,
	}, handler)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka consumer, notifications are fed by the outbox worker only")
		return nil
	}
	if err := consumer.Start(ctx); err != nil {
		logger.WithError(err).Warn("failed to start kafka consumer")
		_ = consumer.Stop()
		return nil
	}
	return consumer
}

// closeKafkaProducer закрывает producer, если он был создан.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	logger.Info("kafka producer closed")
}

func stopKafkaConsumer(consumer *kafka.Consumer, logger *log.Entry) {
	if consumer == nil {
		return
	}
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop kafka consumer")
	}
}
