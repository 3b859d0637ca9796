package bus

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"

	"energo/internal/tstore"
)

// Publisher — поток копий показаний наружу. Доставка best-effort,
// at-most-once: основную запись к этому моменту уже закоммитил ingest,
// отказ публикации теряет только копию в потоке.
type Publisher interface {
	Publish(ctx context.Context, deviceID string, payload []byte) error
	Close() error
}

// Noop — выключенный поток (по умолчанию в стеснённых инсталляциях).
// Все публикации мгновенно «успешны».
type Noop struct{}

func (Noop) Publish(context.Context, string, []byte) error { return nil }
func (Noop) Close() error                                  { return nil }

// Kafka — идемпотентный продьюсер (ретраи не дают дублей). Топик — на
// устройство, ключ — идентификатор устройства: порядок сохраняется
// на уровне партиции.
type Kafka struct {
	producer    sarama.SyncProducer
	topicPrefix string
}

// newProducerConfig — настройки продьюсера. Идемпотентность и
// подтверждение только от лидера вместе невозможны: кафка требует
// acks=all для идемпотентного продьюсера, sarama отклоняет такую
// конфигурацию ещё на валидации. Из двух гарантий оставляем
// отсутствие дублей; латентность ограничивает таймаут публикации
// на стороне вызывающего.
func newProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Net.MaxOpenRequests = 1 // требование идемпотентного продьюсера
	return cfg
}

func NewKafka(brokers []string, topicPrefix string) (*Kafka, error) {
	p, err := sarama.NewSyncProducer(brokers, newProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return &Kafka{producer: p, topicPrefix: topicPrefix}, nil
}

func (k *Kafka) Publish(_ context.Context, deviceID string, payload []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: k.Topic(deviceID),
		Key:   sarama.StringEncoder(deviceID),
		Value: sarama.ByteEncoder(payload),
	}
	_, _, err := k.producer.SendMessage(msg)
	return err
}

// Topic — имя топика устройства: санитизированное имя, как у реляции,
// под тем же префиксом конфига. Допустимые символы у кафки совпадают.
func (k *Kafka) Topic(deviceID string) string {
	return k.topicPrefix + tstore.RelationName(deviceID)
}

func (k *Kafka) Close() error { return k.producer.Close() }
