package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	ck "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/segmentio/kafka-go"

	"skumap/internal/changelog"
	"skumap/internal/metrics"
	"skumap/internal/model"
)

const headerBatchID = "batch_id"

func encodeRecord(r model.MappedRecord) ([]byte, error) {
	b, err := json.Marshal(&r)
	if err != nil {
		return nil, fmt.Errorf("marshal %s/%s: %w", r.OrderNumber, r.SKU, err)
	}
	return b, nil
}

// kafkaMessageWriter abstracts kafka.Writer for testability.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes one message per record keyed by order number. Pure-Go client (segmentio/kafka-go).
type KafkaSink struct {
	writer kafkaMessageWriter
}

// NewKafkaSink creates a Kafka sink.
// bootstrap can be a comma-separated list of host:port.
func NewKafkaSink(bootstrap string, topic string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(changelog.ParseBrokers(bootstrap)...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}}
}

// NewKafkaSinkWith is only for tests to inject a fake writer.
func NewKafkaSinkWith(w kafkaMessageWriter) *KafkaSink { return &KafkaSink{writer: w} }

func (k *KafkaSink) Write(ctx context.Context, batchID string, recs []model.MappedRecord) error {
	msgs := make([]kafka.Message, 0, len(recs))
	for _, r := range recs {
		b, err := encodeRecord(r)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:     []byte(r.OrderNumber),
			Value:   b,
			Headers: []kafka.Header{{Key: headerBatchID, Value: []byte(batchID)}},
		})
	}
	if len(msgs) == 0 {
		return nil
	}
	return k.writer.WriteMessages(ctx, msgs...)
}

func (k *KafkaSink) Close() error { return k.writer.Close() }

// txProducer is the subset of *ck.Producer used by TxSink.
type txProducer interface {
	BeginTransaction() error
	Produce(msg *ck.Message, deliveryChan chan ck.Event) error
	CommitTransaction(ctx context.Context) error
	AbortTransaction(ctx context.Context) error
	Close()
}

// TxSink publishes each Write as one Kafka transaction, so consumers reading
// read_committed see a run's records all together or not at all.
type TxSink struct {
	producer txProducer
	topic    string
	metrics  *metrics.Registry
}

// NewTxSink creates a transactional producer and initializes transactions.
func NewTxSink(ctx context.Context, bootstrap, topic, txID string, m *metrics.Registry) (*TxSink, error) {
	prod, err := ck.NewProducer(&ck.ConfigMap{
		"bootstrap.servers":  bootstrap,
		"enable.idempotence": true,
		"acks":               "all",
		"transactional.id":   txID,
	})
	if err != nil {
		return nil, fmt.Errorf("producer: %w", err)
	}
	if err := prod.InitTransactions(ctx); err != nil {
		prod.Close()
		return nil, fmt.Errorf("init tx: %w", err)
	}
	return &TxSink{producer: prod, topic: topic, metrics: m}, nil
}

// NewTxSinkWith is only for tests to inject a fake producer.
func NewTxSinkWith(p txProducer, topic string, m *metrics.Registry) *TxSink {
	return &TxSink{producer: p, topic: topic, metrics: m}
}

func (t *TxSink) Write(ctx context.Context, batchID string, recs []model.MappedRecord) error {
	if len(recs) == 0 {
		return nil
	}
	t0 := time.Now()
	if err := t.producer.BeginTransaction(); err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	for _, r := range recs {
		b, err := encodeRecord(r)
		if err == nil {
			err = t.producer.Produce(&ck.Message{
				TopicPartition: ck.TopicPartition{Topic: &t.topic, Partition: ck.PartitionAny},
				Key:            []byte(r.OrderNumber),
				Value:          b,
				Headers:        []ck.Header{{Key: headerBatchID, Value: []byte(batchID)}},
			}, nil)
		}
		if err != nil {
			t.abort(ctx)
			return fmt.Errorf("produce %s/%s: %w", r.OrderNumber, r.SKU, err)
		}
	}
	if err := t.producer.CommitTransaction(ctx); err != nil {
		t.abort(ctx)
		return fmt.Errorf("commit tx: %w", err)
	}
	if t.metrics != nil {
		t.metrics.TxProduced.Inc()
		t.metrics.TxLatencySec.Observe(time.Since(t0).Seconds())
	}
	return nil
}

func (t *TxSink) abort(ctx context.Context) {
	_ = t.producer.AbortTransaction(ctx)
	if t.metrics != nil {
		t.metrics.TxAborted.Inc()
	}
}

func (t *TxSink) Close() error {
	t.producer.Close()
	return nil
}
