package changelog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/segmentio/kafka-go"

	"skumap/internal/mapping"
)

// DefaultFile is the JSONL journal name inside the changelog directory.
const DefaultFile = "mapping.jsonl"

type Writer interface {
	Append(c mapping.Change) error
}

// MultiWriter fans out writes to multiple underlying writers.
type MultiWriter struct {
	writers []Writer
}

func NewMultiWriter(ws ...Writer) *MultiWriter {
	return &MultiWriter{writers: ws}
}

func (m *MultiWriter) Append(c mapping.Change) error {
	for _, w := range m.writers {
		if err := w.Append(c); err != nil {
			return err
		}
	}
	return nil
}

type FileWriter struct {
	path string
}

func NewFileWriter(dir string, filename string) (*FileWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	return &FileWriter{path: filepath.Join(dir, filename)}, nil
}

// Path returns the journal file location.
func (w *FileWriter) Path() string { return w.path }

func (w *FileWriter) Append(c mapping.Change) error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	if err := enc.Encode(&c); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}

// ReadFile calls fn for every change in a JSONL journal, in file order.
// A missing file yields no changes.
func ReadFile(path string, fn func(line int, c mapping.Change) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open changelog: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		if strings.TrimSpace(sc.Text()) == "" {
			continue
		}
		var c mapping.Change
		if err := json.Unmarshal(sc.Bytes(), &c); err != nil {
			return fmt.Errorf("unmarshal line %d: %w", line, err)
		}
		if err := fn(line, c); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("scan changelog: %w", err)
	}
	return nil
}

// KafkaWriter publishes changes to a Kafka topic keyed by SKU. Pure-Go client (segmentio/kafka-go).
type KafkaWriter struct {
	writer kafkaMessageWriter
}

// kafkaMessageWriter abstracts kafka.Writer for testability.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// ParseBrokers splits a comma-separated host:port list, dropping blanks.
func ParseBrokers(bootstrap string) []string {
	var brokers []string
	for _, a := range strings.Split(bootstrap, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			brokers = append(brokers, a)
		}
	}
	return brokers
}

// NewKafkaWriter creates a Kafka writer.
// bootstrap can be a comma-separated list of host:port.
func NewKafkaWriter(bootstrap string, topic string) *KafkaWriter {
	return &KafkaWriter{writer: &kafka.Writer{
		Addr:         kafka.TCP(ParseBrokers(bootstrap)...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}}
}

func (k *KafkaWriter) Append(c mapping.Change) error {
	b, err := json.Marshal(&c)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return k.writer.WriteMessages(
		context.Background(),
		kafka.Message{Key: []byte(c.SKU), Value: b},
	)
}

// Close closes the underlying writer when it supports closing.
func (k *KafkaWriter) Close() error {
	if c, ok := k.writer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// NewKafkaWriterWith is only for tests to inject a fake writer.
func NewKafkaWriterWith(w kafkaMessageWriter) *KafkaWriter {
	return &KafkaWriter{writer: w}
}

// Journal applies mapping mutations to a table and appends the resulting
// changes to a writer.
type Journal struct {
	table  *mapping.Table
	writer Writer
}

func NewJournal(t *mapping.Table, w Writer) *Journal {
	return &Journal{table: t, writer: w}
}

// Add maps sku to masterID and journals the change.
func (j *Journal) Add(sku, masterID string) (mapping.Change, error) {
	c := j.table.Add(sku, masterID)
	if err := j.writer.Append(c); err != nil {
		return c, fmt.Errorf("append change %d: %w", c.Seq, err)
	}
	return c, nil
}

// Remove deletes sku and journals the change. Absent SKUs journal nothing.
func (j *Journal) Remove(sku string) (mapping.Change, bool, error) {
	c, ok := j.table.Remove(sku)
	if !ok {
		return c, false, nil
	}
	if err := j.writer.Append(c); err != nil {
		return c, true, fmt.Errorf("append change %d: %w", c.Seq, err)
	}
	return c, true, nil
}
