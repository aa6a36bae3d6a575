package sink

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	ck "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skumap/internal/metrics"
	"skumap/internal/model"
)

func sample() []model.MappedRecord {
	base := model.CanonicalRecord{
		Source:      "amazon",
		OrderNumber: "A1",
		OrderDate:   time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC),
		SKU:         "SKU1",
		Quantity:    2,
		UnitPrice:   decimal.RequireFromString("10.5"),
		TotalPrice:  decimal.RequireFromString("21"),
		Extra:       map[string]string{"category": "Toys"},
	}
	other := base
	other.OrderNumber = "A0"
	other.SKU = "SKU2"
	other.OrderDate = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	other.Extra = nil
	return []model.MappedRecord{model.NewMapped(base, "MSKU1", true), model.NewMapped(other, "", false)}
}

func TestSQLiteSink_WriteAndReadAll(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "sales.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Write(ctx, "b1", sample()))
	// upsert on (source, order_number, sku)
	require.NoError(t, s.Write(ctx, "b2", sample()[:1]))

	got, err := s.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "A0", got[0].OrderNumber, "ordered by date")
	assert.Nil(t, got[0].MasterID)
	assert.Equal(t, model.Missing, got[0].Status)

	r := got[1]
	assert.Equal(t, "amazon", r.Source)
	assert.Equal(t, int64(2), r.Quantity)
	assert.True(t, r.UnitPrice.Equal(decimal.RequireFromString("10.5")))
	assert.True(t, r.TotalPrice.Equal(decimal.NewFromInt(21)))
	require.NotNil(t, r.MasterID)
	assert.Equal(t, "MSKU1", *r.MasterID)
	assert.Equal(t, map[string]string{"category": "Toys"}, r.Extra)
	assert.True(t, r.OrderDate.Equal(time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)))
}

func TestSQLiteSink_PricesKeepDecimalPrecision(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "sales.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	rec := sample()[0]
	rec.UnitPrice = decimal.RequireFromString("0.1000000000000000055511151231257827")
	rec.TotalPrice = decimal.RequireFromString("12345678901234567.89")
	require.NoError(t, s.Write(ctx, "b1", []model.MappedRecord{rec}))

	got, err := s.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "0.1000000000000000055511151231257827", got[0].UnitPrice.String())
	assert.Equal(t, "12345678901234567.89", got[0].TotalPrice.String())
}

type fakeKafkaWriter struct {
	msgs   []kafka.Message
	fail   bool
	closed bool
}

func (f *fakeKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.fail {
		return errors.New("fail")
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafkaWriter) Close() error { f.closed = true; return nil }

func TestKafkaSink_Write(t *testing.T) {
	fk := &fakeKafkaWriter{}
	k := NewKafkaSinkWith(fk)
	require.NoError(t, k.Write(context.Background(), "b1", sample()))
	require.Len(t, fk.msgs, 2)
	assert.Equal(t, "A1", string(fk.msgs[0].Key))
	assert.Equal(t, "b1", string(fk.msgs[0].Headers[0].Value))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(fk.msgs[0].Value, &rec))
	assert.Equal(t, "MSKU1", rec["master_id"])
	assert.Equal(t, "Mapped", rec["mapping_status"])

	require.NoError(t, k.Write(context.Background(), "b2", nil))
	assert.Len(t, fk.msgs, 2)
	assert.Error(t, NewKafkaSinkWith(&fakeKafkaWriter{fail: true}).Write(context.Background(), "b", sample()))
}

type fakeProducer struct {
	produced         []*ck.Message
	failAt           int
	began, committed int
	aborted          int
	failCommit       bool
	closed           bool
}

func (f *fakeProducer) BeginTransaction() error { f.began++; return nil }

func (f *fakeProducer) Produce(msg *ck.Message, _ chan ck.Event) error {
	if f.failAt > 0 && len(f.produced)+1 == f.failAt {
		return errors.New("queue full")
	}
	f.produced = append(f.produced, msg)
	return nil
}

func (f *fakeProducer) CommitTransaction(context.Context) error {
	if f.failCommit {
		return errors.New("fenced")
	}
	f.committed++
	return nil
}

func (f *fakeProducer) AbortTransaction(context.Context) error { f.aborted++; return nil }

func (f *fakeProducer) Close() { f.closed = true }

func TestTxSink_CommitsOneTransactionPerWrite(t *testing.T) {
	m := metrics.NewRegistry()
	fp := &fakeProducer{}
	s := NewTxSinkWith(fp, "sales.mapped", m)

	require.NoError(t, s.Write(context.Background(), "b1", sample()))
	assert.Equal(t, 1, fp.began)
	assert.Equal(t, 1, fp.committed)
	require.Len(t, fp.produced, 2)
	assert.Equal(t, "sales.mapped", *fp.produced[0].TopicPartition.Topic)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TxProduced))

	require.NoError(t, s.Close())
	assert.True(t, fp.closed)
}

func TestTxSink_AbortsOnFailure(t *testing.T) {
	m := metrics.NewRegistry()
	fp := &fakeProducer{failAt: 2}
	require.Error(t, NewTxSinkWith(fp, "t", m).Write(context.Background(), "b1", sample()))
	assert.Equal(t, 1, fp.aborted)
	assert.Zero(t, fp.committed)

	fc := &fakeProducer{failCommit: true}
	require.Error(t, NewTxSinkWith(fc, "t", m).Write(context.Background(), "b1", sample()))
	assert.Equal(t, 1, fc.aborted)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TxAborted))
}

func TestMultiSink(t *testing.T) {
	a, b := &fakeKafkaWriter{}, &fakeKafkaWriter{}
	ms := NewMultiSink(NewKafkaSinkWith(a), NewKafkaSinkWith(b))
	require.NoError(t, ms.Write(context.Background(), "b1", sample()))
	assert.Len(t, a.msgs, 2)
	assert.Len(t, b.msgs, 2)
	require.NoError(t, ms.Close())
	assert.True(t, a.closed && b.closed)
	assert.Equal(t, 2, ms.Len())
}
