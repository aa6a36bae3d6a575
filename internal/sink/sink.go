// Package sink delivers mapped sales records to downstream stores and topics.
package sink

import (
	"context"
	"errors"

	"skumap/internal/model"
)

// Sink receives the records of one pipeline run.
type Sink interface {
	Write(ctx context.Context, batchID string, recs []model.MappedRecord) error
	Close() error
}

// MultiSink writes to every sink in order and stops at the first error.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(ss ...Sink) *MultiSink { return &MultiSink{sinks: ss} }

func (m *MultiSink) Write(ctx context.Context, batchID string, recs []model.MappedRecord) error {
	for _, s := range m.sinks {
		if err := s.Write(ctx, batchID, recs); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink and joins their errors.
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len reports how many sinks are wired.
func (m *MultiSink) Len() int { return len(m.sinks) }
