package transcript

import (
	"context"
	"errors"
	"fmt"
	"time"

	"typhonrelay/internal/models"
)

var (
	// ErrNotConfigured is returned when no spreadsheet is configured.
	ErrNotConfigured = errors.New("transcript: spreadsheet not configured")
	// ErrDispatcherBusy is returned when the background queue cannot take another exchange.
	ErrDispatcherBusy = errors.New("transcript: dispatcher busy")
)

// Sink is an append-only log of conversation exchanges.
type Sink interface {
	// AppendEntries writes one row per message and reports the rows written.
	AppendEntries(ctx context.Context, entries []models.TranscriptEntry) (int, error)
	// AppendPair writes a single user/bot row.
	AppendPair(ctx context.Context, pair models.ChatPair) (int, error)
}

// Write stores every part of the exchange, continuing past failures.
func Write(ctx context.Context, sink Sink, ex models.Exchange) error {
	var errs []error
	if len(ex.Entries) > 0 {
		if _, err := sink.AppendEntries(ctx, ex.Entries); err != nil {
			errs = append(errs, fmt.Errorf("append entries: %w", err))
		}
	}
	if ex.Pair != nil {
		if _, err := sink.AppendPair(ctx, *ex.Pair); err != nil {
			errs = append(errs, fmt.Errorf("append pair: %w", err))
		}
	}
	return errors.Join(errs...)
}

// MultiSink fans writes out to several sinks. The count comes from the first sink that succeeds.
type MultiSink []Sink

func (m MultiSink) AppendEntries(ctx context.Context, entries []models.TranscriptEntry) (int, error) {
	return m.each(func(s Sink) (int, error) { return s.AppendEntries(ctx, entries) })
}

func (m MultiSink) AppendPair(ctx context.Context, pair models.ChatPair) (int, error) {
	return m.each(func(s Sink) (int, error) { return s.AppendPair(ctx, pair) })
}

func (m MultiSink) each(fn func(Sink) (int, error)) (int, error) {
	var (
		errs  []error
		count int
		found bool
	)
	for _, s := range m {
		n, err := fn(s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !found {
			count, found = n, true
		}
	}
	return count, errors.Join(errs...)
}

// timestamp renders t the way the spreadsheet has always stored it.
func timestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
