// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianGateway/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianGateway/services/gateway/observability"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
)

// =============================================================================
// Sink Interface
// =============================================================================

// ConversationSink persists one conversation record.
//
// Write failures are observed (logged and counted) by the Dispatcher but
// never propagate to the request path.
type ConversationSink interface {
	Write(ctx context.Context, record *datatypes.ConversationRecord) error
}

// =============================================================================
// Backpressure Policies
// =============================================================================

// SinkPolicy selects the behavior when the dispatch queue is full.
type SinkPolicy string

const (
	// SinkPolicyDropOldest evicts the oldest queued record to admit the new
	// one. The default: the request path never blocks on logging.
	SinkPolicyDropOldest SinkPolicy = "drop-oldest"

	// SinkPolicyBlock makes Dispatch wait for queue space. Chooses
	// completeness of the log over request latency.
	SinkPolicyBlock SinkPolicy = "block"
)

// =============================================================================
// Dispatcher
// =============================================================================

// Dispatcher decouples conversation logging from the request path.
//
// # Description
//
// Records are queued on a bounded channel and written by a single consumer
// goroutine. A full queue is resolved by the configured policy. A failed
// write is logged and counted; the consumer keeps going.
//
// # Thread Safety
//
// Dispatch is safe for concurrent use, including concurrently with Close:
// records dispatched after Close starts are dropped and counted, never
// sent on a closed channel. Close is idempotent.
type Dispatcher struct {
	sink      ConversationSink
	queue     chan *datatypes.ConversationRecord
	policy    SinkPolicy
	mu        sync.Mutex // guards closed and the evict-then-enqueue under drop-oldest
	closed    bool
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewDispatcher starts the consumer goroutine.
//
// A queueSize <= 0 defaults to 256; an empty policy defaults to drop-oldest.
func NewDispatcher(sink ConversationSink, queueSize int, policy SinkPolicy) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if policy == "" {
		policy = SinkPolicyDropOldest
	}
	d := &Dispatcher{
		sink:    sink,
		queue:   make(chan *datatypes.ConversationRecord, queueSize),
		policy:  policy,
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go d.consume()
	return d
}

// Dispatch queues a record for the sink.
//
// Under drop-oldest this never blocks: if the queue is full the oldest
// record is evicted and counted as dropped. Under block it waits for space,
// context cancellation, or dispatcher shutdown. Records dispatched after
// Close are dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, record *datatypes.ConversationRecord) {
	if record == nil {
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.recordDrop()
		slog.Warn("Conversation record dropped, dispatcher closed",
			"record_id", record.RecordID)
		return
	}

	switch d.policy {
	case SinkPolicyBlock:
		d.mu.Unlock()
		select {
		case d.queue <- record:
			d.observeDepth()
		case <-ctx.Done():
			d.recordDrop()
			slog.Warn("Conversation record dropped, dispatch canceled",
				"record_id", record.RecordID)
		case <-d.closing:
			d.recordDrop()
			slog.Warn("Conversation record dropped, dispatcher closed",
				"record_id", record.RecordID)
		}
	default:
		defer d.mu.Unlock()
		for {
			select {
			case d.queue <- record:
				d.observeDepth()
				return
			default:
			}
			// Queue full: evict the oldest and retry.
			select {
			case evicted := <-d.queue:
				d.recordDrop()
				slog.Warn("Conversation record evicted by drop-oldest policy",
					"record_id", evicted.RecordID)
			default:
			}
		}
	}
}

// Close stops intake, drains outstanding records bounded by ctx, and waits
// for the consumer to exit. Safe to call more than once.
func (d *Dispatcher) Close(ctx context.Context) error {
	var err error
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.closing)

		select {
		case <-d.done:
		case <-ctx.Done():
			err = fmt.Errorf("sink dispatcher close timed out: %w", ctx.Err())
		}
	})
	return err
}

func (d *Dispatcher) consume() {
	defer close(d.done)
	for {
		select {
		case record := <-d.queue:
			d.write(record)
		case <-d.closing:
			// Drain whatever is already queued, then stop. The queue channel
			// itself is never closed; late Dispatch calls see the closed flag.
			for {
				select {
				case record := <-d.queue:
					d.write(record)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) write(record *datatypes.ConversationRecord) {
	d.observeDepth()
	writeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := d.sink.Write(writeCtx, record); err != nil {
		// Logging failures never propagate; this is their only trace.
		slog.Error("Failed to write conversation record",
			"record_id", record.RecordID,
			"error", err)
		if observability.DefaultMetrics != nil {
			observability.DefaultMetrics.SinkFailuresTotal.Inc()
		}
	}
}

func (d *Dispatcher) observeDepth() {
	if observability.DefaultMetrics != nil {
		observability.DefaultMetrics.SinkQueueDepth.Set(float64(len(d.queue)))
	}
}

func (d *Dispatcher) recordDrop() {
	if observability.DefaultMetrics != nil {
		observability.DefaultMetrics.SinkDroppedTotal.Inc()
	}
}

// =============================================================================
// Weaviate Sink
// =============================================================================

// WeaviateSink writes conversation records to the Conversation class.
type WeaviateSink struct {
	client *weaviate.Client
}

// NewWeaviateSink wraps an existing Weaviate client.
func NewWeaviateSink(client *weaviate.Client) *WeaviateSink {
	return &WeaviateSink{client: client}
}

// Write implements ConversationSink.
func (s *WeaviateSink) Write(ctx context.Context, record *datatypes.ConversationRecord) error {
	props := datatypes.ConversationProperties{
		RecordID:   record.RecordID,
		Question:   record.Question,
		Answer:     record.Answer,
		Tenant:     record.Tenant,
		Collection: record.Collection,
		ClientIP:   record.ClientIP,
		Backend:    record.Backend,
		Blocked:    record.Blocked,
		Timestamp:  record.Timestamp,
	}

	_, err := s.client.Data().Creator().
		WithClassName("Conversation").
		WithProperties(props.ToMap()).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to save conversation object to Weaviate: %w", err)
	}

	slog.Debug("Saved conversation record", "record_id", record.RecordID)
	return nil
}

// NopSink discards records. Used when no logging backend is configured.
type NopSink struct{}

// Write implements ConversationSink.
func (s *NopSink) Write(_ context.Context, _ *datatypes.ConversationRecord) error {
	return nil
}

// Compile-time interface compliance checks.
var (
	_ ConversationSink = (*WeaviateSink)(nil)
	_ ConversationSink = (*NopSink)(nil)
)
