/*
 * Copyright 2025 The qadataswap Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package qadataswap

import (
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
)

// StreamWriter is a thin stateful wrapper over a producer arena for pushing
// a bounded sequence of batches. Finish marks the stream complete without
// detaching; no sentinel frame is injected — readers recognize the end as a
// timed-out read with the writer no longer active.
type StreamWriter struct {
	a        *Arena
	finished bool
}

// NewStreamWriter wraps a producer handle.
func NewStreamWriter(a *Arena) (*StreamWriter, error) {
	if a.role != roleProducer {
		return nil, fmt.Errorf("%w: stream writer needs a producer handle", ErrWrongRole)
	}
	return &StreamWriter{a: a}, nil
}

// Write publishes one batch.
func (w *StreamWriter) Write(rec arrow.Record) error {
	if w.finished {
		return fmt.Errorf("%w: stream already finished", ErrClosed)
	}
	return w.a.Produce(rec)
}

// WriteTable publishes a table as a sequence of batches.
func (w *StreamWriter) WriteTable(tbl arrow.Table, chunkRows int64) error {
	if w.finished {
		return fmt.Errorf("%w: stream already finished", ErrClosed)
	}
	return w.a.ProduceTable(tbl, chunkRows)
}

// Finish flips writer_active off. Already-published slots stay readable;
// readers drain them and then observe end-of-stream. The arena handle
// remains attached until Close.
func (w *StreamWriter) Finish() error {
	if w.finished {
		return nil
	}
	if err := w.a.finish(); err != nil {
		return err
	}
	w.finished = true
	return nil
}

// StreamReader is the pull side: Next yields batches in ring order until
// the stream ends.
type StreamReader struct {
	a *Arena
}

// NewStreamReader wraps a consumer handle.
func NewStreamReader(a *Arena) (*StreamReader, error) {
	if a.role != roleConsumer {
		return nil, fmt.Errorf("%w: stream reader needs a consumer handle", ErrWrongRole)
	}
	return &StreamReader{a: a}, nil
}

// Next returns the next batch, blocking up to timeoutMs. It returns io.EOF
// once a timed wait expires AND the writer is no longer active — the
// stream-end condition. A timeout with the writer still active surfaces as
// ErrTimeout; callers retry. timeoutMs must be >= 0: an infinite wait can
// never observe the end condition.
func (r *StreamReader) Next(timeoutMs int) (arrow.Record, error) {
	if timeoutMs < 0 {
		return nil, fmt.Errorf("stream reader requires a finite timeout")
	}
	rec, err := r.a.Consume(timeoutMs)
	if errors.Is(err, ErrTimeout) && !r.a.WriterActive() {
		return nil, io.EOF
	}
	return rec, err
}
