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
	"bytes"
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
)

// Frame codec: one self-describing Arrow IPC stream (schema message plus
// exactly one record batch) per slot. Each frame carries its own schema, so
// heterogeneous batches can share a ring and no schema state lives in the
// header. The slot is treated as a fixed-capacity linear buffer; bytes past
// the returned length are undefined.

// slotWriter is an io.Writer over a slot's byte span that refuses to grow.
// overflowed survives any rewrapping the IPC writer does to the returned
// error.
type slotWriter struct {
	buf        []byte
	n          int
	overflowed bool
}

func (w *slotWriter) Write(p []byte) (int, error) {
	if w.n+len(p) > len(w.buf) {
		w.overflowed = true
		return 0, ErrPayloadTooLarge
	}
	n := copy(w.buf[w.n:], p)
	w.n += n
	return n, nil
}

// encodeRecord serializes rec into dst and returns the exact byte count
// written. ErrPayloadTooLarge when the frame does not fit; dst contents are
// undefined on failure.
func encodeRecord(dst []byte, rec arrow.Record, opts ...ipc.Option) (int, error) {
	sw := &slotWriter{buf: dst}
	wopts := append([]ipc.Option{ipc.WithSchema(rec.Schema())}, opts...)
	w := ipc.NewWriter(sw, wopts...)
	if err := w.Write(rec); err != nil {
		w.Close()
		if sw.overflowed || errors.Is(err, ErrPayloadTooLarge) {
			return 0, ErrPayloadTooLarge
		}
		return 0, fmt.Errorf("serialize record batch: %w", err)
	}
	if err := w.Close(); err != nil {
		if sw.overflowed || errors.Is(err, ErrPayloadTooLarge) {
			return 0, ErrPayloadTooLarge
		}
		return 0, fmt.Errorf("finish frame: %w", err)
	}
	return sw.n, nil
}

// decodeRecord reads the single record batch out of a frame. The returned
// record owns its memory (the IPC reader copies out of src), so the slot
// can be recycled as soon as this returns; the caller releases the record.
func decodeRecord(src []byte, opts ...ipc.Option) (arrow.Record, error) {
	r, err := ipc.NewReader(bytes.NewReader(src), opts...)
	if err != nil {
		return nil, fmt.Errorf("open frame: %w", err)
	}
	defer r.Release()
	if !r.Next() {
		if err := r.Err(); err != nil {
			return nil, fmt.Errorf("decode record batch: %w", err)
		}
		return nil, fmt.Errorf("frame contains no record batch")
	}
	rec := r.Record()
	rec.Retain()
	return rec, nil
}
