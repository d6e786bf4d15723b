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
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"

	"github.com/yutiansut/qadataswap/internal/shm"
)

type role int

const (
	roleProducer role = iota + 1
	roleConsumer
)

// Arena is a handle onto one shared-memory ring. A handle is a producer or
// a consumer for its whole lifetime; the role is acquired at attach and
// produce/consume on the wrong role fail ErrWrongRole.
//
// A handle is not safe for concurrent Produce/Consume from multiple
// goroutines; callers serialize externally or attach distinct handles.
// Attach and Close are one-shot.
type Arena struct {
	name     string
	role     role
	region   *shm.Region
	view     *shm.View
	geo      shm.Geometry
	freeSem  *shm.Semaphore
	readySem *shm.Semaphore

	ipcWrite []ipc.Option
	ipcRead  []ipc.Option

	stats  Stats
	closed bool
}

// AttachProducer creates the region under name, initializes the header and
// the two counting semaphores, and returns the producing handle. At most
// one producer can exist per name: a second attach fails ErrAlreadyExists
// off the exclusive region create.
//
// totalSize is the full region size in bytes; bufferCount the ring depth.
// Per-slot capacity is derived: (totalSize - header) / bufferCount, aligned
// down to a cache line.
func AttachProducer(name string, totalSize, bufferCount uint64, opts ...Option) (*Arena, error) {
	if err := shm.ValidateName(name); err != nil {
		return nil, err
	}
	cfg := applyOptions(opts)
	geo, err := shm.ComputeGeometry(totalSize, bufferCount)
	if err != nil {
		return nil, err
	}

	region, err := shm.CreateRegion(name, totalSize)
	if err != nil {
		return nil, err
	}
	// Anything failing past this point must leave no kernel state behind.
	fail := func(err error) (*Arena, error) {
		region.Close()
		shm.UnlinkRegion(name)
		return nil, err
	}

	view := shm.NewView(region.Mem, geo)
	freeName := shm.FreeSemKernelName(name)
	readyName := shm.ReadySemKernelName(name)
	shm.InitHeader(view.Header(), geo, freeName, readyName)

	// A crashed prior owner leaves semaphore names dangling; clear them
	// before the exclusive create.
	if err := shm.UnlinkSemaphore(freeName); err != nil {
		return fail(err)
	}
	if err := shm.UnlinkSemaphore(readyName); err != nil {
		return fail(err)
	}
	freeSem, err := shm.CreateSemaphore(freeName, uint32(bufferCount))
	if err != nil {
		return fail(err)
	}
	readySem, err := shm.CreateSemaphore(readyName, 0)
	if err != nil {
		freeSem.Close()
		shm.UnlinkSemaphore(freeName)
		return fail(err)
	}

	// Last step of attach: consumers key liveness off this flag.
	view.Header().SetWriterActive(true)

	return &Arena{
		name:     name,
		role:     roleProducer,
		region:   region,
		view:     view,
		geo:      geo,
		freeSem:  freeSem,
		readySem: readySem,
		ipcWrite: append(cfg.ipcWrite, ipc.WithAllocator(cfg.alloc)),
		ipcRead:  []ipc.Option{ipc.WithAllocator(cfg.alloc)},
	}, nil
}

// AttachConsumer opens an existing region, validates its header against the
// kernel-reported size, opens the semaphores named in the header, and
// registers the reader.
func AttachConsumer(name string, opts ...Option) (*Arena, error) {
	if err := shm.ValidateName(name); err != nil {
		return nil, err
	}
	cfg := applyOptions(opts)

	region, err := shm.OpenRegion(name)
	if err != nil {
		return nil, err
	}
	geo, err := shm.ValidateHeader(shm.HeaderOf(region.Mem), region.Size())
	if err != nil {
		region.Close()
		return nil, err
	}
	view := shm.NewView(region.Mem, geo)

	hdr := view.Header()
	freeSem, err := shm.OpenSemaphore(hdr.FreeSemName())
	if err != nil {
		region.Close()
		return nil, err
	}
	readySem, err := shm.OpenSemaphore(hdr.ReadySemName())
	if err != nil {
		freeSem.Close()
		region.Close()
		return nil, err
	}
	hdr.AddReader()

	return &Arena{
		name:     name,
		role:     roleConsumer,
		region:   region,
		view:     view,
		geo:      geo,
		freeSem:  freeSem,
		readySem: readySem,
		ipcRead:  []ipc.Option{ipc.WithAllocator(cfg.alloc)},
	}, nil
}

// Produce serializes rec into the next free slot and publishes it. Blocks
// while the ring is full; blocking is the backpressure, so there is no
// timeout variant. On serialization failure (including
// ErrPayloadTooLarge) the acquired free token is returned and the ring
// state is unchanged.
func (a *Arena) Produce(rec arrow.Record) error {
	if a.closed {
		return ErrClosed
	}
	if a.role != roleProducer {
		return fmt.Errorf("%w: produce on a consumer handle", ErrWrongRole)
	}

	if err := a.freeSem.Wait(); err != nil {
		return err
	}

	hdr := a.view.Header()
	i := hdr.WriteSequence() % a.geo.BufferCount
	n, err := encodeRecord(a.view.SlotBytes(i), rec, a.ipcWrite...)
	if err != nil {
		// Rollback: the slot was never published, return its token.
		a.freeSem.Post()
		return err
	}

	st := a.view.Slot(i)
	st.SetDataSize(uint64(n))
	st.SetTimestamp(shm.MonotonicMicros())
	st.SetReady(true)
	hdr.AdvanceWriteSequence()

	if err := a.readySem.Post(); err != nil {
		return err
	}
	a.stats.BytesWritten += uint64(n)
	a.stats.WritesCount++
	return nil
}

// ProduceTable publishes a table as one frame per chunk of up to chunkRows
// rows. chunkRows <= 0 publishes each underlying chunk as-is.
func (a *Arena) ProduceTable(tbl arrow.Table, chunkRows int64) error {
	if chunkRows <= 0 {
		chunkRows = tbl.NumRows()
	}
	tr := array.NewTableReader(tbl, chunkRows)
	defer tr.Release()
	for tr.Next() {
		if err := a.Produce(tr.Record()); err != nil {
			return err
		}
	}
	return nil
}

// Consume waits up to timeoutMs for a published slot, decodes it, retires
// the slot and returns the batch. timeoutMs < 0 waits forever; 0 polls.
// The caller owns the returned record and releases it when done.
//
// Each published slot is consumed by exactly one consumer; concurrent
// consumers split the stream, they do not broadcast.
func (a *Arena) Consume(timeoutMs int) (arrow.Record, error) {
	if a.closed {
		return nil, ErrClosed
	}
	if a.role != roleConsumer {
		return nil, fmt.Errorf("%w: consume on a producer handle", ErrWrongRole)
	}

	if err := a.readySem.TimedWait(timeoutFromMs(timeoutMs)); err != nil {
		if errors.Is(err, ErrTimeout) {
			a.stats.WaitTimeouts++
			return nil, ErrTimeout
		}
		return nil, err
	}

	// Claim the slot index in the same atomic step that advances the read
	// sequence. Concurrent consumers each hold a distinct ready token, and
	// the fetch-add hands each of them a distinct index; a plain load here
	// would let two token holders decode the same slot.
	hdr := a.view.Header()
	i := (hdr.AdvanceReadSequence() - 1) % a.geo.BufferCount
	st := a.view.Slot(i)

	// Holding a ready token, this slot must be published. If not, the
	// region is corrupt (or a second producer is loose); hand the token
	// economy back and surface it.
	if !st.Ready() {
		a.freeSem.Post()
		return nil, ErrInconsistentState
	}
	n := st.DataSize()
	if n == 0 || n > a.geo.BufferSize {
		a.freeSem.Post()
		return nil, fmt.Errorf("%w: slot %d has data size %d", ErrInconsistentState, i, n)
	}

	rec, decodeErr := decodeRecord(a.view.SlotBytes(i)[:n], a.ipcRead...)

	// The slot retires whether or not decode succeeded; a poisoned frame
	// must not wedge the ring.
	st.SetReady(false)
	a.freeSem.Post()

	if decodeErr != nil {
		return nil, decodeErr
	}
	a.stats.BytesRead += n
	a.stats.ReadsCount++
	return rec, nil
}

// TryConsume is Consume with a zero timeout.
func (a *Arena) TryConsume() (arrow.Record, error) {
	return a.Consume(0)
}

// ConsumeTable consumes one frame and wraps it as a single-chunk table,
// the read-side counterpart of ProduceTable. The caller releases the
// returned table.
func (a *Arena) ConsumeTable(timeoutMs int) (arrow.Table, error) {
	rec, err := a.Consume(timeoutMs)
	if err != nil {
		return nil, err
	}
	defer rec.Release()
	return array.NewTableFromRecords(rec.Schema(), []arrow.Record{rec}), nil
}

// WaitForData probes for availability: a timed wait on the ready semaphore
// whose token is immediately re-posted on success. Advisory only; with
// multiple consumers another handle can win the slot before a subsequent
// Consume.
func (a *Arena) WaitForData(timeoutMs int) error {
	if a.closed {
		return ErrClosed
	}
	if err := a.readySem.TimedWait(timeoutFromMs(timeoutMs)); err != nil {
		if errors.Is(err, ErrTimeout) {
			a.stats.WaitTimeouts++
		}
		return err
	}
	return a.readySem.Post()
}

// NotifyDataReady posts a raw ready token for out-of-band wakeups. Under
// normal single-producer operation consumers never call this: a stray
// token makes the next Consume observe an unpublished slot.
func (a *Arena) NotifyDataReady() error {
	if a.closed {
		return ErrClosed
	}
	return a.readySem.Post()
}

// WriterActive reports whether a producer is currently attached. Streaming
// readers combine a Consume timeout with this probe to detect
// end-of-stream.
func (a *Arena) WriterActive() bool {
	if a.closed {
		return false
	}
	return a.view.Header().WriterActive()
}

// ReaderCount returns the number of currently attached consumers.
func (a *Arena) ReaderCount() int32 {
	if a.closed {
		return 0
	}
	return a.view.Header().ReaderCount()
}

// Name returns the user-chosen region name.
func (a *Arena) Name() string { return a.name }

// BufferCount returns the ring depth.
func (a *Arena) BufferCount() uint64 { return a.geo.BufferCount }

// BufferSize returns the per-slot payload capacity in bytes.
func (a *Arena) BufferSize() uint64 { return a.geo.BufferSize }

// Stats returns a snapshot of this handle's counters.
func (a *Arena) Stats() Stats { return a.stats }

// finish flips writer_active off without detaching. StreamWriter.Finish
// uses it; consumers drain the ring and then observe end-of-stream.
func (a *Arena) finish() error {
	if a.closed {
		return ErrClosed
	}
	if a.role != roleProducer {
		return fmt.Errorf("%w: finish on a consumer handle", ErrWrongRole)
	}
	a.view.Header().SetWriterActive(false)
	return nil
}

// Close detaches the handle: unmap, close, close semaphores. The producer
// additionally clears writer_active and unlinks the region and semaphore
// names so a later producer can reuse the name; consumers decrement the
// reader count. Close keeps going past individual failures and returns the
// first one; callers typically log and ignore it.
func (a *Arena) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true

	hdr := a.view.Header()
	if a.role == roleProducer {
		hdr.SetWriterActive(false)
	} else {
		hdr.RemoveReader()
	}

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	freeName := hdr.FreeSemName()
	readyName := hdr.ReadySemName()

	keep(a.freeSem.Close())
	keep(a.readySem.Close())
	if a.role == roleProducer {
		keep(shm.UnlinkSemaphore(freeName))
		keep(shm.UnlinkSemaphore(readyName))
	}
	keep(a.region.Close())
	if a.role == roleProducer {
		keep(shm.UnlinkRegion(a.name))
	}
	return firstErr
}

func timeoutFromMs(timeoutMs int) time.Duration {
	if timeoutMs < 0 {
		return -1
	}
	return time.Duration(timeoutMs) * time.Millisecond
}
