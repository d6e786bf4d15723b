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
	"os"
	"sync"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

func uniqueName(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, os.Getpid(), time.Now().UnixNano())
}

// attachPair creates a producer and one consumer on a fresh region and
// registers cleanup. Consumer handles close before the producer so the
// reader count drains first.
func attachPair(t *testing.T, totalSize, bufferCount uint64) (*Arena, *Arena) {
	t.Helper()
	name := uniqueName("t")
	prod := attachTestProducer(t, name, totalSize, bufferCount)
	cons := attachTestConsumer(t, name)
	return prod, cons
}

func attachTestProducer(t *testing.T, name string, totalSize, bufferCount uint64, opts ...Option) *Arena {
	t.Helper()
	prod, err := AttachProducer(name, totalSize, bufferCount, opts...)
	if errors.Is(err, ErrUnsupported) {
		t.Skip("shared memory transport not supported on this platform")
	}
	if err != nil {
		t.Fatalf("AttachProducer: %v", err)
	}
	t.Cleanup(func() { prod.Close() })
	return prod
}

func attachTestConsumer(t *testing.T, name string) *Arena {
	t.Helper()
	cons, err := AttachConsumer(name)
	if err != nil {
		t.Fatalf("AttachConsumer: %v", err)
	}
	t.Cleanup(func() { cons.Close() })
	return cons
}

// batchIDs extracts the id column values.
func batchIDs(t *testing.T, rec arrow.Record) []int64 {
	t.Helper()
	col, ok := rec.Column(0).(*array.Int64)
	if !ok {
		t.Fatalf("column 0 is %T, want *array.Int64", rec.Column(0))
	}
	out := make([]int64, col.Len())
	copy(out, col.Int64Values())
	return out
}

func TestSingleBatchRoundTrip(t *testing.T) {
	prod, cons := attachPair(t, 4<<20, 3)

	sent := makeBatch(t, 0, 10)
	defer sent.Release()
	if err := prod.Produce(sent); err != nil {
		t.Fatalf("Produce: %v", err)
	}

	got, err := cons.Consume(1000)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	defer got.Release()

	if got.NumRows() != 10 {
		t.Fatalf("got %d rows, want 10", got.NumRows())
	}
	if !array.RecordEqual(sent, got) {
		t.Fatalf("batch mismatch:\nsent %v\ngot  %v", sent, got)
	}

	ps, cs := prod.Stats(), cons.Stats()
	if ps.WritesCount != 1 || ps.BytesWritten == 0 {
		t.Fatalf("producer stats %+v", ps)
	}
	if cs.ReadsCount != 1 || cs.BytesRead != ps.BytesWritten || cs.WaitTimeouts != 0 {
		t.Fatalf("consumer stats %+v (producer wrote %d)", cs, ps.BytesWritten)
	}
}

func TestRingFullProducerBlocks(t *testing.T) {
	name := uniqueName("t")
	prod := attachTestProducer(t, name, 1<<20, 2)

	for i := 0; i < 2; i++ {
		rec := makeBatch(t, int64(i), 1)
		err := prod.Produce(rec)
		rec.Release()
		if err != nil {
			t.Fatalf("Produce %d: %v", i, err)
		}
	}

	// Third produce must block: both slots are occupied.
	third := makeBatch(t, 2, 1)
	defer third.Release()
	done := make(chan error, 1)
	go func() { done <- prod.Produce(third) }()

	select {
	case err := <-done:
		t.Fatalf("third produce completed on a full ring: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	cons := attachTestConsumer(t, name)
	first, err := cons.Consume(500)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	first.Release()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unblocked produce failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("produce still blocked after a slot was freed")
	}

	// Remaining batches drain in FIFO order.
	for want := int64(1); want <= 2; want++ {
		rec, err := cons.Consume(500)
		if err != nil {
			t.Fatalf("Consume: %v", err)
		}
		ids := batchIDs(t, rec)
		rec.Release()
		if len(ids) != 1 || ids[0] != want {
			t.Fatalf("got ids %v, want [%d]", ids, want)
		}
	}
}

func TestConsumerTimeout(t *testing.T) {
	prod, cons := attachPair(t, 1<<20, 3)

	if _, err := cons.Consume(100); !errors.Is(err, ErrTimeout) {
		t.Fatalf("empty ring consume: got %v, want ErrTimeout", err)
	}
	if ws := cons.Stats().WaitTimeouts; ws != 1 {
		t.Fatalf("wait timeouts = %d, want 1", ws)
	}

	rec := makeBatch(t, 7, 3)
	defer rec.Release()
	if err := prod.Produce(rec); err != nil {
		t.Fatalf("Produce: %v", err)
	}
	got, err := cons.Consume(1000)
	if err != nil {
		t.Fatalf("Consume after produce: %v", err)
	}
	defer got.Release()
	if !array.RecordEqual(rec, got) {
		t.Fatal("batch mismatch after timeout recovery")
	}
}

func TestTwoConsumersSplitStream(t *testing.T) {
	name := uniqueName("t")
	prod := attachTestProducer(t, name, 1<<20, 4)
	cons1 := attachTestConsumer(t, name)
	cons2 := attachTestConsumer(t, name)

	const batches = 10

	var wg sync.WaitGroup
	received := make([][]int64, 2)
	for ci, cons := range []*Arena{cons1, cons2} {
		wg.Add(1)
		go func(ci int, cons *Arena) {
			defer wg.Done()
			for {
				rec, err := cons.Consume(1000)
				if errors.Is(err, ErrTimeout) {
					return
				}
				if err != nil {
					t.Errorf("consumer %d: %v", ci, err)
					return
				}
				ids := batchIDs(t, rec)
				rec.Release()
				received[ci] = append(received[ci], ids...)
			}
		}(ci, cons)
	}

	for i := 0; i < batches; i++ {
		rec := makeBatch(t, int64(i), 1)
		err := prod.Produce(rec)
		rec.Release()
		if err != nil {
			t.Fatalf("Produce %d: %v", i, err)
		}
	}
	wg.Wait()

	seen := map[int64]int{}
	for _, ids := range received {
		for _, id := range ids {
			seen[id]++
		}
	}
	if len(seen) != batches {
		t.Fatalf("received %d distinct batches, want %d (%v)", len(seen), batches, seen)
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("batch %d delivered %d times", id, n)
		}
	}
}

func TestOversizePayloadRejected(t *testing.T) {
	// Small region: per-slot capacity lands around 2 KiB.
	name := uniqueName("t")
	prod := attachTestProducer(t, name, 4096+shmHeaderSizeFor(2), 2)
	cons := attachTestConsumer(t, name)

	if prod.BufferSize() > 2048 {
		t.Fatalf("slot capacity %d, test assumes ~2KiB", prod.BufferSize())
	}

	big := makeWideBatch(t, int(prod.BufferSize())*2)
	defer big.Release()
	if err := prod.Produce(big); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("oversize produce: got %v, want ErrPayloadTooLarge", err)
	}
	if seq := prod.view.Header().WriteSequence(); seq != 0 {
		t.Fatalf("write sequence advanced to %d on failed produce", seq)
	}

	// The returned free token lets the next, smaller batch land in slot 0.
	small := makeBatch(t, 0, 4)
	defer small.Release()
	if err := prod.Produce(small); err != nil {
		t.Fatalf("small produce after rejection: %v", err)
	}
	if !prod.view.Slot(0).Ready() {
		t.Fatal("small batch did not land in slot 0")
	}

	got, err := cons.Consume(1000)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	defer got.Release()
	if !array.RecordEqual(small, got) {
		t.Fatal("batch mismatch after rejection")
	}
}

// shmHeaderSizeFor mirrors the header geometry: fixed block plus one cache
// line of slot state per buffer.
func shmHeaderSizeFor(bufferCount uint64) uint64 {
	return 256 + bufferCount*64
}

func TestWrongRole(t *testing.T) {
	prod, cons := attachPair(t, 1<<20, 2)

	rec := makeBatch(t, 0, 1)
	defer rec.Release()

	if err := cons.Produce(rec); !errors.Is(err, ErrWrongRole) {
		t.Fatalf("produce on consumer: got %v, want ErrWrongRole", err)
	}
	if _, err := prod.Consume(0); !errors.Is(err, ErrWrongRole) {
		t.Fatalf("consume on producer: got %v, want ErrWrongRole", err)
	}
	if _, err := prod.TryConsume(); !errors.Is(err, ErrWrongRole) {
		t.Fatalf("try-consume on producer: got %v, want ErrWrongRole", err)
	}
}

func TestAttachProducerExclusive(t *testing.T) {
	name := uniqueName("t")
	attachTestProducer(t, name, 1<<20, 2)

	if _, err := AttachProducer(name, 1<<20, 2); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("second producer: got %v, want ErrAlreadyExists", err)
	}
}

func TestAttachConsumerMissing(t *testing.T) {
	_, err := AttachConsumer(uniqueName("missing"))
	if errors.Is(err, ErrUnsupported) {
		t.Skip("shared memory transport not supported on this platform")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestReaderCountLifecycle(t *testing.T) {
	name := uniqueName("t")
	prod := attachTestProducer(t, name, 1<<20, 2)

	if rc := prod.ReaderCount(); rc != 0 {
		t.Fatalf("reader count %d before any consumer", rc)
	}

	c1, err := AttachConsumer(name)
	if err != nil {
		t.Fatalf("AttachConsumer: %v", err)
	}
	c2, err := AttachConsumer(name)
	if err != nil {
		t.Fatalf("AttachConsumer: %v", err)
	}
	if rc := prod.ReaderCount(); rc != 2 {
		t.Fatalf("reader count %d with two consumers", rc)
	}

	c1.Close()
	c2.Close()
	if rc := prod.ReaderCount(); rc != 0 {
		t.Fatalf("reader count %d after both closed", rc)
	}
}

func TestReattachAfterProducerClose(t *testing.T) {
	name := uniqueName("t")
	prod, err := AttachProducer(name, 1<<20, 2)
	if errors.Is(err, ErrUnsupported) {
		t.Skip("shared memory transport not supported on this platform")
	}
	if err != nil {
		t.Fatalf("AttachProducer: %v", err)
	}
	if err := prod.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Region and semaphore names were unlinked, so the name is reusable.
	prod2 := attachTestProducer(t, name, 1<<20, 2)
	if !prod2.WriterActive() {
		t.Fatal("reattached producer not active")
	}
}

func TestCloseIdempotentAndGuards(t *testing.T) {
	prod, cons := attachPair(t, 1<<20, 2)

	if err := cons.Close(); err != nil {
		t.Fatalf("consumer close: %v", err)
	}
	if err := cons.Close(); err != nil {
		t.Fatalf("second consumer close: %v", err)
	}
	if _, err := cons.Consume(0); !errors.Is(err, ErrClosed) {
		t.Fatalf("consume on closed handle: got %v, want ErrClosed", err)
	}

	if err := prod.Close(); err != nil {
		t.Fatalf("producer close: %v", err)
	}
	rec := makeBatch(t, 0, 1)
	defer rec.Release()
	if err := prod.Produce(rec); !errors.Is(err, ErrClosed) {
		t.Fatalf("produce on closed handle: got %v, want ErrClosed", err)
	}
}

func TestWaitForDataThenConsume(t *testing.T) {
	prod, cons := attachPair(t, 1<<20, 3)

	if err := cons.WaitForData(50); !errors.Is(err, ErrTimeout) {
		t.Fatalf("probe on empty ring: got %v, want ErrTimeout", err)
	}

	rec := makeBatch(t, 0, 2)
	defer rec.Release()
	if err := prod.Produce(rec); err != nil {
		t.Fatalf("Produce: %v", err)
	}

	if err := cons.WaitForData(1000); err != nil {
		t.Fatalf("WaitForData: %v", err)
	}
	// Sole consumer: the re-posted token must make a zero-timeout consume
	// succeed.
	got, err := cons.TryConsume()
	if err != nil {
		t.Fatalf("TryConsume after successful probe: %v", err)
	}
	got.Release()
}

func TestNotifyDataReadyStrayToken(t *testing.T) {
	_, cons := attachPair(t, 1<<20, 2)

	// A stray ready token with no published slot is the InconsistentState
	// path: the consumer rebalances the token economy and surfaces it.
	if err := cons.NotifyDataReady(); err != nil {
		t.Fatalf("NotifyDataReady: %v", err)
	}
	if _, err := cons.Consume(100); !errors.Is(err, ErrInconsistentState) {
		t.Fatalf("got %v, want ErrInconsistentState", err)
	}
}

func TestSequenceInvariantUnderLoad(t *testing.T) {
	const depth = 4
	const batches = 200
	prod, cons := attachPair(t, 4<<20, depth)

	hdr := prod.view.Header()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < batches; i++ {
			rec := makeBatch(t, int64(i), 2)
			err := prod.Produce(rec)
			rec.Release()
			if err != nil {
				t.Errorf("Produce %d: %v", i, err)
				return
			}
		}
	}()

	next := int64(0)
	for consumed := 0; consumed < batches; consumed++ {
		rec, err := cons.Consume(5000)
		if err != nil {
			t.Fatalf("Consume %d: %v", consumed, err)
		}
		ids := batchIDs(t, rec)
		rec.Release()
		if ids[0] != next {
			t.Fatalf("out of order: got %d, want %d", ids[0], next)
		}
		next++

		w, r := hdr.WriteSequence(), hdr.ReadSequence()
		if w < r || w-r > depth {
			t.Fatalf("sequence invariant violated: write=%d read=%d depth=%d", w, r, depth)
		}
	}
	<-done

	if w, r := hdr.WriteSequence(), hdr.ReadSequence(); w != batches || r != batches {
		t.Fatalf("final sequences write=%d read=%d, want %d", w, r, batches)
	}
}

func TestPublishedSlotStateInvariant(t *testing.T) {
	prod, cons := attachPair(t, 1<<20, 3)

	for i := 0; i < 3; i++ {
		rec := makeBatch(t, int64(i), 1)
		err := prod.Produce(rec)
		rec.Release()
		if err != nil {
			t.Fatalf("Produce %d: %v", i, err)
		}
	}
	for i := uint64(0); i < 3; i++ {
		st := prod.view.Slot(i)
		if !st.Ready() {
			t.Fatalf("slot %d not ready after publish", i)
		}
		if n := st.DataSize(); n == 0 || n > prod.BufferSize() {
			t.Fatalf("slot %d published with data size %d (cap %d)", i, n, prod.BufferSize())
		}
		if st.Timestamp() == 0 {
			t.Fatalf("slot %d published without timestamp", i)
		}
	}

	for i := 0; i < 3; i++ {
		rec, err := cons.Consume(500)
		if err != nil {
			t.Fatalf("Consume %d: %v", i, err)
		}
		rec.Release()
	}
	for i := uint64(0); i < 3; i++ {
		if prod.view.Slot(i).Ready() {
			t.Fatalf("slot %d still ready after consume", i)
		}
	}
}

func TestProduceTable(t *testing.T) {
	prod, cons := attachPair(t, 4<<20, 4)

	rec := makeBatch(t, 0, 12)
	defer rec.Release()
	tbl := array.NewTableFromRecords(rec.Schema(), []arrow.Record{rec})
	defer tbl.Release()

	if err := prod.ProduceTable(tbl, 4); err != nil {
		t.Fatalf("ProduceTable: %v", err)
	}

	var rows int64
	for i := 0; i < 3; i++ {
		got, err := cons.Consume(1000)
		if err != nil {
			t.Fatalf("Consume chunk %d: %v", i, err)
		}
		rows += got.NumRows()
		got.Release()
	}
	if rows != 12 {
		t.Fatalf("table chunks carried %d rows, want 12", rows)
	}
	if _, err := cons.TryConsume(); !errors.Is(err, ErrTimeout) {
		t.Fatal("more chunks than expected")
	}
}

func TestConsumeTable(t *testing.T) {
	prod, cons := attachPair(t, 4<<20, 3)

	rec := makeBatch(t, 0, 8)
	defer rec.Release()
	if err := prod.Produce(rec); err != nil {
		t.Fatalf("Produce: %v", err)
	}

	tbl, err := cons.ConsumeTable(1000)
	if err != nil {
		t.Fatalf("ConsumeTable: %v", err)
	}
	defer tbl.Release()

	if tbl.NumRows() != 8 {
		t.Fatalf("table has %d rows, want 8", tbl.NumRows())
	}
	if !tbl.Schema().Equal(rec.Schema()) {
		t.Fatalf("table schema %v, want %v", tbl.Schema(), rec.Schema())
	}

	if _, err := cons.ConsumeTable(0); !errors.Is(err, ErrTimeout) {
		t.Fatalf("empty ring: got %v, want ErrTimeout", err)
	}
	if _, err := prod.ConsumeTable(0); !errors.Is(err, ErrWrongRole) {
		t.Fatalf("producer handle: got %v, want ErrWrongRole", err)
	}
}

func TestCompressedArenaRoundTrip(t *testing.T) {
	name := uniqueName("t")
	prod := attachTestProducer(t, name, 4<<20, 3, WithZstdCompression())
	cons := attachTestConsumer(t, name)

	rec := makeWideBatch(t, 16<<10)
	defer rec.Release()
	if err := prod.Produce(rec); err != nil {
		t.Fatalf("Produce: %v", err)
	}
	got, err := cons.Consume(1000)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	defer got.Release()
	if !array.RecordEqual(rec, got) {
		t.Fatal("compressed round-trip mismatch")
	}
}
