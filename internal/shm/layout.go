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

package shm

import (
	"fmt"
	"strings"
	"sync/atomic"
	"unsafe"
)

// Region layout constants.
const (
	// Magic identifies a qadataswap region ('QDAS').
	Magic = uint32(0x51444153)

	// Version is the current protocol version.
	Version = uint32(1)

	// CacheLine is the alignment unit for the header, the slot-state table,
	// and the slot payloads.
	CacheLine = 64

	// SemNameLen is the fixed byte length of the semaphore name fields in
	// the header, including the terminating NUL.
	SemNameLen = 64

	// HeaderBaseSize is the byte size of the fixed Header struct, excluding
	// the per-slot state table that follows it.
	HeaderBaseSize = 256

	// SlotStateSize is the byte size of one SlotState entry.
	SlotStateSize = 64

	// MinBufferSize is the smallest usable slot payload capacity. A slot
	// must at least hold an IPC frame with a trivial schema.
	MinBufferSize = 256
)

// Header is the fixed control block at offset 0 of the mapped region.
//
// The non-atomic fields (magic through buffersOffset and the semaphore
// names) are written exactly once by the creating producer and must not be
// mutated afterwards. writeSeq, readSeq, writerActive and readerCount are
// accessed only through sync/atomic by every attached process. The layout
// is native-endian; both parties must run on the same host.
//
//	0x00 magic         u32
//	0x04 version       u32
//	0x08 totalSize     u64
//	0x10 headerSize    u64
//	0x18 bufferCount   u64
//	0x20 bufferSize    u64
//	0x28 buffersOffset u64
//	0x30 writeSeq      u64 (atomic)
//	0x38 readSeq       u64 (atomic)
//	0x40 writerActive  u32 (atomic)
//	0x44 readerCount   i32 (atomic)
//	0x48 freeSemName   [64]byte
//	0x88 readySemName  [64]byte
//	0xC8 reserved to 0x100; SlotState table follows
type Header struct {
	magic         uint32
	version       uint32
	totalSize     uint64
	headerSize    uint64
	bufferCount   uint64
	bufferSize    uint64
	buffersOffset uint64
	writeSeq      uint64
	readSeq       uint64
	writerActive  uint32
	readerCount   int32
	freeSemName   [SemNameLen]byte
	readySemName  [SemNameLen]byte
	reserved      [56]byte
}

// SlotState is the per-slot control entry, one cache line each.
//
//	0x00 dataSize  u64 (atomic) — valid payload bytes, 0 when empty
//	0x08 ready     u32 (atomic) — published and not yet consumed
//	0x10 timestamp u64 (atomic) — publish time, monotonic micros, advisory
type SlotState struct {
	dataSize  uint64
	ready     uint32
	pad       uint32
	timestamp uint64
	reserved  [40]byte
}

// Write-once fields. Only the creating producer writes them, through
// InitHeader, before any consumer can observe the region.

func (h *Header) Magic() uint32 { return atomic.LoadUint32(&h.magic) }

func (h *Header) Version() uint32 { return h.version }

func (h *Header) TotalSize() uint64 { return h.totalSize }

func (h *Header) HeaderSize() uint64 { return h.headerSize }

func (h *Header) BufferCount() uint64 { return h.bufferCount }

func (h *Header) BufferSize() uint64 { return h.bufferSize }

func (h *Header) BuffersOffset() uint64 { return h.buffersOffset }

// FreeSemName returns the NUL-terminated free-semaphore kernel name.
func (h *Header) FreeSemName() string { return cString(h.freeSemName[:]) }

// ReadySemName returns the NUL-terminated ready-semaphore kernel name.
func (h *Header) ReadySemName() string { return cString(h.readySemName[:]) }

// Atomic fields.

func (h *Header) WriteSequence() uint64 { return atomic.LoadUint64(&h.writeSeq) }
func (h *Header) ReadSequence() uint64  { return atomic.LoadUint64(&h.readSeq) }

// AdvanceWriteSequence publishes one produce; returns the new value.
func (h *Header) AdvanceWriteSequence() uint64 { return atomic.AddUint64(&h.writeSeq, 1) }

// AdvanceReadSequence retires one consume; returns the new value.
func (h *Header) AdvanceReadSequence() uint64 { return atomic.AddUint64(&h.readSeq, 1) }

func (h *Header) WriterActive() bool { return atomic.LoadUint32(&h.writerActive) != 0 }

func (h *Header) SetWriterActive(active bool) {
	var v uint32
	if active {
		v = 1
	}
	atomic.StoreUint32(&h.writerActive, v)
}

func (h *Header) ReaderCount() int32 { return atomic.LoadInt32(&h.readerCount) }

func (h *Header) AddReader() int32 { return atomic.AddInt32(&h.readerCount, 1) }

func (h *Header) RemoveReader() int32 { return atomic.AddInt32(&h.readerCount, -1) }

// SlotState accessors.

func (s *SlotState) DataSize() uint64 { return atomic.LoadUint64(&s.dataSize) }

func (s *SlotState) SetDataSize(n uint64) { atomic.StoreUint64(&s.dataSize, n) }

func (s *SlotState) Timestamp() uint64 { return atomic.LoadUint64(&s.timestamp) }

func (s *SlotState) SetTimestamp(t uint64) { atomic.StoreUint64(&s.timestamp, t) }

func (s *SlotState) Ready() bool { return atomic.LoadUint32(&s.ready) != 0 }

// SetReady flips the published flag. The store is the release point for the
// payload bytes: the producer stores data and dataSize before ready=true,
// and the consumer's Ready() load pairs with it.
func (s *SlotState) SetReady(ready bool) {
	var v uint32
	if ready {
		v = 1
	}
	atomic.StoreUint32(&s.ready, v)
}

// Geometry is the local copy of the region layout every handle keeps after
// attach. Consumers never trust these values without ValidateHeader.
type Geometry struct {
	TotalSize     uint64
	HeaderSize    uint64
	BufferCount   uint64
	BufferSize    uint64
	BuffersOffset uint64
}

// ComputeGeometry derives the ring layout for a producer attach:
//
//	headerSize    = alignUp(HeaderBaseSize + bufferCount*SlotStateSize, CacheLine)
//	bufferSize    = alignDown((totalSize - headerSize) / bufferCount, CacheLine)
//	buffersOffset = headerSize
func ComputeGeometry(totalSize, bufferCount uint64) (Geometry, error) {
	if bufferCount < 1 {
		return Geometry{}, fmt.Errorf("buffer count must be >= 1, got %d", bufferCount)
	}
	headerSize := AlignUp(HeaderBaseSize+bufferCount*SlotStateSize, CacheLine)
	if totalSize < headerSize+bufferCount*MinBufferSize {
		return Geometry{}, fmt.Errorf("total size %d too small for %d buffers (header needs %d)",
			totalSize, bufferCount, headerSize)
	}
	bufferSize := AlignDown((totalSize-headerSize)/bufferCount, CacheLine)
	if bufferSize < MinBufferSize {
		return Geometry{}, fmt.Errorf("per-buffer capacity %d below minimum %d", bufferSize, MinBufferSize)
	}
	return Geometry{
		TotalSize:     totalSize,
		HeaderSize:    headerSize,
		BufferCount:   bufferCount,
		BufferSize:    bufferSize,
		BuffersOffset: headerSize,
	}, nil
}

// AlignUp rounds n up to the next multiple of align (a power of two).
func AlignUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}

// AlignDown rounds n down to a multiple of align (a power of two).
func AlignDown(n, align uint64) uint64 {
	return n &^ (align - 1)
}

// InitHeader writes the header into freshly created, zero-filled region
// memory. The atomic fields stay zero; WriterActive is set by the caller as
// the final step of producer attach.
func InitHeader(h *Header, geo Geometry, freeSem, readySem string) {
	h.magic = Magic
	h.version = Version
	h.totalSize = geo.TotalSize
	h.headerSize = geo.HeaderSize
	h.bufferCount = geo.BufferCount
	h.bufferSize = geo.BufferSize
	h.buffersOffset = geo.BuffersOffset
	putCString(h.freeSemName[:], freeSem)
	putCString(h.readySemName[:], readySem)
}

// ValidateHeader checks a consumer-side header against the kernel-reported
// mapping size and returns the geometry to use locally.
func ValidateHeader(h *Header, mappedSize uint64) (Geometry, error) {
	if h.Magic() != Magic {
		return Geometry{}, fmt.Errorf("%w: magic 0x%08x", ErrInvalidHeader, h.Magic())
	}
	if h.Version() != Version {
		return Geometry{}, fmt.Errorf("%w: version %d, expected %d", ErrVersionMismatch, h.Version(), Version)
	}
	geo := Geometry{
		TotalSize:     h.TotalSize(),
		HeaderSize:    h.HeaderSize(),
		BufferCount:   h.BufferCount(),
		BufferSize:    h.BufferSize(),
		BuffersOffset: h.BuffersOffset(),
	}
	if geo.TotalSize != mappedSize {
		return Geometry{}, fmt.Errorf("%w: header total size %d, mapping is %d bytes",
			ErrCorruptHeader, geo.TotalSize, mappedSize)
	}
	if geo.BufferCount < 1 {
		return Geometry{}, fmt.Errorf("%w: buffer count %d", ErrCorruptHeader, geo.BufferCount)
	}
	if geo.BuffersOffset < geo.HeaderSize || geo.HeaderSize < HeaderBaseSize+geo.BufferCount*SlotStateSize {
		return Geometry{}, fmt.Errorf("%w: header size %d / buffers offset %d",
			ErrCorruptHeader, geo.HeaderSize, geo.BuffersOffset)
	}
	if geo.BuffersOffset+geo.BufferCount*geo.BufferSize > geo.TotalSize {
		return Geometry{}, fmt.Errorf("%w: %d buffers of %d bytes at offset %d exceed region of %d",
			ErrCorruptHeader, geo.BufferCount, geo.BufferSize, geo.BuffersOffset, geo.TotalSize)
	}
	return geo, nil
}

// View provides typed access to the header, the slot-state table and the
// slot payloads of a mapped region. Addresses are computed on demand from
// the mapping; only the mapping slice is held, no typed pointers into
// shared memory are cached.
type View struct {
	mem []byte
	geo Geometry
}

// NewView wraps a mapping. The geometry must already be validated.
func NewView(mem []byte, geo Geometry) *View {
	return &View{mem: mem, geo: geo}
}

// HeaderOf returns the control block of a raw mapping, for validation
// before any geometry is trusted.
func HeaderOf(mem []byte) *Header {
	return (*Header)(unsafe.Pointer(&mem[0]))
}

// Header returns the control block at offset 0.
func (v *View) Header() *Header {
	return (*Header)(unsafe.Pointer(&v.mem[0]))
}

// Slot returns the state entry for slot i.
func (v *View) Slot(i uint64) *SlotState {
	off := uintptr(HeaderBaseSize) + uintptr(i)*SlotStateSize
	return (*SlotState)(unsafe.Pointer(uintptr(unsafe.Pointer(&v.mem[0])) + off))
}

// SlotBytes returns slot i's full payload span (BufferSize bytes).
func (v *View) SlotBytes(i uint64) []byte {
	off := v.geo.BuffersOffset + i*v.geo.BufferSize
	return v.mem[off : off+v.geo.BufferSize : off+v.geo.BufferSize]
}

// Geometry returns the validated layout this view was built with.
func (v *View) Geometry() Geometry { return v.geo }

// Kernel object naming. The user-chosen region name maps to three
// kernel-persistent names, all sharing the qads_ prefix so an operator can
// enumerate them.

// RegionKernelName returns the kernel object name for a region.
func RegionKernelName(name string) string { return "/qads_" + name }

// FreeSemKernelName returns the kernel object name of the free-slots
// semaphore, truncated to fit the header field.
func FreeSemKernelName(name string) string { return truncName("/qads_f_" + name) }

// ReadySemKernelName returns the kernel object name of the ready-slots
// semaphore, truncated to fit the header field.
func ReadySemKernelName(name string) string { return truncName("/qads_r_" + name) }

// ValidateName rejects region names that cannot form a kernel object name.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("region name must not be empty")
	}
	if strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("region name %q must not contain '/' or NUL", name)
	}
	return nil
}

func truncName(s string) string {
	if len(s) > SemNameLen-1 {
		return s[:SemNameLen-1]
	}
	return s
}

func putCString(dst []byte, s string) {
	n := copy(dst[:len(dst)-1], s)
	dst[n] = 0
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
