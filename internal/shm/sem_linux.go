//go:build linux && (amd64 || arm64)

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
	"os"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// semStateSize is one cache line: {value u32; waiters u32} plus padding.
const semStateSize = CacheLine

// semState is the shared state of one counting semaphore. value is the
// token count and the futex word; waiters gates the wake syscall so
// uncontended posts stay in user space.
type semState struct {
	value    uint32
	waiters  uint32
	reserved [56]byte
}

// Semaphore is a kernel-named counting semaphore: a one-cache-line file
// under the shared-memory directory, mapped shared, driven by futex. The
// name survives process exit until unlinked, which is exactly the POSIX
// named-semaphore lifecycle the ring's handshake depends on.
type Semaphore struct {
	file *os.File
	mem  []byte
	name string
}

// CreateSemaphore creates the named semaphore exclusively with the given
// initial token count. The creator should UnlinkSemaphore first to clear a
// stale name left by a crashed prior owner.
func CreateSemaphore(kernelName string, initial uint32) (*Semaphore, error) {
	path := ObjectPath(kernelName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: semaphore %s", ErrAlreadyExists, kernelName)
		}
		return nil, fmt.Errorf("%w: create semaphore %s: %v", ErrIO, kernelName, err)
	}
	cleanup := func() {
		file.Close()
		os.Remove(path)
	}
	if err := file.Truncate(semStateSize); err != nil {
		cleanup()
		return nil, fmt.Errorf("%w: size semaphore %s: %v", ErrIO, kernelName, err)
	}
	mem, err := unix.Mmap(int(file.Fd()), 0, semStateSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("%w: mmap semaphore %s: %v", ErrIO, kernelName, err)
	}
	s := &Semaphore{file: file, mem: mem, name: kernelName}
	atomic.StoreUint32(&s.state().value, initial)
	return s, nil
}

// OpenSemaphore opens an existing named semaphore.
func OpenSemaphore(kernelName string) (*Semaphore, error) {
	path := ObjectPath(kernelName)
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: semaphore %s", ErrNotFound, kernelName)
		}
		return nil, fmt.Errorf("%w: open semaphore %s: %v", ErrIO, kernelName, err)
	}
	info, err := file.Stat()
	if err != nil || info.Size() < semStateSize {
		file.Close()
		return nil, fmt.Errorf("%w: semaphore %s has no state block", ErrCorruptHeader, kernelName)
	}
	mem, err := unix.Mmap(int(file.Fd()), 0, semStateSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: mmap semaphore %s: %v", ErrIO, kernelName, err)
	}
	return &Semaphore{file: file, mem: mem, name: kernelName}, nil
}

func (s *Semaphore) state() *semState {
	return (*semState)(unsafe.Pointer(&s.mem[0]))
}

// Name returns the kernel name this semaphore was created or opened under.
func (s *Semaphore) Name() string { return s.name }

// Value returns the current token count. Diagnostic only; it can be stale
// by the time the caller looks at it.
func (s *Semaphore) Value() uint32 {
	return atomic.LoadUint32(&s.state().value)
}

// Post releases one token and wakes a waiter if any are parked.
func (s *Semaphore) Post() error {
	st := s.state()
	atomic.AddUint32(&st.value, 1)
	if atomic.LoadUint32(&st.waiters) != 0 {
		return futexWake(&st.value, 1)
	}
	return nil
}

// tryAcquire consumes one token without blocking.
func (s *Semaphore) tryAcquire() bool {
	st := s.state()
	for {
		v := atomic.LoadUint32(&st.value)
		if v == 0 {
			return false
		}
		if atomic.CompareAndSwapUint32(&st.value, v, v-1) {
			return true
		}
	}
}

// Wait blocks until a token is available. No timeout; this is the
// producer-side backpressure path.
func (s *Semaphore) Wait() error {
	return s.wait(-1)
}

// TryWait consumes a token if one is immediately available and returns
// ErrTimeout otherwise.
func (s *Semaphore) TryWait() error {
	if s.tryAcquire() {
		return nil
	}
	return ErrTimeout
}

// TimedWait blocks up to d for a token. d == 0 polls; d < 0 waits forever.
func (s *Semaphore) TimedWait(d time.Duration) error {
	if d < 0 {
		return s.wait(-1)
	}
	if d == 0 {
		return s.TryWait()
	}
	return s.wait(d)
}

// wait parks on the futex word until a token can be taken. The deadline is
// tracked against Go's monotonic clock and the remaining interval is
// re-derived after every wake, so neither spurious wakes nor wall-clock
// steps stretch the wait.
func (s *Semaphore) wait(d time.Duration) error {
	if s.tryAcquire() {
		return nil
	}
	st := s.state()
	var deadline time.Time
	if d >= 0 {
		deadline = time.Now().Add(d)
	}
	for {
		var timeoutNs int64
		if d >= 0 {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return ErrTimeout
			}
			timeoutNs = remaining.Nanoseconds()
		}
		atomic.AddUint32(&st.waiters, 1)
		err := futexWait(&st.value, 0, timeoutNs)
		atomic.AddUint32(&st.waiters, ^uint32(0))
		if err != nil && err != ErrTimeout {
			return err
		}
		if s.tryAcquire() {
			return nil
		}
		if err == ErrTimeout {
			return ErrTimeout
		}
	}
}

// Close unmaps the state and closes the handle. The kernel name stays
// linked; only the owning producer unlinks it.
func (s *Semaphore) Close() error {
	var firstErr error
	if s.mem != nil {
		if err := unix.Munmap(s.mem); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: munmap semaphore: %v", ErrIO, err)
		}
		s.mem = nil
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: close semaphore: %v", ErrIO, err)
		}
		s.file = nil
	}
	return firstErr
}
