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
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// The futexes here live in memory shared between processes, so the
// operations use the shared (non-PRIVATE) futex ops. Relative FUTEX_WAIT
// timeouts are measured by the kernel on CLOCK_MONOTONIC, which keeps timed
// semaphore waits immune to wall-clock jumps.

// futexWait blocks until the value at addr is no longer val, a wake
// arrives, or timeoutNs elapses (0 means wait forever). Spurious returns
// are expected; callers always re-check their condition.
func futexWait(addr *uint32, val uint32, timeoutNs int64) error {
	// Re-check atomically before entering the syscall to close the
	// lost-wake window between the caller's snapshot and futex entry.
	if atomic.LoadUint32(addr) != val {
		return nil
	}

	var tsPtr unsafe.Pointer
	if timeoutNs > 0 {
		ts := unix.NsecToTimespec(timeoutNs)
		tsPtr = unsafe.Pointer(&ts)
	}

	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(unix.FUTEX_WAIT),
		uintptr(val),
		uintptr(tsPtr),
		0,
		0,
	)

	switch errno {
	case 0, unix.EAGAIN, unix.EINTR:
		// Value changed before sleeping, or interrupted; caller re-checks.
		return nil
	case unix.ETIMEDOUT:
		return ErrTimeout
	default:
		return fmt.Errorf("%w: futex wait: %v", ErrIO, errno)
	}
}

// futexWake wakes up to n waiters blocked on addr.
func futexWake(addr *uint32, n int) error {
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(unix.FUTEX_WAKE),
		uintptr(n),
		0,
		0,
		0,
	)
	if errno != 0 {
		return fmt.Errorf("%w: futex wake: %v", ErrIO, errno)
	}
	return nil
}

// MonotonicMicros returns CLOCK_MONOTONIC in microseconds. Slot publish
// timestamps use it; the value is advisory and only comparable within one
// host boot.
func MonotonicMicros() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return uint64(ts.Sec)*1_000_000 + uint64(ts.Nsec)/1_000
}
