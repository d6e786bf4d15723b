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

import "errors"

var (
	// ErrAlreadyExists is returned when creating a region or semaphore whose
	// kernel name is already in use.
	ErrAlreadyExists = errors.New("shared memory object already exists")

	// ErrNotFound is returned when opening a region or semaphore whose kernel
	// name does not exist.
	ErrNotFound = errors.New("shared memory object not found")

	// ErrInvalidHeader is returned when the mapped region does not start with
	// the expected magic bytes.
	ErrInvalidHeader = errors.New("invalid region header")

	// ErrVersionMismatch is returned when the region header carries an
	// unknown protocol version.
	ErrVersionMismatch = errors.New("region protocol version mismatch")

	// ErrCorruptHeader is returned when the header geometry is internally
	// inconsistent or disagrees with the kernel-reported mapping size.
	ErrCorruptHeader = errors.New("corrupt region header")

	// ErrTimeout is returned by timed semaphore waits that expire.
	ErrTimeout = errors.New("wait timed out")

	// ErrIO wraps OS-level failures (mmap, ftruncate, futex).
	ErrIO = errors.New("shared memory I/O error")

	// ErrUnsupported is returned on platforms without the required mmap and
	// futex support.
	ErrUnsupported = errors.New("shared memory transport not supported on this platform")
)
