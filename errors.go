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

	"github.com/yutiansut/qadataswap/internal/shm"
)

// Attach- and wait-level error kinds surface unchanged from the
// shared-memory layer; match with errors.Is.
var (
	// ErrAlreadyExists: producer attach found the region name in use.
	ErrAlreadyExists = shm.ErrAlreadyExists

	// ErrNotFound: consumer attach found no region under the name.
	ErrNotFound = shm.ErrNotFound

	// ErrInvalidHeader: the mapped region does not carry the magic bytes.
	ErrInvalidHeader = shm.ErrInvalidHeader

	// ErrVersionMismatch: the region speaks an unknown protocol version.
	ErrVersionMismatch = shm.ErrVersionMismatch

	// ErrCorruptHeader: header geometry is inconsistent with the mapping.
	ErrCorruptHeader = shm.ErrCorruptHeader

	// ErrTimeout: a timed wait expired. Streaming readers combine this
	// with WriterActive to detect end-of-stream.
	ErrTimeout = shm.ErrTimeout

	// ErrIO wraps OS-level failures.
	ErrIO = shm.ErrIO

	// ErrUnsupported: this platform lacks shared futex / mmap support.
	ErrUnsupported = shm.ErrUnsupported
)

var (
	// ErrWrongRole is returned when Produce is called on a consumer handle
	// or Consume on a producer handle. Role is fixed at attach.
	ErrWrongRole = errors.New("operation not valid for this handle's role")

	// ErrPayloadTooLarge is returned when a record batch serializes to more
	// than the per-slot capacity. The ring state is unchanged.
	ErrPayloadTooLarge = errors.New("serialized batch exceeds buffer size")

	// ErrInconsistentState is returned when a ready token was acquired but
	// the slot is not flagged ready. Treated as corruption.
	ErrInconsistentState = errors.New("slot not ready after token acquisition")

	// ErrClosed is returned by operations on a closed handle.
	ErrClosed = errors.New("arena handle is closed")
)
