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

// Package shm implements the shared-memory plumbing underneath the arena:
// the kernel-named mapped region, the fixed control-block layout at offset
// zero, and the futex-backed counting semaphores used for the
// producer/consumer handshake.
//
// Everything in this package is shared across process boundaries. Fields
// mutated after initialization are accessed exclusively through sync/atomic
// on naturally aligned words inside the mapping; the non-atomic header
// fields are written once by the creating producer and read-only afterwards.
package shm
