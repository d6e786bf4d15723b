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

// Package qadataswap moves Arrow record batches between processes through a
// shared, memory-mapped ring of fixed-size slots.
//
// One producer creates a kernel-named region and publishes serialized
// batches into ring slots; any number of consumers open the region and
// compete for them. Coordination is two kernel-named counting semaphores —
// free tokens count empty slots, ready tokens count published ones — plus
// atomic per-slot state in the mapped header. The ring is a
// work-distribution queue with single-delivery semantics, not a broadcast.
//
// Basic flow:
//
//	prod, _ := qadataswap.AttachProducer("quotes", 4<<20, 3)
//	defer prod.Close()
//	_ = prod.Produce(rec)
//
//	cons, _ := qadataswap.AttachConsumer("quotes")
//	defer cons.Close()
//	rec, err := cons.Consume(1000) // milliseconds; <0 blocks, 0 polls
//
// Frames are self-describing Arrow IPC streams, one record batch each, so
// heterogeneous schemas can share a ring and any IPC-speaking peer on the
// same host can read them. Linux amd64/arm64 only; both parties must share
// the host (native byte order, shared futexes).
package qadataswap
