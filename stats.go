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

// Stats are per-handle operation counters. They live in process memory, not
// in the shared region: a region-resident counter would add a contended
// cache line to every operation and the header stays a pure control block.
//
// Bytes and operation counts advance on success paths only; WaitTimeouts
// advances on the timeout return path of timed waits.
type Stats struct {
	BytesWritten uint64
	BytesRead    uint64
	WritesCount  uint64
	ReadsCount   uint64
	WaitTimeouts uint64
}
