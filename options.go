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
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Option configures an arena handle at attach time.
type Option func(*config)

type config struct {
	alloc    memory.Allocator
	ipcWrite []ipc.Option
}

func defaultConfig() config {
	return config{alloc: memory.DefaultAllocator}
}

// WithAllocator sets the Arrow allocator used when decoding frames and
// building IPC messages.
func WithAllocator(alloc memory.Allocator) Option {
	return func(c *config) { c.alloc = alloc }
}

// WithZstdCompression compresses frame record batches with zstd. Producer
// side only; consumers detect the codec from the frame's IPC metadata. The
// per-frame schema message stays uncompressed, so compression pays off for
// batches, not tiny control frames.
func WithZstdCompression() Option {
	return func(c *config) { c.ipcWrite = append(c.ipcWrite, ipc.WithZstd()) }
}

// WithLZ4Compression compresses frame record batches with lz4.
func WithLZ4Compression() Option {
	return func(c *config) { c.ipcWrite = append(c.ipcWrite, ipc.WithLZ4()) }
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
