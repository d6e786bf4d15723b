//go:build !linux || !(amd64 || arm64)

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
	"os"
	"time"
)

// The data plane needs shared futexes and a lock-free 64-bit atomic layout
// identical across processes. Only linux amd64/arm64 guarantee both, so
// everything else gets compile-clean stubs that fail at attach.

type Region struct {
	File *os.File
	Mem  []byte
	Path string
}

func CreateRegion(name string, totalSize uint64) (*Region, error) { return nil, ErrUnsupported }

func OpenRegion(name string) (*Region, error) { return nil, ErrUnsupported }

func (r *Region) Size() uint64 { return 0 }

func (r *Region) Close() error { return ErrUnsupported }

type Semaphore struct{}

func CreateSemaphore(kernelName string, initial uint32) (*Semaphore, error) {
	return nil, ErrUnsupported
}

func OpenSemaphore(kernelName string) (*Semaphore, error) { return nil, ErrUnsupported }

func (s *Semaphore) Name() string { return "" }

func (s *Semaphore) Value() uint32 { return 0 }

func (s *Semaphore) Post() error { return ErrUnsupported }

func (s *Semaphore) Wait() error { return ErrUnsupported }

func (s *Semaphore) TryWait() error { return ErrUnsupported }

func (s *Semaphore) TimedWait(d time.Duration) error { return ErrUnsupported }

func (s *Semaphore) Close() error { return ErrUnsupported }

func MonotonicMicros() uint64 { return 0 }
