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

	"golang.org/x/sys/unix"
)

// Region is a mapped kernel-named shared memory object. The creating
// producer owns the kernel name and unlinks it on close; consumers only
// unmap.
type Region struct {
	File *os.File
	Mem  []byte
	Path string
}

// CreateRegion creates the kernel-named region exclusively, sizes it to
// totalSize and maps it read/write shared. The mapping comes back
// zero-filled. Fails ErrAlreadyExists when a region of the same name is
// still linked (stale owner or live producer).
func CreateRegion(name string, totalSize uint64) (*Region, error) {
	path := ObjectPath(RegionKernelName(name))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: region %s", ErrAlreadyExists, path)
		}
		return nil, fmt.Errorf("%w: create region %s: %v", ErrIO, path, err)
	}
	cleanup := func() {
		file.Close()
		os.Remove(path)
	}
	if err := file.Truncate(int64(totalSize)); err != nil {
		cleanup()
		return nil, fmt.Errorf("%w: size region to %d bytes: %v", ErrIO, totalSize, err)
	}
	mem, err := unix.Mmap(int(file.Fd()), 0, int(totalSize),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("%w: mmap region: %v", ErrIO, err)
	}
	return &Region{File: file, Mem: mem, Path: path}, nil
}

// OpenRegion maps an existing region. The kernel-reported size wins; the
// caller cross-checks it against the header's totalSize.
func OpenRegion(name string) (*Region, error) {
	path := ObjectPath(RegionKernelName(name))
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: region %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: open region %s: %v", ErrIO, path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: stat region: %v", ErrIO, err)
	}
	size := info.Size()
	if size < int64(HeaderBaseSize+SlotStateSize) {
		file.Close()
		return nil, fmt.Errorf("%w: region is %d bytes, below minimum viable header", ErrCorruptHeader, size)
	}
	mem, err := unix.Mmap(int(file.Fd()), 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: mmap region: %v", ErrIO, err)
	}
	return &Region{File: file, Mem: mem, Path: path}, nil
}

// Size returns the mapped length in bytes.
func (r *Region) Size() uint64 { return uint64(len(r.Mem)) }

// Close unmaps and closes the file handle. It does not unlink; region
// unlinking is the producer's job via UnlinkRegion.
func (r *Region) Close() error {
	var firstErr error
	if r.Mem != nil {
		if err := unix.Munmap(r.Mem); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: munmap: %v", ErrIO, err)
		}
		r.Mem = nil
	}
	if r.File != nil {
		if err := r.File.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: close: %v", ErrIO, err)
		}
		r.File = nil
	}
	return firstErr
}

