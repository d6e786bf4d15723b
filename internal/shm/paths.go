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
	"path/filepath"
	"strings"
)

// ObjectPath resolves a kernel object name like "/qads_x" to its backing
// path. /dev/shm gives shm_open semantics; the temp dir is the fallback on
// hosts without it.
func ObjectPath(kernelName string) string {
	base := strings.TrimPrefix(kernelName, "/")
	return filepath.Join(ObjectDir(), base)
}

// ObjectDir returns the directory holding qads_* kernel objects.
// QADS_SHM_DIR overrides the default, which exists for tests and for hosts
// that mount /dev/shm elsewhere.
func ObjectDir() string {
	if dir := os.Getenv("QADS_SHM_DIR"); dir != "" {
		return dir
	}
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// UnlinkRegion removes the kernel name so the region dies with the last
// mapping. Missing names are not an error.
func UnlinkRegion(name string) error {
	return unlinkObject(RegionKernelName(name))
}

// UnlinkSemaphore removes a semaphore's kernel name. Missing names are not
// an error.
func UnlinkSemaphore(kernelName string) error {
	return unlinkObject(kernelName)
}

func unlinkObject(kernelName string) error {
	err := os.Remove(ObjectPath(kernelName))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: unlink %s: %v", ErrIO, kernelName, err)
	}
	return nil
}
