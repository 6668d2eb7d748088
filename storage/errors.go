// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that the requested key was not found.
	ErrNotFound = errors.New("key not found")

	// ErrTransactionFailed indicates that a transaction failed to commit.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrStorageClosed indicates that the storage backend is closed.
	ErrStorageClosed = errors.New("storage is closed")

	// ErrSerializationFailed indicates a serialization/deserialization failure.
	ErrSerializationFailed = errors.New("serialization failed")

	// ErrTruncatedData indicates that data was truncated during reading.
	ErrTruncatedData = errors.New("truncated data")

	// ErrAdapterUnavailable indicates the underlying backend is unreachable.
	ErrAdapterUnavailable = errors.New("storage adapter unavailable")
)

// CorruptError reports a mismatch between stored bytes and their expected
// identity. Ground-truth corruption is never silently patched; the caller
// gets the key and both hashes to decide on recovery.
type CorruptError struct {
	Key      string
	Expected string
	Actual   string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt data at %s: expected hash %s, got %s", e.Key, e.Expected, e.Actual)
}

// IsCorrupt reports whether err is a CorruptError.
func IsCorrupt(err error) bool {
	var ce *CorruptError
	return errors.As(err, &ce)
}
