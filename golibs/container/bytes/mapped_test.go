// Copyright 2023 The acquirecloud Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package bytes

import (
	"testing"

	"github.com/borealisdb/borealis/golibs/errors"
	"github.com/stretchr/testify/assert"
)

func TestNewMappedBytes(t *testing.T) {
	_, err := NewMappedBytes(0, false)
	assert.True(t, errors.Is(err, errors.ErrInvalid))

	mb, err := NewMappedBytes(4096, true)
	assert.Nil(t, err)
	assert.Equal(t, int64(4096), mb.Size())
	assert.Nil(t, mb.Close())
	assert.NotNil(t, mb.Close())
}

func TestMappedBytesBuffer(t *testing.T) {
	mb, err := NewMappedBytes(8192, false)
	assert.Nil(t, err)
	defer mb.Close()

	buf, err := mb.Buffer(0, 10)
	assert.Nil(t, err)
	assert.Equal(t, 10, len(buf))
	for _, b := range buf {
		assert.Equal(t, byte(0), b)
	}

	copy(buf, "hello")
	buf2, err := mb.Buffer(0, 5)
	assert.Nil(t, err)
	assert.Equal(t, "hello", string(buf2))

	// the region beyond the end is truncated
	buf3, err := mb.Buffer(8190, 10)
	assert.Nil(t, err)
	assert.Equal(t, 2, len(buf3))

	_, err = mb.Buffer(8192, 1)
	assert.True(t, errors.Is(err, errors.ErrInvalid))

	_, err = mb.Buffer(-1, 1)
	assert.True(t, errors.Is(err, errors.ErrInvalid))
}

func TestMappedBytesGrow(t *testing.T) {
	mb, err := NewMappedBytes(4096, false)
	assert.Nil(t, err)
	defer mb.Close()
	assert.NotNil(t, mb.Grow(8192))
}

func TestMappedBytesClosed(t *testing.T) {
	mb, err := NewMappedBytes(4096, false)
	assert.Nil(t, err)
	assert.Nil(t, mb.Close())
	_, err = mb.Buffer(0, 1)
	assert.True(t, errors.Is(err, errors.ErrClosed))
	assert.True(t, errors.Is(mb.Grow(8192), errors.ErrClosed))
}
