// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sandbox

import (
	"bytes"
	"sync"
)

// cappedBuffer keeps the first limit bytes written and counts the rest.
// Writes never fail so the child is not killed by a broken pipe.
type cappedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
	total int64
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total += int64(len(p))
	if room := c.limit - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

// snapshot returns the captured text, whether anything was dropped and the
// total number of bytes the child produced.
func (c *cappedBuffer) snapshot() (string, bool, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String(), c.total > int64(c.buf.Len()), c.total
}
