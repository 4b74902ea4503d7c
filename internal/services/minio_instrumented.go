package services

import (
	"io"
	"time"
)

// countingReader tracks bytes and time spent reading a backup download.
type countingReader struct {
	r         io.Reader
	bytes     int64
	readTime  time.Duration
	firstByte time.Time
}

func newCountingReader(r io.Reader) *countingReader { return &countingReader{r: r} }

func (c *countingReader) Read(p []byte) (int, error) {
	t0 := time.Now()
	n, err := c.r.Read(p)
	c.readTime += time.Since(t0)
	if n > 0 && c.firstByte.IsZero() {
		c.firstByte = time.Now()
	}
	c.bytes += int64(n)
	return n, err
}

func (c *countingReader) Stats() (bytes int64, readMs int64) {
	return c.bytes, c.readTime.Milliseconds()
}
