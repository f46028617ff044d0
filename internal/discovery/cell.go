package discovery

import (
	"context"
	"sync/atomic"
)

// HostCell holds the resolved private host. It is written at most once and never cleared.
type HostCell struct {
	host atomic.Pointer[string]
	done chan struct{}
}

// NewHostCell creates an empty HostCell.
func NewHostCell() *HostCell {
	return &HostCell{done: make(chan struct{})}
}

// Get returns the resolved host, if any.
func (c *HostCell) Get() (string, bool) {
	if h := c.host.Load(); h != nil {
		return *h, true
	}
	return "", false
}

// Set stores host if the cell is still empty. It reports whether this call won.
func (c *HostCell) Set(host string) bool {
	if !c.host.CompareAndSwap(nil, &host) {
		return false
	}
	close(c.done)
	return true
}

// Wait blocks until the cell is set or ctx is done.
func (c *HostCell) Wait(ctx context.Context) (string, error) {
	select {
	case <-c.done:
		h, _ := c.Get()
		return h, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
