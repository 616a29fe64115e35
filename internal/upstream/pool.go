// Package upstream holds the ordered set of backend base URLs and the
// round-robin selection over them.
package upstream

import (
	"errors"
	"strings"
	"sync/atomic"
)

// ErrEmptyPool is returned when no upstream hosts are configured.
var ErrEmptyPool = errors.New("no upstream hosts configured")

// Counter is the round-robin pointer. It lives as long as the pool that owns
// it and is shared by all inbound requests.
type Counter struct {
	n atomic.Uint64
}

// NewCounter returns a counter starting at zero.
func NewCounter() *Counter {
	return &Counter{}
}

// next returns the current position and advances it.
func (c *Counter) next() uint64 {
	return c.n.Add(1) - 1
}

// Pool is an ordered, immutable list of upstream base URLs.
type Pool struct {
	hosts   []string
	counter *Counter
}

// NewPool creates a pool over hosts. A nil counter gets a fresh one.
// Hosts are used as given; run them through ParseHosts first.
func NewPool(hosts []string, counter *Counter) *Pool {
	if counter == nil {
		counter = NewCounter()
	}
	return &Pool{
		hosts:   append([]string(nil), hosts...),
		counter: counter,
	}
}

// Next selects hosts[pointer % len] and advances the pointer.
// Selection ignores host health: a failing host keeps its turn.
func (p *Pool) Next() (string, error) {
	if len(p.hosts) == 0 {
		return "", ErrEmptyPool
	}
	idx := p.counter.next() % uint64(len(p.hosts))
	return p.hosts[idx], nil
}

// Len returns the number of hosts.
func (p *Pool) Len() int {
	return len(p.hosts)
}

// Hosts returns a copy of the configured hosts in order.
func (p *Pool) Hosts() []string {
	return append([]string(nil), p.hosts...)
}

// ParseHosts splits a comma-separated host list, trims whitespace and
// trailing slashes, and drops empty entries. The result is never nil.
func ParseHosts(raw string) []string {
	parts := strings.Split(raw, ",")
	hosts := make([]string, 0, len(parts))
	for _, p := range parts {
		h := strings.TrimRight(strings.TrimSpace(p), "/")
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}
