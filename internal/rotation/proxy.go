// Package rotation provides the proxy and identity pools cycled across fetches.
package rotation

import (
	"sync"

	"github.com/JakeFAU/gentlevisitor/internal/visitor"
)

// ProxyPool is a deterministic round-robin selector over a fixed list of proxies.
type ProxyPool struct {
	mu      sync.Mutex
	proxies []visitor.Proxy
	front   int
}

// NewProxyPool copies proxies into a new pool. An empty pool means no proxy.
func NewProxyPool(proxies []visitor.Proxy) *ProxyPool {
	out := make([]visitor.Proxy, 0, len(proxies))
	for _, p := range proxies {
		cp := make(visitor.Proxy, len(p))
		for scheme, addr := range p {
			cp[scheme] = addr
		}
		out = append(out, cp)
	}
	return &ProxyPool{proxies: out}
}

// Next rotates the pool right by one position and returns the new front.
// For [A, B, C] successive calls yield C, B, A, C, ...
// ok is false when the pool is empty.
func (p *ProxyPool) Next() (visitor.Proxy, bool) {
	if p == nil {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.proxies)
	if n == 0 {
		return nil, false
	}
	p.front = (p.front - 1 + n) % n
	return p.proxies[p.front], true
}

// Len returns the number of proxies in the pool.
func (p *ProxyPool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.proxies)
}
