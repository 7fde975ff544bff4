package rotation

import (
	"math/rand/v2"
	"sync"
)

// DefaultIdentities is the built-in user agent catalog.
var DefaultIdentities = []string{
	"Mozilla/5.0 (Macintosh Intel Mac OS X 10_10_1) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/41.0.2227.1 Safari/537.36",
	"Mozilla/5.0 (compatible MSIE 10.0 Windows NT 6.1 Trident/4.0 InfoPath.2 SV1 .NET CLR 2.0.50727 WOW64)",
	"Mozilla/5.0 (compatible MSIE 9.0 Windows NT 6.1 Win64 x64 Trident/5.0 .NET CLR 3.5.30729 .NET CLR 3.0.30729 .NET CLR 2.0.50727 Media Center PC 6.0)",
	"Mozilla/5.0 (compatible MSIE 8.0 Windows NT 5.2 Trident/4.0 Media Center PC 4.0 SLCC1 .NET CLR 3.0.04320)",
	"Mozilla/4.0 (compatible MSIE 8.0 Windows NT 6.2 Trident/4.0 SLCC2 .NET CLR 2.0.50727 .NET CLR 3.5.30729 .NET CLR 3.0.30729 Media Center PC 6.0)",
	"Mozilla/5.0 (Macintosh Intel Mac OS X 10_10 rv:33.0) Gecko/20100101 Firefox/33.0 Mozilla/5.0 (Windows NT 6.3 rv:36.0) Gecko/20100101 Firefox/36.0",
	"Mozilla/5.0 (Linux U Android 4.0.3 ja - jp LG - L160L Build/IML74K) AppleWebkit/534.30 (KHTML, like Gecko) Version/4.0 Mobile Safari/534.30",
	"Mozilla/5.0 (Linux U Android 4.0.3 ja - jp HTC Sensation Build/IML74K) AppleWebKit/534.30 (KHTML, like Gecko) Version/4.0 Mobile Safari/534.30",
	"Mozilla/5.0 (Linux U Android 2.3 ja - jp) AppleWebKit/999 + (KHTML, like Gecko) Safari/999.9",
	"Mozilla/5.0 (Linux U Android 2.3.5 ja - jp HTC_IncredibleS_S710e Build/GRJ90) AppleWebKit/533.1 (KHTML, like Gecko)",
	"Mozilla/5.0 (compatible; MSIE 9.0; Windows Phone OS 7.5; Trident/5.0; IEMobile/9.0)",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_9_3) AppleWebKit/537.75.14 (KHTML, like Gecko) Version/7.0.3 Safari/7046A194A",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_6_8) AppleWebKit/537.13+ (KHTML, like Gecko) Version/5.1.7 Safari/534.57.2",
}

// IdentityPool samples outbound identities uniformly with replacement.
type IdentityPool struct {
	mu      sync.Mutex
	catalog []string
	rng     *rand.Rand
}

// NewIdentityPool builds a pool over catalog, falling back to DefaultIdentities
// when catalog is empty. A nil rng seeds one from the runtime.
func NewIdentityPool(catalog []string, rng *rand.Rand) *IdentityPool {
	if len(catalog) == 0 {
		catalog = DefaultIdentities
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &IdentityPool{
		catalog: append([]string(nil), catalog...),
		rng:     rng,
	}
}

// Next returns a random identity from the catalog.
func (p *IdentityPool) Next() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.catalog[p.rng.IntN(len(p.catalog))]
}

// Catalog returns a copy of the identities in the pool.
func (p *IdentityPool) Catalog() []string {
	return append([]string(nil), p.catalog...)
}
