// Package sacommittee caches committees extracted by sortition.
package sacommittee

import (
	"fmt"

	"github.com/gordian-engine/gsa/sa/saconsensus"
	lru "github.com/hashicorp/golang-lru/v2"
)

type key struct {
	provisioners *saconsensus.Provisioners

	seed  string
	round uint64
	step  uint8
	size  int
}

// Cache memoizes [saconsensus.ExtractCommittee].
//
// Extraction is pure, so concurrent misses for the same key
// may both compute the committee; the results are identical.
// The underlying cache lock is held only for the lookup or insert.
type Cache struct {
	c *lru.Cache[key, *saconsensus.Committee]
}

// New returns a cache holding at most size committees.
func New(size int) (*Cache, error) {
	c, err := lru.New[key, *saconsensus.Committee](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create committee cache: %w", err)
	}
	return &Cache{c: c}, nil
}

// Committee returns the committee for cfg over p,
// extracting and caching it on a miss.
func (c *Cache) Committee(p *saconsensus.Provisioners, cfg saconsensus.SortitionConfig) *saconsensus.Committee {
	k := key{
		provisioners: p,
		seed:         string(cfg.Seed),
		round:        cfg.Round,
		step:         cfg.Step,
		size:         cfg.CommitteeSize,
	}

	if com, ok := c.c.Get(k); ok {
		return com
	}

	com := saconsensus.ExtractCommittee(p, cfg)
	c.c.Add(k, com)
	return com
}

// Len returns the number of cached committees.
func (c *Cache) Len() int {
	return c.c.Len()
}
