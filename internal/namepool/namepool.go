// Package namepool hands out friendly fallback names for devices that announce
// none of their own.
package namepool

import (
	_ "embed"
	"math/rand/v2"
	"strings"
	"sync"
)

var (
	//go:embed adjectives.txt
	adjectivesText string
	//go:embed nouns.txt
	nounsText string
)

// Pool cycles through a fixed, shuffled list of "adjective-noun" names. Names
// repeat once the list wraps; the resolver suffixes any collision.
type Pool struct {
	mu    sync.Mutex
	names []string
	next  int
}

// New builds the pool and shuffles it deterministically from seed.
func New(seed uint64) *Pool {
	return NewFromWords(words(adjectivesText), words(nounsText), seed)
}

func NewFromWords(adjectives, nouns []string, seed uint64) *Pool {
	names := make([]string, 0, len(adjectives)*len(nouns))
	for _, a := range adjectives {
		for _, n := range nouns {
			names = append(names, a+"-"+n)
		}
	}
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	r.Shuffle(len(names), func(i, j int) { names[i], names[j] = names[j], names[i] })
	return &Pool{names: names}
}

// Next returns the next name. It returns "" only for an empty pool.
func (p *Pool) Next() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.names) == 0 {
		return ""
	}
	name := p.names[p.next]
	p.next = (p.next + 1) % len(p.names)
	return name
}

func (p *Pool) Len() int {
	return len(p.names)
}

func words(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}
