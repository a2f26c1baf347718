// Package bundled holds the fallback poem sets served when the remote
// endpoint is unavailable or the language has no remote source.
package bundled

import (
	"embed"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"

	"poetry-feed/pkg/domain"
)

//go:embed data/*.json
var dataFS embed.FS

// Pool is the per-language set of fallback poems. Repeats across shuffles
// are expected.
type Pool struct {
	mu   sync.RWMutex
	sets map[domain.Language][]domain.Poem
	intN func(n int) int
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{
		sets: make(map[domain.Language][]domain.Poem),
		intN: rand.IntN,
	}
}

// Default returns a pool seeded with the embedded Persian and English sets.
func Default() (*Pool, error) {
	p := NewPool()
	for _, lang := range []domain.Language{domain.Persian, domain.English} {
		poems, err := loadEmbedded(lang)
		if err != nil {
			return nil, err
		}
		p.Extend(lang, poems)
	}
	return p, nil
}

// MustDefault is Default for package-level setup.
func MustDefault() *Pool {
	p, err := Default()
	if err != nil {
		panic(err)
	}
	return p
}

func loadEmbedded(lang domain.Language) ([]domain.Poem, error) {
	data, err := dataFS.ReadFile("data/" + string(lang) + ".json")
	if err != nil {
		return nil, fmt.Errorf("read bundled %s poems: %w", lang, err)
	}
	var poems []domain.Poem
	if err := json.Unmarshal(data, &poems); err != nil {
		return nil, fmt.Errorf("decode bundled %s poems: %w", lang, err)
	}
	return poems, nil
}

// WithRand replaces the index source used by Shuffled. intN(n) must return
// a value in [0, n).
func (p *Pool) WithRand(intN func(n int) int) *Pool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.intN = intN
	return p
}

// Extend appends valid poems to lang's set and returns how many were added.
func (p *Pool) Extend(lang domain.Language, poems []domain.Poem) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	added := 0
	for _, poem := range poems {
		if !poem.Valid() {
			continue
		}
		p.sets[lang] = append(p.sets[lang], poem)
		added++
	}
	return added
}

// Set returns a copy of lang's poems in their stored order.
func (p *Pool) Set(lang domain.Language) []domain.Poem {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]domain.Poem(nil), p.sets[lang]...)
}

// Shuffled returns a fresh random permutation of lang's poems, falling back
// to the Persian set for a language without poems of its own.
func (p *Pool) Shuffled(lang domain.Language) []domain.Poem {
	poems := p.Set(lang)
	if len(poems) == 0 && lang != domain.Persian {
		poems = p.Set(domain.Persian)
	}
	p.mu.RLock()
	intN := p.intN
	p.mu.RUnlock()
	Shuffle(poems, intN)
	return poems
}

// Shuffle permutes s in place with Fisher-Yates: every element has equal
// probability of landing in each position.
func Shuffle[T any](s []T, intN func(n int) int) {
	for i := len(s) - 1; i > 0; i-- {
		j := intN(i + 1)
		s[i], s[j] = s[j], s[i]
	}
}
