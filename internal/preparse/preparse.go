// Package preparse is the first stage of the query pipeline. It resolves
// raw user input from an exact-match cache or a small set of regex fast
// paths before the turn ever reaches the LLM.
package preparse

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/cohortql/cohortql/internal/intent"
	"github.com/cohortql/cohortql/internal/query"
)

// DefaultMaxSize bounds the cache when no size is configured.
const DefaultMaxSize = 1000

// evictionWindow is how many of the least-recently-used entries compete
// on usage count when the cache is full. Keeps eviction O(window)
// regardless of cache size.
const evictionWindow = 5

// Fast-path patterns tolerate Spanish morphological variants and
// punctuation. Matched inputs skip the LLM entirely.
var (
	ageGreaterPattern = regexp.MustCompile(`(?i)(?:edad|años?)\s*(?:mayor|más|superior|>)\s*(?:que|a|de)?\s*(\d+)`)
	ageLessPattern    = regexp.MustCompile(`(?i)(?:edad|años?)\s*(?:menor|menos|inferior|<)\s*(?:que|a|de)?\s*(\d+)`)
	conditionPattern  = regexp.MustCompile(`(?i)(?:condición|condicion|enfermedad)\s+(?:es|igual a)?\s*["']?([^"']+)["']?`)
)

// Columns the fast-path patterns resolve to.
const (
	ageColumn       = "Edad"
	conditionColumn = "Descripcion"
)

type entry struct {
	key       string
	intention *intent.Intention
	usage     int
}

// Preparser caches resolved intentions keyed by the exact raw input
// string, case- and whitespace-sensitive. Recency is tracked by position
// in the entries slice (oldest first); usage counts are kept per key.
type Preparser struct {
	mu      sync.Mutex
	entries []*entry
	index   map[string]*entry
	maxSize int
	logger  *zap.Logger
}

// New creates a Preparser. maxSize <= 0 selects DefaultMaxSize.
func New(maxSize int, logger *zap.Logger) *Preparser {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Preparser{
		index:   make(map[string]*entry),
		maxSize: maxSize,
		logger:  logger,
	}
}

// Preparse resolves raw input. It returns (intention, false) on a cache
// hit or regex match, and (nil, true) when the caller must consult the
// LLM and then feed the result back through UpdateCache.
func (p *Preparser) Preparse(text string) (*intent.Intention, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.index[text]; ok {
		p.touch(e)
		e.usage++
		p.logger.Info("cache hit", zap.String("input", text), zap.Int("usage", e.usage))
		return e.intention, false
	}

	if in := matchPattern(text); in != nil {
		p.logger.Info("regex fast path matched", zap.String("input", text))
		p.insert(text, in)
		return in, false
	}

	p.logger.Info("input requires LLM resolution", zap.String("input", text))
	return nil, true
}

// UpdateCache records a resolved intention for the given raw input.
// An existing key is overwritten with a recency and usage bump; a fresh
// key may trigger eviction first.
func (p *Preparser) UpdateCache(key string, in *intent.Intention) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.index[key]; ok {
		e.intention = in
		e.usage++
		p.touch(e)
		return
	}
	p.insert(key, in)
}

// ClearCache empties the cache and all usage counts.
func (p *Preparser) ClearCache() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.entries = nil
	p.index = make(map[string]*entry)
	p.logger.Info("cache cleared")
}

// Size returns the number of cached entries.
func (p *Preparser) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Stats summarizes the cache for operator tooling.
type Stats struct {
	Size      int `json:"size"`
	MaxSize   int `json:"max_size"`
	TotalHits int `json:"total_hits"`
}

// CacheStats returns current occupancy and cumulative usage.
func (p *Preparser) CacheStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := 0
	for _, e := range p.entries {
		total += e.usage
	}
	return Stats{Size: len(p.entries), MaxSize: p.maxSize, TotalHits: total}
}

// touch moves an entry to the most-recently-used position.
func (p *Preparser) touch(e *entry) {
	for i, candidate := range p.entries {
		if candidate == e {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			break
		}
	}
	p.entries = append(p.entries, e)
}

// insert adds a fresh entry with usage 1, evicting first when full.
// Callers hold the lock.
func (p *Preparser) insert(key string, in *intent.Intention) {
	if len(p.entries) >= p.maxSize {
		p.evict()
	}
	e := &entry{key: key, intention: in, usage: 1}
	p.entries = append(p.entries, e)
	p.index[key] = e
}

// evict removes the least-used entry among the oldest evictionWindow
// entries, ties broken by age within that window.
func (p *Preparser) evict() {
	if len(p.entries) == 0 {
		return
	}
	window := evictionWindow
	if window > len(p.entries) {
		window = len(p.entries)
	}

	victim := 0
	for i := 1; i < window; i++ {
		if p.entries[i].usage < p.entries[victim].usage {
			victim = i
		}
	}

	evicted := p.entries[victim]
	p.entries = append(p.entries[:victim], p.entries[victim+1:]...)
	delete(p.index, evicted.key)
	p.logger.Debug("evicted cache entry",
		zap.String("key", evicted.key),
		zap.Int("usage", evicted.usage))
}

// matchPattern tries the fast-path regexes in order and builds a
// full-dataset filter intention on a match.
func matchPattern(text string) *intent.Intention {
	if m := ageGreaterPattern.FindStringSubmatch(text); m != nil {
		age, err := strconv.Atoi(m[1])
		if err == nil {
			return intent.NewCohortFilter(text,
				query.NewLeaf(ageColumn, query.OpGreaterThan, age),
				intent.TargetFullDataset)
		}
	}
	if m := ageLessPattern.FindStringSubmatch(text); m != nil {
		age, err := strconv.Atoi(m[1])
		if err == nil {
			return intent.NewCohortFilter(text,
				query.NewLeaf(ageColumn, query.OpLessThan, age),
				intent.TargetFullDataset)
		}
	}
	if m := conditionPattern.FindStringSubmatch(text); m != nil {
		condition := strings.TrimSpace(m[1])
		if condition != "" {
			return intent.NewCohortFilter(text,
				query.NewLeaf(conditionColumn, query.OpEquals, condition),
				intent.TargetFullDataset)
		}
	}
	return nil
}
