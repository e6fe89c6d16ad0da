package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Fake is an in-process Store used by tests and by deployments with no
// vector backend configured. Recall does a trivial substring-overlap
// ranking rather than real embeddings, which is enough to exercise the
// PromptAssembler/AgentRuntime's {context} wiring without a database.
type Fake struct {
	mu    sync.RWMutex
	items map[string][]string // key: tenant\x00agent\x00conversation
}

// NewFake builds an empty Fake store.
func NewFake() *Fake {
	return &Fake{items: make(map[string][]string)}
}

func key(tenant, agent, conversation string) string {
	return tenant + "\x00" + agent + "\x00" + conversation
}

func (f *Fake) Store(ctx context.Context, tenant, agent, conversation string, messages []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(tenant, agent, conversation)
	f.items[k] = append(f.items[k], messages...)
	return nil
}

func (f *Fake) Recall(ctx context.Context, tenant, agent, query string, limit int) ([]Snippet, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	prefix := tenant + "\x00" + agent + "\x00"
	var candidates []string
	for k, msgs := range f.items {
		if strings.HasPrefix(k, prefix) {
			candidates = append(candidates, msgs...)
		}
	}

	queryLower := strings.ToLower(query)
	var ranked []Snippet
	for _, c := range candidates {
		score := 0.0
		if queryLower != "" && strings.Contains(strings.ToLower(c), queryLower) {
			score = 1.0
		}
		ranked = append(ranked, Snippet{Text: c, Score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

func (f *Fake) Clear(ctx context.Context, tenant, agent, conversation string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, key(tenant, agent, conversation))
	return nil
}
