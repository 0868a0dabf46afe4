package retrieval

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/knowhq/sable/pkg/model"
)

// Fact is a stored knowledge chunk with its access metadata
type Fact struct {
	Content string
	Source  string
	Page    string
	ACL     model.FactACL
}

// MemoryStore is an in-process KnowledgeStore for tests and local runs.
// Ranking is keyword overlap; both paths enforce the scope predicate
// through AccessScope.Allows.
type MemoryStore struct {
	mu    sync.RWMutex
	facts []Fact
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Add appends facts to the store
func (s *MemoryStore) Add(facts ...Fact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts = append(s.facts, facts...)
}

func (s *MemoryStore) HybridSearch(ctx context.Context, query string, topK int, scope model.AccessScope) (model.Evidence, error) {
	return s.search(query, topK, scope)
}

func (s *MemoryStore) StructuredQuery(ctx context.Context, query string, topK int, scope model.AccessScope) (model.Evidence, error) {
	return s.search(query, topK, scope)
}

func (s *MemoryStore) search(query string, topK int, scope model.AccessScope) (model.Evidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	terms := strings.Fields(strings.ToLower(query))

	var evidence model.Evidence
	for _, fact := range s.facts {
		if !scope.Allows(fact.ACL) {
			continue
		}

		score := overlapScore(strings.ToLower(fact.Content), terms)
		if score == 0 {
			continue
		}

		evidence = append(evidence, model.EvidenceItem{
			Source:  fact.Source,
			Page:    fact.Page,
			Score:   score,
			Content: fact.Content,
		})
	}

	sort.SliceStable(evidence, func(i, j int) bool {
		return evidence[i].Score > evidence[j].Score
	})

	if len(evidence) > topK {
		evidence = evidence[:topK]
	}

	return evidence, nil
}

func overlapScore(content string, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	var hits int
	for _, t := range terms {
		if strings.Contains(content, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}
