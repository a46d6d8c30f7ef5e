package market_watcher

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// seenSet remembers listing ids already acted on. It is bounded; the least
// recently touched id is evicted first. Safe for concurrent use.
type seenSet struct {
	cache *lru.Cache[string, struct{}]
}

func newSeenSet(capacity int) (*seenSet, error) {
	cache, err := lru.New[string, struct{}](capacity)
	if err != nil {
		return nil, err
	}
	return &seenSet{cache: cache}, nil
}

// Seen reports whether id was acted on and refreshes its recency.
func (s *seenSet) Seen(id string) bool {
	_, ok := s.cache.Get(id)
	return ok
}

// Add marks id as acted on and reports whether another id was evicted.
func (s *seenSet) Add(id string) bool {
	return s.cache.Add(id, struct{}{})
}

func (s *seenSet) Len() int {
	return s.cache.Len()
}
