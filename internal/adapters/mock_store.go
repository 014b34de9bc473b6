package adapters

import (
	"sync"
	"time"

	"github.com/admesh/adcp-sales-agent/internal/api"
)

// MockMediaBuy is the full synthesized record the mock adapter keeps for one
// created media buy: packages, budget, attached creatives, and the parsed
// test scenario replayed by delivery reporting. A simulation convenience,
// not a source of truth.
type MockMediaBuy struct {
	MediaBuyID  string
	BuyerRef    string
	PONumber    string
	StrategyID  string
	Packages    []api.MediaPackage
	Pricing     map[string]api.PackagePricingInfo
	TotalBudget float64
	Currency    string
	StartTime   time.Time
	EndTime     time.Time
	Scenario    Scenario

	Paused           bool
	PausedPackages   map[string]bool
	CreativeIDs      []string
	PerformanceIndex map[string]float64
}

// MediaBuyStore indexes mock media buys by media_buy_id. Constructed once
// per process or per test and passed in, never shared as package state, so
// tests cannot leak buys into each other. Mutations are upserts under a
// single lock; operations target disjoint IDs in practice.
type MediaBuyStore struct {
	mu   sync.RWMutex
	buys map[string]*MockMediaBuy
}

func NewMediaBuyStore() *MediaBuyStore {
	return &MediaBuyStore{buys: make(map[string]*MockMediaBuy)}
}

func (s *MediaBuyStore) Put(buy *MockMediaBuy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buys[buy.MediaBuyID] = buy
}

// Get returns a shallow snapshot of the record.
func (s *MediaBuyStore) Get(mediaBuyID string) (MockMediaBuy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buy, ok := s.buys[mediaBuyID]
	if !ok {
		return MockMediaBuy{}, false
	}
	return *buy, true
}

// Update applies fn to the stored record under the lock. Returns false when
// the ID is unknown.
func (s *MediaBuyStore) Update(mediaBuyID string, fn func(*MockMediaBuy)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	buy, ok := s.buys[mediaBuyID]
	if !ok {
		return false
	}
	fn(buy)
	return true
}

func (s *MediaBuyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buys)
}
