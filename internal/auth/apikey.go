package auth

import (
	"sync"
)

// APIKeyStore manages API keys and their associated principals
type APIKeyStore struct {
	mu   sync.RWMutex
	keys map[string]*Principal
}

// NewAPIKeyStore creates a new API key store
func NewAPIKeyStore() *APIKeyStore {
	return &APIKeyStore{
		keys: make(map[string]*Principal),
	}
}

// AddKey adds an API key with its associated principal
func (s *APIKeyStore) AddKey(apiKey string, principal *Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[apiKey] = principal
}

// GetPrincipal retrieves a principal by API key
func (s *APIKeyStore) GetPrincipal(apiKey string) (*Principal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	principal, ok := s.keys[apiKey]
	return principal, ok
}

// PrincipalByID retrieves a stored principal record by principal ID. Bearer
// token subjects are resolved through this so JWT callers carry the same
// platform mappings as API key callers.
func (s *APIKeyStore) PrincipalByID(principalID string) (*Principal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, principal := range s.keys {
		if principal.PrincipalID == principalID {
			return principal, true
		}
	}
	return nil, false
}

// RemoveKey removes an API key
func (s *APIKeyStore) RemoveKey(apiKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, apiKey)
}

// InitializeDefaultAPIKeys sets up default API keys for testing
// In production, these would come from a database or configuration
func InitializeDefaultAPIKeys() *APIKeyStore {
	store := NewAPIKeyStore()

	// Add a test API key with full permissions
	store.AddKey("test_api_key_full_access", &Principal{
		PrincipalID: "principal_test_full",
		Name:        "Test Buyer (full access)",
		Permissions: map[string][]Permission{
			"products":   {PermissionRead},
			"media_buys": {PermissionRead, PermissionWrite},
			"creatives":  {PermissionRead, PermissionWrite},
			"reports":    {PermissionRead, PermissionWrite},
		},
		PlatformMappings: map[string]map[string]string{
			"mock":   {"advertiser_id": "mock_adv_1"},
			"kevel":  {"advertiser_id": "10001"},
			"triton": {"advertiser_id": "TR-2001"},
			"gam":    {"advertiser_id": "30001"},
			"xandr":  {"advertiser_id": "40001"},
		},
	})

	// Add a read-only API key
	store.AddKey("test_api_key_readonly", &Principal{
		PrincipalID: "principal_test_readonly",
		Name:        "Test Buyer (read only)",
		Permissions: map[string][]Permission{
			"products":   {PermissionRead},
			"media_buys": {PermissionRead},
			"creatives":  {PermissionRead},
			"reports":    {PermissionRead},
		},
		PlatformMappings: map[string]map[string]string{
			"mock": {"advertiser_id": "mock_adv_2"},
		},
	})

	return store
}
