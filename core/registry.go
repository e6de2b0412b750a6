package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]AggregatorClient
}

func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]AggregatorClient)}
}

func (r *ClientRegistry) Register(client AggregatorClient) error {
	if client == nil {
		return fmt.Errorf("core: aggregator client is nil")
	}
	provider := strings.TrimSpace(strings.ToLower(client.Provider()))
	if provider == "" {
		return fmt.Errorf("core: aggregator provider id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[provider]; exists {
		return fmt.Errorf("core: provider already registered: %s", provider)
	}
	r.clients[provider] = client
	return nil
}

func (r *ClientRegistry) Get(provider string) (AggregatorClient, bool) {
	id := strings.TrimSpace(strings.ToLower(provider))
	if id == "" {
		return nil, false
	}
	r.mu.RLock()
	client, ok := r.clients[id]
	r.mu.RUnlock()
	return client, ok
}

func (r *ClientRegistry) List() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.clients))
	for provider := range r.clients {
		keys = append(keys, provider)
	}
	r.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

var _ AggregatorRegistry = (*ClientRegistry)(nil)
