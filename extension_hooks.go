package banklink

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-banklink/core"
)

// ClientPack is a named group of aggregator clients that a host application
// registers in one step, for example every regional TrueLayer tenant.
type ClientPack struct {
	Name    string
	Clients []core.AggregatorClient
}

type CommandBundleFactory func(service CommandService) (any, error)

// ExtensionHooks lets embedding applications contribute aggregator clients
// and command bundles before the service is wired.
type ExtensionHooks struct {
	mu sync.RWMutex

	clientPacks map[string]ClientPack
	bundles     map[string]CommandBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		clientPacks: map[string]ClientPack{},
		bundles:     map[string]CommandBundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterClientPack(pack ClientPack) error {
	if h == nil {
		return fmt.Errorf("banklink: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("banklink: client pack name is required")
	}
	if len(pack.Clients) == 0 {
		return fmt.Errorf("banklink: client pack %q has no clients", name)
	}

	normalized := ClientPack{
		Name:    name,
		Clients: append([]core.AggregatorClient(nil), pack.Clients...),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.clientPacks[name]; exists {
		return fmt.Errorf("banklink: client pack %q already registered", name)
	}
	h.clientPacks[name] = normalized
	return nil
}

func (h *ExtensionHooks) RegisterCommandBundle(name string, factory CommandBundleFactory) error {
	if h == nil {
		return fmt.Errorf("banklink: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("banklink: command bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("banklink: command bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("banklink: command bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

// ApplyClientPacks registers every contributed client with the registry in
// deterministic pack order.
func (h *ExtensionHooks) ApplyClientPacks(registry core.AggregatorRegistry) error {
	if h == nil {
		return nil
	}
	if registry == nil {
		return fmt.Errorf("banklink: registry is required")
	}

	for _, pack := range h.ClientPacks() {
		for _, client := range pack.Clients {
			if client == nil {
				return fmt.Errorf("banklink: client pack %q contains nil client", pack.Name)
			}
			if err := registry.Register(client); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *ExtensionHooks) BuildCommandBundles(service CommandService) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if service == nil {
		return nil, fmt.Errorf("banklink: command service is required")
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	factories := make(map[string]CommandBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		factories[name] = factory
	}
	h.mu.RUnlock()

	result := make(map[string]any, len(names))
	for _, name := range names {
		bundle, err := factories[name](service)
		if err != nil {
			return nil, err
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) ClientPacks() []ClientPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.clientPacks))
	for name := range h.clientPacks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ClientPack, 0, len(names))
	for _, name := range names {
		pack := h.clientPacks[name]
		out = append(out, ClientPack{
			Name:    pack.Name,
			Clients: append([]core.AggregatorClient(nil), pack.Clients...),
		})
	}
	return out
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
