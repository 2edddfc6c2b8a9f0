package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"Swapper-Chain/internal/config"
	"Swapper-Chain/internal/swap"
	"Swapper-Chain/internal/web3"
	"Swapper-Chain/internal/web3/ethereum"
	"Swapper-Chain/internal/web3/simulated"
)

// Registry manages a set of chain clients keyed by human readable names.
type Registry struct {
	mu           sync.RWMutex
	defaultChain string
	clients      map[string]web3.Client
	definitions  map[string]web3.ChainDefinition
}

// NewRegistry loads chain definitions and instantiates concrete clients.
func NewRegistry(ctx context.Context, cfg config.Web3Config) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}
	deadline := swap.DeadlinePolicy{Offset: cfg.DeadlineOffset()}

	r := &Registry{
		clients:     make(map[string]web3.Client),
		definitions: make(map[string]web3.ChainDefinition),
	}
	for name, chain := range defs.Chains {
		client, err := newClient(ctx, name, chain, deadline)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		r.clients[name] = client
		r.definitions[name] = chain
	}

	if len(r.clients) == 0 {
		return nil, errors.New("未配置任何链")
	}
	if err := r.SetDefault(cfg.DefaultChain); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// NewStaticRegistry wraps already constructed clients.
func NewStaticRegistry(defaultChain string, clients map[string]web3.Client) (*Registry, error) {
	r := &Registry{
		clients:     make(map[string]web3.Client, len(clients)),
		definitions: make(map[string]web3.ChainDefinition),
	}
	for name, client := range clients {
		r.clients[name] = client
	}
	if len(r.clients) == 0 {
		return nil, errors.New("未配置任何链")
	}
	if err := r.SetDefault(defaultChain); err != nil {
		return nil, err
	}
	return r, nil
}

func newClient(ctx context.Context, name string, chain web3.ChainDefinition, deadline swap.DeadlinePolicy) (web3.Client, error) {
	switch strings.ToLower(strings.TrimSpace(chain.Type)) {
	case "", web3.ChainTypeEVM:
		router, err := chain.ResolveAddress(chain.Router)
		if err != nil {
			return nil, err
		}
		base, err := chain.ResolveAddress(chain.BaseAsset)
		if err != nil {
			return nil, err
		}
		swapper, err := chain.ResolveAddress(chain.Executor)
		if err != nil {
			return nil, err
		}
		var privateKey string
		if chain.PrivateKeyEnv != "" {
			privateKey = os.Getenv(chain.PrivateKeyEnv)
		}
		return ethereum.NewClient(ctx, ethereum.Config{
			Name:       name,
			RPCURL:     chain.RPCURL,
			ChainID:    chain.ChainID,
			Notes:      chain.Description,
			Router:     router,
			BaseAsset:  base,
			Swapper:    swapper,
			PrivateKey: privateKey,
			GasLimit:   chain.GasLimit,
			Deadline:   deadline,
		})
	case web3.ChainTypeSimulated:
		return simulated.NewClient(name, chain, deadline)
	default:
		return nil, fmt.Errorf("不支持的链类型 %s", chain.Type)
	}
}

// SetDefault selects the default chain; an empty name picks the first chain
// in name order.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name == "" {
		names := r.namesLocked()
		if len(names) == 0 {
			return errors.New("未配置任何链")
		}
		name = names[0]
	}
	if _, ok := r.clients[name]; !ok {
		return fmt.Errorf("默认链 %s 未在配置中找到", name)
	}
	r.defaultChain = name
	return nil
}

// DefaultChain returns the name of the default chain.
func (r *Registry) DefaultChain() string {
	if r == nil {
		return ""
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultChain
}

// DefaultClient returns the client configured as default chain.
func (r *Registry) DefaultClient() (web3.Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[r.defaultChain]
	if !ok {
		return nil, fmt.Errorf("默认链 %s 未在注册表中", r.defaultChain)
	}
	return client, nil
}

// Client returns the chain client identified by name.
func (r *Registry) Client(name string) (web3.Client, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[name]
	return client, ok
}

// Resolve returns the named client, or the default one when name is empty.
func (r *Registry) Resolve(name string) (web3.Client, error) {
	if strings.TrimSpace(name) == "" {
		return r.DefaultClient()
	}
	client, ok := r.Client(name)
	if !ok {
		return nil, fmt.Errorf("链 %s 未注册", name)
	}
	return client, nil
}

// Definition returns the chain definition a client was built from. Clients
// registered through NewStaticRegistry have none.
func (r *Registry) Definition(name string) (web3.ChainDefinition, bool) {
	if r == nil {
		return web3.ChainDefinition{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.defaultChain
	}
	def, ok := r.definitions[name]
	return def, ok
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, name)
	}
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
