package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"tokenflow/internal/config"
	"tokenflow/internal/web3"
	"tokenflow/internal/web3/ethereum"
)

// Options tune the clients the registry connects.
type Options struct {
	PollInterval        time.Duration
	ConfirmationTimeout time.Duration
}

// Registry resolves chain names to definitions and owns the connected clients.
type Registry struct {
	defaultChain string
	defs         map[string]web3.ChainDefinition

	mu      sync.Mutex
	clients map[string]web3.Client
}

// NewRegistry loads chain definitions. A configured RPC URL overrides the
// endpoint of the default chain, or defines a chain named "default" when the
// definitions file is absent.
func NewRegistry(cfg config.Web3Config) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	defaultChain := strings.TrimSpace(cfg.DefaultChain)
	if defaultChain == "" && len(defs.Chains) > 0 {
		names := make([]string, 0, len(defs.Chains))
		for name := range defs.Chains {
			names = append(names, name)
		}
		sort.Strings(names)
		defaultChain = names[0]
	}

	if rpcURL := strings.TrimSpace(cfg.RPCURL); rpcURL != "" {
		if defaultChain == "" {
			defaultChain = "default"
		}
		def := defs.Chains[defaultChain]
		def.RPCURL = rpcURL
		defs.Chains[defaultChain] = def
	}

	if len(defs.Chains) == 0 {
		return nil, errors.New("no chain endpoints configured")
	}
	if _, ok := defs.Chains[defaultChain]; !ok {
		return nil, fmt.Errorf("default chain %q is not defined", defaultChain)
	}

	return &Registry{
		defaultChain: defaultChain,
		defs:         defs.Chains,
		clients:      make(map[string]web3.Client),
	}, nil
}

// DefaultChain returns the name of the default chain.
func (r *Registry) DefaultChain() string {
	return r.defaultChain
}

// Definition returns the named chain definition.
func (r *Registry) Definition(name string) (web3.ChainDefinition, bool) {
	def, ok := r.defs[name]
	return def, ok
}

// Connect dials the named chain, reusing an existing connection.
func (r *Registry) Connect(ctx context.Context, name string, opts Options) (web3.Client, error) {
	if r == nil {
		return nil, errors.New("chain registry is not initialised")
	}
	if name == "" {
		name = r.defaultChain
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[name]; ok {
		return client, nil
	}

	def, ok := r.defs[name]
	if !ok {
		return nil, fmt.Errorf("chain %q is not defined", name)
	}
	chainType := strings.ToLower(strings.TrimSpace(def.Type))
	if chainType == "" {
		chainType = "evm"
	}
	if chainType != "evm" {
		return nil, fmt.Errorf("chain %s uses unsupported type %s", name, def.Type)
	}

	client, err := ethereum.NewClient(ctx, ethereum.Config{
		Name:                name,
		RPCURL:              def.RPCURL,
		ExplorerURL:         def.ExplorerURL,
		Create2Factory:      def.Create2Factory,
		PollInterval:        opts.PollInterval,
		ConfirmationTimeout: opts.ConfirmationTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect chain %s: %w", name, err)
	}

	if def.ChainID != 0 {
		id, err := client.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, err
		}
		if id.Int64() != def.ChainID {
			client.Close()
			return nil, fmt.Errorf("chain %s: endpoint reports chain id %s, expected %d", name, id, def.ChainID)
		}
	}

	r.clients[name] = client
	return client, nil
}

// Chains returns the sorted list of defined chain names.
func (r *Registry) Chains() []string {
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases every connected client.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, client := range r.clients {
		client.Close()
		delete(r.clients, name)
	}
}
