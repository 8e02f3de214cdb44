package token

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry maps token contract addresses to the Token capability the
// engine uses to reach them.
type Registry struct {
	mu     sync.RWMutex
	tokens map[common.Address]Token
}

func NewRegistry() *Registry {
	return &Registry{tokens: make(map[common.Address]Token)}
}

func (r *Registry) Register(addr common.Address, t Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[addr] = t
}

func (r *Registry) Get(addr common.Address) (Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tokens[addr]
	if !ok {
		return nil, fmt.Errorf("token %s: %w", addr.Hex(), ErrUnknownToken)
	}
	return t, nil
}

func (r *Registry) Addresses() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]common.Address, 0, len(r.tokens))
	for addr := range r.tokens {
		out = append(out, addr)
	}
	return out
}
