package bounty

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// TokenRegistry is the fixed allow-list of fungible tokens accepted as bounty
// payment. The set is sealed at construction; the native coin is implicitly
// always a valid payment option and is never a member.
type TokenRegistry struct {
	tokens map[common.Address]struct{}
}

// NewTokenRegistry builds a registry from the supplied token addresses.
// The zero address is rejected: it is the native sentinel, and listing it
// would make the sentinel ambiguous.
func NewTokenRegistry(tokens []common.Address) (*TokenRegistry, error) {
	set := make(map[common.Address]struct{}, len(tokens))
	for _, addr := range tokens {
		if addr == NativeToken {
			return nil, fmt.Errorf("%w: token cannot be the zero address", ErrUnsupportedToken)
		}
		set[addr] = struct{}{}
	}
	return &TokenRegistry{tokens: set}, nil
}

// IsSupported reports whether the address is a valid payment asset: the
// native sentinel or a registered token.
func (r *TokenRegistry) IsSupported(addr common.Address) bool {
	if addr == NativeToken {
		return true
	}
	return r.IsTokenSupported(addr)
}

// IsTokenSupported reports registry membership only. The native sentinel is
// not a member, so an explicit fungible-token check for it returns false.
func (r *TokenRegistry) IsTokenSupported(addr common.Address) bool {
	if r == nil {
		return false
	}
	_, ok := r.tokens[addr]
	return ok
}

// Tokens returns the registered addresses in a stable order.
func (r *TokenRegistry) Tokens() []common.Address {
	if r == nil {
		return nil
	}
	out := make([]common.Address, 0, len(r.tokens))
	for addr := range r.tokens {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Hex() < out[j].Hex()
	})
	return out
}
