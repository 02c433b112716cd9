package bounty

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestRegistryRejectsZeroAddress(t *testing.T) {
	_, err := NewTokenRegistry([]common.Address{testUSDC, NativeToken})
	if !errors.Is(err, ErrUnsupportedToken) {
		t.Fatalf("expected ErrUnsupportedToken, got %v", err)
	}
}

func TestRegistryMembership(t *testing.T) {
	registry, err := NewTokenRegistry([]common.Address{testUSDC, testUSDT})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	if !registry.IsSupported(NativeToken) {
		t.Fatalf("native sentinel is always a valid payment asset")
	}
	if registry.IsTokenSupported(NativeToken) {
		t.Fatalf("native sentinel is never a registry member")
	}
	if !registry.IsSupported(testUSDC) || !registry.IsTokenSupported(testUSDC) {
		t.Fatalf("registered token should be supported")
	}
	unknown := newTestAddress(0xDD)
	if registry.IsSupported(unknown) || registry.IsTokenSupported(unknown) {
		t.Fatalf("unknown token should not be supported")
	}
}

func TestRegistryTokensStableOrder(t *testing.T) {
	registry, err := NewTokenRegistry([]common.Address{testUSDT, testUSDC})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	first := registry.Tokens()
	second := registry.Tokens()
	if len(first) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(first))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("token order is not stable")
		}
	}
	if first[0].Hex() >= first[1].Hex() {
		t.Fatalf("tokens not sorted: %s %s", first[0].Hex(), first[1].Hex())
	}
}

func TestEmptyRegistryIsValid(t *testing.T) {
	registry, err := NewTokenRegistry(nil)
	if err != nil {
		t.Fatalf("empty registry: %v", err)
	}
	if !registry.IsSupported(NativeToken) {
		t.Fatalf("native-only deployments must still accept the native coin")
	}
	if registry.IsTokenSupported(testUSDC) {
		t.Fatalf("empty registry supports no tokens")
	}
}
