// Package symbolreg maps trading symbols to their constituent base and
// quote assets through an explicit, configured registry.
//
// The legacy source inferred base/quote by slicing the symbol string
// (slice(0,-3) / slice(-3)), assuming every quote asset is exactly three
// characters. That silently misparses anything else (e.g. a 4-character
// quote, or a symbol with a separator). Spec §9 calls this out as a bug
// to fix; this package is the fix.
package symbolreg

import (
	"sync"

	"github.com/kairostrade/matchingcore/internal/apperrors"
)

// Pair is the (base, quote) decomposition of a trading symbol.
type Pair struct {
	Symbol string
	Base   string
	Quote  string
}

// Registry is a thread-safe symbol -> Pair lookup table.
type Registry struct {
	mu    sync.RWMutex
	pairs map[string]Pair
}

// New builds a Registry from a static set of pairs, typically loaded from
// configuration at startup.
func New(pairs ...Pair) *Registry {
	r := &Registry{pairs: make(map[string]Pair, len(pairs))}
	for _, p := range pairs {
		r.pairs[p.Symbol] = p
	}
	return r
}

// Register adds or replaces a symbol's decomposition.
func (r *Registry) Register(p Pair) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pairs[p.Symbol] = p
}

// Decompose looks up a symbol's base and quote assets. It returns
// apperrors.ErrValidation when the symbol is not registered — the caller
// (Submit Order) must reject the order rather than guess at the format.
func (r *Registry) Decompose(symbol string) (Pair, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pairs[symbol]
	if !ok {
		return Pair{}, apperrors.Newf(apperrors.ErrValidation, "symbol %q is not registered", symbol)
	}
	return p, nil
}

// Symbols returns every registered symbol.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.pairs))
	for s := range r.pairs {
		out = append(out, s)
	}
	return out
}
