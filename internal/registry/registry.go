package registry

import (
	"sort"
	"strings"

	"github.com/marketbrief/marketbrief/internal/config"
	"github.com/marketbrief/marketbrief/internal/models"
)

// Registry is the static list of tracked instruments. It is immutable
// after construction; adding or removing tickers is a config change.
type Registry struct {
	instruments []models.Instrument
	bySymbol    map[string]models.Instrument
}

// FromConfig builds the registry from the configured ticker list.
func FromConfig(tickers []config.TickerConfig) *Registry {
	r := &Registry{bySymbol: make(map[string]models.Instrument, len(tickers))}
	for _, t := range tickers {
		symbol := strings.ToUpper(strings.TrimSpace(t.Symbol))
		if symbol == "" {
			continue
		}
		if _, dup := r.bySymbol[symbol]; dup {
			continue
		}
		inst := models.Instrument{Symbol: symbol, Name: t.Name}
		r.bySymbol[symbol] = inst
		r.instruments = append(r.instruments, inst)
	}
	sort.Slice(r.instruments, func(i, j int) bool {
		return r.instruments[i].Symbol < r.instruments[j].Symbol
	})
	return r
}

// All returns every registered instrument in symbol order.
func (r *Registry) All() []models.Instrument {
	out := make([]models.Instrument, len(r.instruments))
	copy(out, r.instruments)
	return out
}

// Lookup resolves a symbol, case-insensitively.
func (r *Registry) Lookup(symbol string) (models.Instrument, bool) {
	inst, ok := r.bySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	return inst, ok
}

// Len reports the number of registered instruments.
func (r *Registry) Len() int { return len(r.instruments) }
