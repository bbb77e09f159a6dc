// Package pipvalue resolves, per symbol, the pip size (the smallest
// quoted price increment the strategy reasons in) and the per-lot pip
// value used for position sizing and spread/risk math across
// internal/risk, internal/smc, internal/exposure, internal/exit and
// internal/orchestrator.
//
// Table shape grounded on the teacher's config.ExchangeConfig
// map-keyed-by-name idiom (internal/config/config.go); this is
// Open Question 1 from spec.md §9 ("how is pip size/value resolved per
// symbol"), resolved here as an explicit, overridable table rather than
// inferred from the symbol string.
package pipvalue

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Spec describes one symbol's pip conventions.
type Spec struct {
	PipSize  decimal.Decimal // price increment counted as one pip, e.g. 0.0001 for EURUSD
	PipValuePerLot decimal.Decimal // quote-currency value of one pip move for one standard lot
}

// Table resolves Specs by symbol, falling back to a default for unknown
// symbols so a missing entry degrades rather than panics. Get reports
// ok=false for such a symbol and RequireKnown returns an error, but the
// callers in this module (e.g. internal/risk's position sizing) use the
// fallback rather than rejecting the symbol.
type Table struct {
	specs   map[string]Spec
	fallback Spec
}

// Default five-decimal FX convention: 0.0001 pip size, $10/pip/lot
// approximation on a USD-quote pair. It applies to JPY crosses too; their
// 0.01 pip size needs an explicit entry, as USDJPY has in DefaultTable.
func defaultSpec() Spec {
	return Spec{
		PipSize:        decimal.NewFromFloat(0.0001),
		PipValuePerLot: decimal.NewFromInt(10),
	}
}

// NewTable builds a Table from an explicit symbol->Spec map. A nil or
// empty map is valid; every lookup then uses the fallback.
func NewTable(specs map[string]Spec) *Table {
	return &Table{specs: specs, fallback: defaultSpec()}
}

// DefaultTable returns a Table pre-populated with common FX and metals
// conventions, mirroring the teacher's practice of shipping sane
// defaults alongside user-overridable config.
func DefaultTable() *Table {
	return NewTable(map[string]Spec{
		"EURUSD": {PipSize: decimal.NewFromFloat(0.0001), PipValuePerLot: decimal.NewFromInt(10)},
		"GBPUSD": {PipSize: decimal.NewFromFloat(0.0001), PipValuePerLot: decimal.NewFromInt(10)},
		"AUDUSD": {PipSize: decimal.NewFromFloat(0.0001), PipValuePerLot: decimal.NewFromInt(10)},
		"USDJPY": {PipSize: decimal.NewFromFloat(0.01), PipValuePerLot: decimal.NewFromFloat(9.3)},
		"XAUUSD": {PipSize: decimal.NewFromFloat(0.1), PipValuePerLot: decimal.NewFromInt(10)},
	})
}

// Get returns the Spec for symbol, or the fallback default with ok=false
// when the symbol has no explicit entry.
func (t *Table) Get(symbol string) (Spec, bool) {
	if spec, ok := t.specs[strings.ToUpper(symbol)]; ok {
		return spec, true
	}
	return t.fallback, false
}

// PipsBetween returns the distance between two prices expressed in pips
// for symbol, using the symbol's pip size.
func (t *Table) PipsBetween(symbol string, a, b decimal.Decimal) decimal.Decimal {
	spec, _ := t.Get(symbol)
	if spec.PipSize.IsZero() {
		return decimal.Zero
	}
	return a.Sub(b).Abs().Div(spec.PipSize)
}

// ValueOfPips returns the quote-currency value of pips pips at lotSize
// lots for symbol.
func (t *Table) ValueOfPips(symbol string, pips, lotSize decimal.Decimal) decimal.Decimal {
	spec, _ := t.Get(symbol)
	return pips.Mul(spec.PipValuePerLot).Mul(lotSize)
}

// PipsToPrice converts a pip distance into a raw price distance for
// symbol (pips * pip size) — the inverse of PipsBetween.
func (t *Table) PipsToPrice(symbol string, pips decimal.Decimal) decimal.Decimal {
	spec, _ := t.Get(symbol)
	return pips.Mul(spec.PipSize)
}

// Set registers or overrides the Spec for symbol.
func (t *Table) Set(symbol string, spec Spec) {
	if t.specs == nil {
		t.specs = make(map[string]Spec)
	}
	t.specs[strings.ToUpper(symbol)] = spec
}

// RequireKnown returns an error if symbol has no explicit entry. No code
// path in this module calls it; the Signal Generator and the Risk Service
// use the generic default for an unconfigured instrument.
func (t *Table) RequireKnown(symbol string) error {
	if _, ok := t.Get(symbol); !ok {
		return fmt.Errorf("pipvalue: no pip spec configured for symbol %q", symbol)
	}
	return nil
}
