package pipvalue

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTable_PipsBetween(t *testing.T) {
	tbl := DefaultTable()
	pips := tbl.PipsBetween("EURUSD", decimal.NewFromFloat(1.1050), decimal.NewFromFloat(1.1000))
	assert.True(t, pips.Equal(decimal.NewFromInt(50)))
}

func TestTable_UnknownSymbolFallsBackButReportsNotOK(t *testing.T) {
	tbl := DefaultTable()
	_, ok := tbl.Get("GBPJPY")
	assert.False(t, ok)
	assert.Error(t, tbl.RequireKnown("GBPJPY"))
}

func TestTable_SetOverridesEntry(t *testing.T) {
	tbl := DefaultTable()
	tbl.Set("EURUSD", Spec{PipSize: decimal.NewFromFloat(0.0001), PipValuePerLot: decimal.NewFromInt(7)})
	spec, ok := tbl.Get("EURUSD")
	assert.True(t, ok)
	assert.True(t, spec.PipValuePerLot.Equal(decimal.NewFromInt(7)))
}

func TestTable_ValueOfPips(t *testing.T) {
	tbl := DefaultTable()
	val := tbl.ValueOfPips("EURUSD", decimal.NewFromInt(20), decimal.NewFromFloat(0.5))
	assert.True(t, val.Equal(decimal.NewFromInt(100)))
}
