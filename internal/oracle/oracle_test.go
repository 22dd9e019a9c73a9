package oracle

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/averrone/exchange/internal/errs"
)

func TestDrift_GetQuote(t *testing.T) {
	opening := decimal.NewFromInt(50000)
	d := NewDrift(map[string]decimal.Decimal{"BTC/USDT": opening})

	quote, err := d.GetQuote("BTC/USDT")
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if quote.Symbol != "BTC/USDT" {
		t.Errorf("symbol = %s", quote.Symbol)
	}

	// drift stays within ±0.2% per read
	low := opening.Mul(decimal.NewFromFloat(0.998))
	high := opening.Mul(decimal.NewFromFloat(1.002))
	if quote.Price.LessThan(low) || quote.Price.GreaterThan(high) {
		t.Errorf("price %s drifted outside [%s, %s]", quote.Price, low, high)
	}
}

func TestDrift_UnknownSymbol(t *testing.T) {
	d := NewDrift(map[string]decimal.Decimal{"BTC/USDT": decimal.NewFromInt(50000)})
	if _, err := d.GetQuote("DOGE/USDT"); !errors.Is(err, errs.ErrUnknownSymbol) {
		t.Errorf("err = %v, want ErrUnknownSymbol", err)
	}
}

func TestStatic_GetQuote(t *testing.T) {
	s := NewStatic(map[string]decimal.Decimal{"BTC/USDT": decimal.NewFromInt(50000)})

	quote, err := s.GetQuote("BTC/USDT")
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if !quote.Price.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("price = %s, want 50000", quote.Price)
	}

	s.SetPrice("BTC/USDT", decimal.NewFromInt(60000))
	quote, _ = s.GetQuote("BTC/USDT")
	if !quote.Price.Equal(decimal.NewFromInt(60000)) {
		t.Errorf("price = %s, want 60000 after SetPrice", quote.Price)
	}

	if _, err := s.GetQuote("ETH/USDT"); !errors.Is(err, errs.ErrUnknownSymbol) {
		t.Errorf("err = %v, want ErrUnknownSymbol", err)
	}
}
