// Package oracle provides the fundamental-price series agents observe.
// The core treats the prices it returns as opaque integer cents; only
// agents consume it, never the kernel or the book.
package oracle

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"sort"

	"github.com/shopspring/decimal"

	"marketsim/pkg/quant"
)

// Sample is one observation of the external fundamental series.
type Sample struct {
	Ts    quant.TimeStamp
	Price quant.PriceCents
}

// Observation is an entry in the fundamental query log, kept for
// post-run analysis of what agents actually saw.
type Observation struct {
	Ts    quant.TimeStamp
	Price quant.PriceCents
}

// Oracle serves true fundamental prices from per-symbol external series.
// Queries between two samples are linearly interpolated; queries before
// the first or after the last sample clamp to the boundary value.
type Oracle struct {
	series map[string][]Sample
	sigmaN map[string]float64
	qlog   map[string][]Observation
}

// New creates an oracle over the given per-symbol series and observation
// noise variances (a missing sigmaN entry means noiseless). Each series
// is sorted by time; an empty series for a symbol is a configuration
// error.
func New(series map[string][]Sample, sigmaN map[string]float64) (*Oracle, error) {
	for symbol, s := range series {
		if len(s) == 0 {
			return nil, fmt.Errorf("oracle: empty fundamental series for %s", symbol)
		}
		sort.Slice(s, func(i, j int) bool { return s[i].Ts < s[j].Ts })
	}
	o := &Oracle{series: series, sigmaN: sigmaN, qlog: make(map[string][]Observation)}
	for symbol := range series {
		o.qlog[symbol] = nil
	}
	return o, nil
}

// LoadSeriesCSV reads a fundamental series from a CSV of
// "rfc3339_time,dollar_price" rows.
func LoadSeriesCSV(path string) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("oracle: open series: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 2

	var out []Sample
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("oracle: read series %s: %w", path, err)
		}
		ts, err := quant.ParseTimeStamp(rec[0])
		if err != nil {
			return nil, fmt.Errorf("oracle: bad time %q in %s: %w", rec[0], path, err)
		}
		out = append(out, Sample{Ts: ts, Price: quant.ParsePriceCentsStr(rec[1])})
	}
	slog.Info("ORACLE_SERIES_LOADED", slog.String("path", path), slog.Int("samples", len(out)))
	return out, nil
}

// PriceAt returns the true fundamental price of symbol at query time t.
func (o *Oracle) PriceAt(symbol string, t quant.TimeStamp) (quant.PriceCents, error) {
	s, ok := o.series[symbol]
	if !ok {
		return 0, fmt.Errorf("oracle: unknown symbol %s", symbol)
	}

	var price quant.PriceCents
	switch {
	case t <= s[0].Ts:
		price = s[0].Price
	case t >= s[len(s)-1].Ts:
		price = s[len(s)-1].Price
	default:
		// First sample strictly after t; interpolate from its
		// predecessor.
		hi := sort.Search(len(s), func(i int) bool { return s[i].Ts > t })
		lo := hi - 1
		price = interpolate(t, s[lo], s[hi])
	}

	o.qlog[symbol] = append(o.qlog[symbol], Observation{Ts: t, Price: price})
	return price, nil
}

// DailyOpenPrice returns the fundamental price at market open.
func (o *Oracle) DailyOpenPrice(symbol string, open quant.TimeStamp) (quant.PriceCents, error) {
	return o.PriceAt(symbol, open)
}

// Observe returns a noisy observation of the fundamental: gaussian noise
// with the symbol's configured variance, drawn from the calling agent's
// own seeded source, so each agent's observation stream is independently
// reproducible.
func (o *Oracle) Observe(symbol string, t quant.TimeStamp, rng *rand.Rand) (quant.PriceCents, error) {
	actual, err := o.PriceAt(symbol, t)
	if err != nil {
		return 0, err
	}
	sigmaN := o.sigmaN[symbol]
	if sigmaN == 0 {
		return actual, nil
	}
	noisy := float64(actual) + rng.NormFloat64()*math.Sqrt(sigmaN)
	return quant.PriceCents(math.Round(noisy)), nil
}

// QueryLog returns the fundamental observations served for symbol.
func (o *Oracle) QueryLog(symbol string) []Observation {
	return o.qlog[symbol]
}

// interpolate computes the price at t on the segment [lo, hi] with exact
// decimal slope arithmetic, rounded back to whole cents.
func interpolate(t quant.TimeStamp, lo, hi Sample) quant.PriceCents {
	if lo.Price == hi.Price || hi.Ts == lo.Ts {
		return lo.Price
	}
	dy := decimal.NewFromInt(int64(hi.Price - lo.Price))
	dx := decimal.NewFromInt(int64(hi.Ts - lo.Ts))
	fwd := decimal.NewFromInt(int64(t - lo.Ts))

	p := decimal.NewFromInt(int64(lo.Price)).Add(dy.Mul(fwd).Div(dx))
	return quant.PriceCents(p.Round(0).IntPart())
}
