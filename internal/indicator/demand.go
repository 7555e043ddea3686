package indicator

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"demandindex-plus/internal/model"
)

// dampingFactor scales the price-change exponent of the pressure terms.
const dampingFactor = 0.375

// maxFixed is the largest magnitude representable by the 96-bit fixed-point
// values DI is reported in. Float intermediates beyond it are clamped.
var (
	maxFixed      = decimal.RequireFromString("79228162514264337593543950335")
	minFixed      = maxFixed.Neg()
	maxFixedFloat = maxFixed.InexactFloat64()
)

// Calculator produces the raw Demand Index for consecutive bars.
// It keeps only what the recurrence needs from bar b-1 and bar 0.
type Calculator struct {
	volEMA EMA
	bpEMA  EMA
	spEMA  EMA

	last         int     // last processed bar index, -1 before the first bar
	prevPriceSum float64 // priceSum[b-1]
	prevVolEMA   float64 // emaVolume[b-1]
	range0       float64 // high - low of bar 0
}

// NewCalculator creates a calculator. powerPeriod smooths volume,
// smoothPeriod smooths buying and selling pressure.
func NewCalculator(powerPeriod, smoothPeriod int) *Calculator {
	return &Calculator{
		volEMA: NewEMA(powerPeriod),
		bpEMA:  NewEMA(smoothPeriod),
		spEMA:  NewEMA(smoothPeriod),
		last:   -1,
	}
}

// NextIndex returns the bar index the calculator expects next.
func (c *Calculator) NextIndex() int { return c.last + 1 }

// Next computes DI for bar. bar.Index must equal NextIndex(); otherwise
// ErrOutOfOrder is returned and the state is left untouched.
func (c *Calculator) Next(bar model.Candle) (decimal.Decimal, error) {
	if bar.Index != c.last+1 {
		return decimal.Zero, fmt.Errorf("%w: got bar %d, want %d", ErrOutOfOrder, bar.Index, c.last+1)
	}
	return c.step(bar), nil
}

// Peek computes DI for bar as if it were next, WITHOUT mutating state.
func (c *Calculator) Peek(bar model.Candle) decimal.Decimal {
	cp := *c
	bar.Index = cp.last + 1
	return cp.step(bar)
}

// Reset clears all accumulators.
func (c *Calculator) Reset() {
	c.volEMA.Reset()
	c.bpEMA.Reset()
	c.spEMA.Reset()
	c.last = -1
	c.prevPriceSum = 0
	c.prevVolEMA = 0
	c.range0 = 0
}

func (c *Calculator) step(bar model.Candle) decimal.Decimal {
	ps := bar.PriceSum().InexactFloat64()
	vol := bar.Volume.InexactFloat64()
	emaVol := c.volEMA.Update(vol)

	prevPS, prevEmaVol := c.prevPriceSum, c.prevVolEMA
	c.last = bar.Index
	c.prevPriceSum = ps
	c.prevVolEMA = emaVol

	if bar.Index == 0 {
		c.range0 = bar.High.Sub(bar.Low).InexactFloat64()
		return decimal.Zero
	}

	bp := buyingPressure(vol, emaVol, prevEmaVol, ps, prevPS, c.range0)
	sp := sellingPressure(vol, emaVol, prevEmaVol, ps, prevPS, c.range0)
	ebp := c.bpEMA.Update(bp)
	esp := c.spEMA.Update(sp)
	return toFixed(demandIndex(ebp, esp))
}

// buyingPressure is damped when the price sum fell versus the previous bar.
func buyingPressure(vol, emaVol, prevEmaVol, ps, prevPS, range0 float64) float64 {
	if emaVol != 0 && range0 != 0 && ps != 0 {
		if ps < prevPS {
			damp := math.Exp(dampingFactor * ((ps + prevPS) / range0) * ((prevPS - ps) / ps))
			return clampFloat(safeDiv(vol/emaVol, damp))
		}
		return clampFloat(vol / emaVol)
	}
	if prevEmaVol != 0 {
		return clampFloat(vol / prevEmaVol)
	}
	return 0
}

// sellingPressure is damped when the price sum rose versus the previous bar.
func sellingPressure(vol, emaVol, prevEmaVol, ps, prevPS, range0 float64) float64 {
	if emaVol != 0 && range0 != 0 && prevPS != 0 {
		if ps > prevPS {
			damp := math.Exp(dampingFactor * ((ps + prevPS) / range0) * ((ps - prevPS) / prevPS))
			return clampFloat(safeDiv(vol/emaVol, damp))
		}
		return clampFloat(vol / emaVol)
	}
	if prevEmaVol != 0 {
		return clampFloat(vol / prevEmaVol)
	}
	return 0
}

// demandIndex maps smoothed buying/selling pressure to [-100, 100].
func demandIndex(ebp, esp float64) float64 {
	q := 1.0
	switch {
	case ebp > esp:
		q = safeDiv(esp, ebp)
	case ebp < esp:
		q = safeDiv(ebp, esp)
	}
	if esp <= ebp {
		return 100 * (1 - q)
	}
	return 100 * (q - 1)
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

// clampFloat bounds f to the fixed-point range. NaN becomes 0.
func clampFloat(f float64) float64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f > maxFixedFloat:
		return maxFixedFloat
	case f < -maxFixedFloat:
		return -maxFixedFloat
	}
	return f
}

// toFixed converts f to a decimal, clamping at the fixed-point bounds.
func toFixed(f float64) decimal.Decimal {
	switch {
	case math.IsNaN(f):
		return decimal.Zero
	case f >= maxFixedFloat:
		return maxFixed
	case f <= -maxFixedFloat:
		return minFixed
	}
	return decimal.NewFromFloat(f)
}
