package levels

import (
	"sort"

	"github.com/shopspring/decimal"

	"demandindex-plus/internal/model"
)

// ValueAreaShare is the fraction of session volume the value area covers.
var ValueAreaShare = decimal.NewFromFloat(0.7)

// maxBinsPerBar bounds how many price bins one bar's volume is spread over.
// Wider bars put all their volume in the close's bin.
const maxBinsPerBar = 2000

// Profile is a developing session volume profile bucketed by tick size.
type Profile struct {
	Tick decimal.Decimal           `json:"tick"`
	Bins map[int64]decimal.Decimal `json:"bins"` // floor(price/tick) → volume
}

// NewProfile creates an empty profile with the given bin width.
func NewProfile(tick decimal.Decimal) *Profile {
	return &Profile{Tick: tick, Bins: make(map[int64]decimal.Decimal)}
}

func (p *Profile) bin(price decimal.Decimal) int64 {
	return price.Div(p.Tick).Floor().IntPart()
}

// Add spreads c's volume uniformly over the bins between its low and high.
func (p *Profile) Add(c model.Candle) {
	if !c.Volume.IsPositive() {
		return
	}
	lo, hi := p.bin(c.Low), p.bin(c.High)
	if hi < lo {
		lo, hi = hi, lo
	}
	n := hi - lo + 1
	if n > maxBinsPerBar {
		k := p.bin(c.Close)
		p.Bins[k] = p.Bins[k].Add(c.Volume)
		return
	}
	share := c.Volume.Div(decimal.NewFromInt(n))
	for k := lo; k <= hi; k++ {
		p.Bins[k] = p.Bins[k].Add(share)
	}
}

// ValueArea returns the high and low price of the value area: starting at the
// point of control, the heavier neighbouring bin is added until the area
// holds ValueAreaShare of the session volume. VAL is the floor of the lowest
// bin and VAH the top of the highest, so every price in the area lies in
// [VAL, VAH]. Both are zero for an empty profile.
func (p *Profile) ValueArea() (vah, val decimal.Decimal) {
	if len(p.Bins) == 0 {
		return decimal.Zero, decimal.Zero
	}
	keys := make([]int64, 0, len(p.Bins))
	total := decimal.Zero
	for k, v := range p.Bins {
		keys = append(keys, k)
		total = total.Add(v)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	poc := 0
	for i, k := range keys {
		if p.Bins[k].GreaterThan(p.Bins[keys[poc]]) {
			poc = i
		}
	}

	target := total.Mul(ValueAreaShare)
	lo, hi := poc, poc
	acc := p.Bins[keys[poc]]
	for acc.LessThan(target) && (lo > 0 || hi < len(keys)-1) {
		below, above := decimal.NewFromInt(-1), decimal.NewFromInt(-1)
		if lo > 0 {
			below = p.Bins[keys[lo-1]]
		}
		if hi < len(keys)-1 {
			above = p.Bins[keys[hi+1]]
		}
		if above.GreaterThanOrEqual(below) {
			hi++
			acc = acc.Add(above)
		} else {
			lo--
			acc = acc.Add(below)
		}
	}
	return p.price(keys[hi] + 1), p.price(keys[lo])
}

// POC returns the price of the heaviest bin.
func (p *Profile) POC() decimal.Decimal {
	var (
		best  int64
		bestV = decimal.NewFromInt(-1)
	)
	for k, v := range p.Bins {
		if v.GreaterThan(bestV) || (v.Equal(bestV) && k < best) {
			best, bestV = k, v
		}
	}
	if bestV.IsNegative() {
		return decimal.Zero
	}
	return p.price(best)
}

func (p *Profile) price(k int64) decimal.Decimal {
	return decimal.NewFromInt(k).Mul(p.Tick)
}

// Reset clears the profile for a new session.
func (p *Profile) Reset() {
	p.Bins = make(map[int64]decimal.Decimal)
}
