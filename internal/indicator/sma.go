package indicator

import "github.com/shopspring/decimal"

// SMA calculates a Simple Moving Average over a rolling window of decimals.
// Until period values have been seen it averages everything seen so far.
// Uses a preallocated circular buffer; sums are exact.
type SMA struct {
	period int
	buf    []decimal.Decimal
	idx    int // current write position
	count  int // total values received
	sum    decimal.Decimal
}

// NewSMA creates a new SMA with the given period.
func NewSMA(period int) *SMA {
	return &SMA{
		period: period,
		buf:    make([]decimal.Decimal, period),
	}
}

// Update feeds v and returns the new average.
func (s *SMA) Update(v decimal.Decimal) decimal.Decimal {
	if s.count >= s.period {
		// Subtract the oldest value being overwritten
		s.sum = s.sum.Sub(s.buf[s.idx])
	}
	s.buf[s.idx] = v
	s.sum = s.sum.Add(v)
	s.idx = (s.idx + 1) % s.period
	s.count++
	return s.Value()
}

// Value returns the current average, or zero before the first update.
func (s *SMA) Value() decimal.Decimal {
	n := s.count
	if n > s.period {
		n = s.period
	}
	if n == 0 {
		return decimal.Zero
	}
	return s.sum.Div(decimal.NewFromInt(int64(n)))
}

func (s *SMA) Ready() bool { return s.count >= s.period }
func (s *SMA) Count() int  { return s.count }

// Peek computes what Value() would be after Update(v) without mutating state.
func (s *SMA) Peek(v decimal.Decimal) decimal.Decimal {
	if s.count < s.period {
		return s.sum.Add(v).Div(decimal.NewFromInt(int64(s.count + 1)))
	}
	// Preview: replace the oldest value (at idx) with v
	return s.sum.Sub(s.buf[s.idx]).Add(v).Div(decimal.NewFromInt(int64(s.period)))
}

// Reset clears the SMA state for reuse.
func (s *SMA) Reset() {
	s.idx = 0
	s.count = 0
	s.sum = decimal.Zero
	for i := range s.buf {
		s.buf[i] = decimal.Zero
	}
}

// Snapshot serializes the SMA state for checkpoint persistence.
func (s *SMA) Snapshot() SMASnapshot {
	bufCopy := make([]decimal.Decimal, len(s.buf))
	copy(bufCopy, s.buf)
	return SMASnapshot{
		Period: s.period,
		Buf:    bufCopy,
		Idx:    s.idx,
		Count:  s.count,
		Sum:    s.sum,
	}
}

// RestoreFromSnapshot restores SMA state from a checkpoint.
func (s *SMA) RestoreFromSnapshot(snap SMASnapshot) error {
	if snap.Period <= 0 || len(snap.Buf) != snap.Period {
		return errorf("sma period %d with %d buffered values", snap.Period, len(snap.Buf))
	}
	s.period = snap.Period
	s.idx = snap.Idx
	s.count = snap.Count
	s.sum = snap.Sum
	s.buf = make([]decimal.Decimal, len(snap.Buf))
	copy(s.buf, snap.Buf)
	return nil
}
