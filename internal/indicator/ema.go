package indicator

// EMA calculates an Exponential Moving Average seeded with its first input.
// O(1) per update, no window storage.
type EMA struct {
	period     int
	multiplier float64
	current    float64
	seeded     bool
}

// NewEMA creates a new EMA with the given period.
func NewEMA(period int) EMA {
	return EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

// Update feeds v and returns the new average. The first call returns v unchanged.
func (e *EMA) Update(v float64) float64 {
	if !e.seeded {
		e.current = v
		e.seeded = true
		return e.current
	}
	e.current += e.multiplier * (v - e.current)
	return e.current
}

func (e *EMA) Value() float64 { return e.current }
func (e *EMA) Ready() bool    { return e.seeded }
func (e *EMA) Period() int    { return e.period }

// Peek computes what Value() would be after Update(v) without mutating state.
func (e *EMA) Peek(v float64) float64 {
	if !e.seeded {
		return v
	}
	return e.current + e.multiplier*(v-e.current)
}

// Reset clears the EMA state for reuse.
func (e *EMA) Reset() {
	e.current = 0
	e.seeded = false
}

// Snapshot serializes the EMA state for checkpoint persistence.
func (e *EMA) Snapshot() EMASnapshot {
	return EMASnapshot{
		Period:  e.period,
		Current: e.current,
		Seeded:  e.seeded,
	}
}

// RestoreFromSnapshot restores EMA state from a checkpoint.
func (e *EMA) RestoreFromSnapshot(snap EMASnapshot) error {
	if snap.Period <= 0 {
		return errorf("ema period %d", snap.Period)
	}
	*e = NewEMA(snap.Period)
	e.current = snap.Current
	e.seeded = snap.Seeded
	return nil
}
