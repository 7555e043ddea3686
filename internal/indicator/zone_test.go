package indicator

import "testing"

func TestZone_HysteresisKeepsOverbought(t *testing.T) {
	// 70 enters the zone; 40 is below 60 but not below 30.
	z := NewZoneState().Advance(dec(70), 60).Advance(dec(40), 60)
	if !z.WasInOverbought {
		t.Fatal("WasInOverbought cleared at 40, want it kept until DI < 30")
	}
	z = z.Advance(dec(30), 60)
	if !z.WasInOverbought {
		t.Fatal("WasInOverbought cleared at exactly 30, want strict < 30")
	}
	z = z.Advance(dec(29.99), 60)
	if z.WasInOverbought {
		t.Fatal("WasInOverbought still set at 29.99")
	}
}

func TestZone_HysteresisKeepsOversold(t *testing.T) {
	z := NewZoneState().Advance(dec(-61), 60)
	if !z.WasInOversold || z.Zone() != ZoneOversold {
		t.Fatalf("zone = %s, want oversold", z.Zone())
	}
	for _, v := range []float64{-59, -45, -30} {
		if z = z.Advance(dec(v), 60); !z.WasInOversold {
			t.Fatalf("WasInOversold cleared at %v", v)
		}
	}
	if z = z.Advance(dec(-29), 60); z.WasInOversold {
		t.Fatal("WasInOversold still set at -29")
	}
	if z.Zone() != ZoneNeutral {
		t.Errorf("zone = %s, want neutral", z.Zone())
	}
}

func TestZone_BoundaryIsExclusive(t *testing.T) {
	z := NewZoneState().Advance(dec(60), 60).Advance(dec(-60), 60)
	if z.WasInOverbought || z.WasInOversold {
		t.Errorf("DI exactly at ±level must not enter a zone: %+v", z)
	}
}

func TestZone_LatchRearmsOnlyOnFreshEntry(t *testing.T) {
	z := ZoneState{WasInOverbought: true, ReversalLatchedOverbought: true}
	z = z.Advance(dec(75), 60)
	if !z.ReversalLatchedOverbought {
		t.Fatal("latch cleared while still inside the same excursion")
	}

	z = z.Advance(dec(10), 60) // leaves the zone
	if !z.ReversalLatchedOverbought {
		t.Fatal("latch should persist until the zone is re-entered")
	}
	z = z.Advance(dec(65), 60) // new excursion
	if z.ReversalLatchedOverbought || !z.WasInOverbought {
		t.Fatalf("new excursion should re-arm the latch: %+v", z)
	}
}

func TestZone_SwingAcrossBothZones(t *testing.T) {
	z := NewZoneState().Advance(dec(80), 60).Advance(dec(-80), 60)
	if z.WasInOverbought {
		t.Error("overbought should clear on a swing to -80")
	}
	if !z.WasInOversold {
		t.Error("oversold should be entered on -80")
	}
}
