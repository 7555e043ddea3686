package indicator

import (
	"github.com/shopspring/decimal"

	"demandindex-plus/internal/model"
)

// series stores per-bar outputs. base is the bar index of element 0; with a
// positive limit, old bars are dropped in chunks so at least limit remain.
type series struct {
	base    int
	limit   int
	di      []decimal.Decimal
	sma     []decimal.Decimal
	diColor []model.Color
	paint   []model.Color
}

func (s *series) append(o Output) {
	s.di = append(s.di, o.DI)
	s.sma = append(s.sma, o.SMA)
	s.diColor = append(s.diColor, o.DIColor)
	s.paint = append(s.paint, o.Paint)
	if s.limit > 0 && len(s.di) >= 2*s.limit {
		s.trim(len(s.di) - s.limit)
	}
}

func (s *series) trim(drop int) {
	s.di = append([]decimal.Decimal(nil), s.di[drop:]...)
	s.sma = append([]decimal.Decimal(nil), s.sma[drop:]...)
	s.diColor = append([]model.Color(nil), s.diColor[drop:]...)
	s.paint = append([]model.Color(nil), s.paint[drop:]...)
	s.base += drop
}

// pos maps bar index b to a slice position.
func (s *series) pos(b int) (int, bool) {
	i := b - s.base
	if i < 0 || i >= len(s.di) {
		return 0, false
	}
	return i, true
}

func (s *series) reset() {
	s.base = 0
	s.di = s.di[:0]
	s.sma = s.sma[:0]
	s.diColor = s.diColor[:0]
	s.paint = s.paint[:0]
}
