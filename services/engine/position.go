package engine

// PositionState is the single long position of a run. Flat when Open is false.
type PositionState struct {
	Open   bool
	Entry  float64
	EntryT int
	Size   float64
}

// OpenAt enters at price. Re-entry while open is a no-op that reports false.
func (p *PositionState) OpenAt(t int, price, size float64) bool {
	if p.Open {
		return false
	}
	*p = PositionState{Open: true, Entry: price, EntryT: t, Size: size}
	return true
}

// CloseAt exits at price and returns the realized pnl.
func (p *PositionState) CloseAt(price float64) (float64, bool) {
	if !p.Open {
		return 0, false
	}
	pnl := (price - p.Entry) * p.Size
	*p = PositionState{}
	return pnl, true
}

// Unrealized marks the open position at price.
func (p PositionState) Unrealized(price float64) float64 {
	if !p.Open {
		return 0
	}
	return (price - p.Entry) * p.Size
}
