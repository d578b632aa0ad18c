package tablebase

import (
	"cmp"
	"slices"
)

// BestMoves returns up to limit moves of the best WDL tier, ordered for
// training: fastest mate when winning, longest resistance when losing.
func BestMoves(moves []Move, limit int) []Move {
	if len(moves) == 0 || limit <= 0 {
		return nil
	}
	ranked := Rank(moves)
	best := ranked[0].WDL
	out := make([]Move, 0, min(limit, len(ranked)))
	for _, mv := range ranked {
		if mv.WDL != best || len(out) == limit {
			break
		}
		out = append(out, mv)
	}
	return out
}

// Rank returns a sorted copy of all moves, best tier first.
func Rank(moves []Move) []Move {
	ranked := slices.Clone(moves)
	slices.SortStableFunc(ranked, compareMoves)
	return ranked
}

// compareMoves orders by WDL, then DTM, then DTZ, then UCI. Distances are
// compared by magnitude; unknown distances sort last.
func compareMoves(a, b Move) int {
	if c := cmp.Compare(b.WDL, a.WDL); c != 0 {
		return c
	}
	switch Outcome(a.WDL) {
	case 1:
		if c := compareDistance(a.DTM, b.DTM, true); c != 0 {
			return c
		}
		if c := compareDistance(a.DTZ, b.DTZ, true); c != 0 {
			return c
		}
	case -1:
		if c := compareDistance(a.DTM, b.DTM, false); c != 0 {
			return c
		}
		if c := compareDistance(a.DTZ, b.DTZ, false); c != 0 {
			return c
		}
	}
	return cmp.Compare(a.UCI, b.UCI)
}

func compareDistance(a, b *int, shorterFirst bool) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	if shorterFirst {
		return cmp.Compare(abs(*a), abs(*b))
	}
	return cmp.Compare(abs(*b), abs(*a))
}
