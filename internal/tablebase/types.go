package tablebase

import (
	"strings"
	"time"
)

// Category is the tablebase outcome class of a position.
type Category string

const (
	CategoryWin         Category = "win"
	CategoryCursedWin   Category = "cursed-win"
	CategoryDraw        Category = "draw"
	CategoryBlessedLoss Category = "blessed-loss"
	CategoryLoss        Category = "loss"
	CategoryUnknown     Category = "unknown"
)

// ParseCategory maps the raw API vocabulary onto Category. The second return
// value is false for the imprecise variants (maybe-*, syzygy-*).
func ParseCategory(raw string) (Category, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "win":
		return CategoryWin, true
	case "syzygy-win", "maybe-win":
		return CategoryWin, false
	case "cursed-win":
		return CategoryCursedWin, true
	case "draw":
		return CategoryDraw, true
	case "blessed-loss":
		return CategoryBlessedLoss, true
	case "loss":
		return CategoryLoss, true
	case "syzygy-loss", "maybe-loss":
		return CategoryLoss, false
	default:
		return CategoryUnknown, false
	}
}

// Invert returns the same outcome seen from the other side of the board.
func (c Category) Invert() Category {
	switch c {
	case CategoryWin:
		return CategoryLoss
	case CategoryLoss:
		return CategoryWin
	case CategoryCursedWin:
		return CategoryBlessedLoss
	case CategoryBlessedLoss:
		return CategoryCursedWin
	default:
		return c
	}
}

// WDL converts the category to the -2..2 scale.
func (c Category) WDL() int {
	switch c {
	case CategoryWin:
		return 2
	case CategoryCursedWin:
		return 1
	case CategoryBlessedLoss:
		return -1
	case CategoryLoss:
		return -2
	default:
		return 0
	}
}

func CategoryFromWDL(wdl int) Category {
	switch {
	case wdl >= 2:
		return CategoryWin
	case wdl == 1:
		return CategoryCursedWin
	case wdl == -1:
		return CategoryBlessedLoss
	case wdl <= -2:
		return CategoryLoss
	default:
		return CategoryDraw
	}
}

// Outcome collapses a WDL value into its win/draw/loss bucket (1, 0, -1).
func Outcome(wdl int) int {
	switch {
	case wdl > 0:
		return 1
	case wdl < 0:
		return -1
	default:
		return 0
	}
}

// Result is the evaluation of a position from the side to move.
type Result struct {
	WDL            int      `json:"wdl"`
	Category       Category `json:"category"`
	DTZ            *int     `json:"dtz,omitempty"`
	DTM            *int     `json:"dtm,omitempty"`
	Precise        bool     `json:"precise"`
	EvaluationText string   `json:"evaluation_text"`
	Checkmate      bool     `json:"checkmate,omitempty"`
	Stalemate      bool     `json:"stalemate,omitempty"`
}

// Move is one legal move and its outcome from the mover's perspective.
// DTZ and DTM are signed the same way: positive while the mover is winning.
type Move struct {
	UCI       string   `json:"uci"`
	SAN       string   `json:"san"`
	WDL       int      `json:"wdl"`
	DTZ       *int     `json:"dtz,omitempty"`
	DTM       *int     `json:"dtm,omitempty"`
	Category  Category `json:"category"`
	Zeroing   bool     `json:"zeroing,omitempty"`
	Checkmate bool     `json:"checkmate,omitempty"`
	Stalemate bool     `json:"stalemate,omitempty"`
}

// Entry is everything the tablebase knows about one normalized position.
// Entries are shared between callers and must not be mutated.
type Entry struct {
	Position  Result    `json:"position"`
	Moves     []Move    `json:"moves"`
	FEN       string    `json:"fen"`
	FetchedAt time.Time `json:"fetched_at"`
}

// BlackToMove reports whether the entry's position has Black to move.
func (e *Entry) BlackToMove() bool {
	if e == nil {
		return false
	}
	return SideToMove(e.FEN) == "b"
}

// WhiteWDL projects the side-to-move evaluation onto White's axis.
func (e *Entry) WhiteWDL() int {
	if e == nil {
		return 0
	}
	return toWhiteAxis(e.Position.WDL, e.BlackToMove())
}

// Move returns the entry's move with the given UCI.
func (e *Entry) Move(uci string) (Move, bool) {
	if e == nil {
		return Move{}, false
	}
	uci = strings.ToLower(strings.TrimSpace(uci))
	for _, mv := range e.Moves {
		if mv.UCI == uci {
			return mv, true
		}
	}
	return Move{}, false
}

// toWhiteAxis is the only place that flips sign by colour.
func toWhiteAxis(wdl int, black bool) int {
	if black {
		return -wdl
	}
	return wdl
}

func intPtr(v int) *int { return &v }
