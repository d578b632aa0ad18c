package tablebase

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrMalformedResponse = errors.New("malformed tablebase response")

// APIResponse is the body of GET /standard.
type APIResponse struct {
	Category             string    `json:"category"`
	DTZ                  *int      `json:"dtz"`
	PreciseDTZ           *int      `json:"precise_dtz"`
	DTM                  *int      `json:"dtm"`
	Checkmate            bool      `json:"checkmate"`
	Stalemate            bool      `json:"stalemate"`
	InsufficientMaterial bool      `json:"insufficient_material"`
	Moves                []APIMove `json:"moves"`
}

// APIMove describes the position reached after the move, seen from the side
// to move there (the mover's opponent).
type APIMove struct {
	UCI        string `json:"uci"`
	SAN        string `json:"san"`
	Category   string `json:"category"`
	DTZ        *int   `json:"dtz"`
	PreciseDTZ *int   `json:"precise_dtz"`
	DTM        *int   `json:"dtm"`
	Zeroing    bool   `json:"zeroing"`
	Checkmate  bool   `json:"checkmate"`
	Stalemate  bool   `json:"stalemate"`
}

func buildEntry(fen string, resp *APIResponse, now time.Time) (*Entry, error) {
	if resp == nil || strings.TrimSpace(resp.Category) == "" {
		return nil, ErrMalformedResponse
	}
	category, precise := ParseCategory(resp.Category)
	dtz := resp.DTZ
	if resp.PreciseDTZ != nil {
		dtz = resp.PreciseDTZ
	}
	position := Result{
		WDL:       category.WDL(),
		Category:  category,
		DTZ:       copyInt(dtz),
		DTM:       copyInt(resp.DTM),
		Precise:   precise,
		Checkmate: resp.Checkmate,
		Stalemate: resp.Stalemate,
	}
	position.EvaluationText = describe(position.Category, position.DTM, position.DTZ)

	moves := make([]Move, 0, len(resp.Moves))
	for _, raw := range resp.Moves {
		if strings.TrimSpace(raw.UCI) == "" {
			return nil, fmt.Errorf("%w: move without uci", ErrMalformedResponse)
		}
		moves = append(moves, moverMove(raw))
	}

	return &Entry{
		Position:  position,
		Moves:     moves,
		FEN:       fen,
		FetchedAt: now,
	}, nil
}

// moverMove re-expresses an API move from the mover's side. The category is
// inverted once; WDL, DTZ and DTM follow from the inverted view.
func moverMove(raw APIMove) Move {
	opponent, _ := ParseCategory(raw.Category)
	category := opponent.Invert()
	dtz := raw.DTZ
	if raw.PreciseDTZ != nil {
		dtz = raw.PreciseDTZ
	}
	return Move{
		UCI:       strings.ToLower(strings.TrimSpace(raw.UCI)),
		SAN:       strings.TrimSpace(raw.SAN),
		WDL:       category.WDL(),
		DTZ:       negate(dtz),
		DTM:       negate(raw.DTM),
		Category:  category,
		Zeroing:   raw.Zeroing,
		Checkmate: raw.Checkmate,
		Stalemate: raw.Stalemate,
	}
}

func describe(c Category, dtm, dtz *int) string {
	switch c {
	case CategoryWin:
		if dtm != nil {
			return fmt.Sprintf("Win (mate in %d)", abs(*dtm))
		}
		if dtz != nil {
			return fmt.Sprintf("Win (DTZ %d)", abs(*dtz))
		}
		return "Win"
	case CategoryCursedWin:
		return "Cursed win (drawn under the 50-move rule)"
	case CategoryDraw:
		return "Draw"
	case CategoryBlessedLoss:
		return "Blessed loss (saved by the 50-move rule)"
	case CategoryLoss:
		if dtm != nil {
			return fmt.Sprintf("Loss (mated in %d)", abs(*dtm))
		}
		if dtz != nil {
			return fmt.Sprintf("Loss (DTZ %d)", abs(*dtz))
		}
		return "Loss"
	default:
		return "Unknown"
	}
}

func negate(p *int) *int {
	if p == nil {
		return nil
	}
	return intPtr(-*p)
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	return intPtr(*p)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
