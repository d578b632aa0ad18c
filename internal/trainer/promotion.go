package trainer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Endgame-Trainer/internal/rules"
)

// AutoPromotionPiece is what the opponent (and the default chooser) promotes to.
const AutoPromotionPiece = "q"

type PromotionInfo struct {
	IsPromotion bool   `json:"is_promotion"`
	Piece       string `json:"piece,omitempty"`
	From        string `json:"from"`
	To          string `json:"to"`
}

type PromotionHandler struct {
	tb      Tablebase
	timeout time.Duration
	logger  *zap.Logger
	inspect func(fen string) (rules.Status, error)
}

func NewPromotionHandler(tb Tablebase, timeout time.Duration, logger *zap.Logger) *PromotionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PromotionHandler{tb: tb, timeout: timeout, logger: logger, inspect: rules.Inspect}
}

// CheckPromotion inspects a move without any I/O.
func CheckPromotion(mv rules.MoveInfo) PromotionInfo {
	info := PromotionInfo{From: mv.From, To: mv.To}
	piece := strings.ToLower(mv.Promotion)
	if piece == "" && len(mv.UCI) == 5 {
		piece = strings.ToLower(mv.UCI[4:])
	}
	if piece != "" {
		info.IsPromotion = true
		info.Piece = piece
	}
	return info
}

// EvaluatePromotionOutcome reports whether the position after a promotion
// can be scored as a win for movingColor. Checkmate short-circuits before
// any tablebase call. Every failure resolves to false.
func (h *PromotionHandler) EvaluatePromotionOutcome(ctx context.Context, fenAfter string, movingColor rules.Color) (won bool) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("promotion_outcome_panic", zap.Any("panic", r), zap.String("fen", fenAfter))
			won = false
		}
	}()

	st, err := h.inspect(fenAfter)
	if err != nil {
		h.logger.Debug("promotion_outcome_invalid_fen", zap.String("fen", fenAfter), zap.Error(err))
		return false
	}
	if st.Checkmate {
		// the side to move is mated, so the mover won
		return st.Turn != movingColor
	}
	if st.GameOver || h.tb == nil {
		return false
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	res, err := h.tb.Evaluation(ctx, fenAfter)
	if err != nil || res == nil {
		return false
	}
	// res is from the side to move in fenAfter
	wdl := res.WDL
	if st.Turn != movingColor {
		wdl = -wdl
	}
	return wdl > 0
}

func defaultPromotionChooser(context.Context, PromotionInfo) (string, error) {
	return AutoPromotionPiece, nil
}

func validPromotionPiece(p string) (string, error) {
	p = strings.ToLower(strings.TrimSpace(p))
	switch p {
	case "q", "r", "b", "n":
		return p, nil
	}
	return "", fmt.Errorf("invalid promotion piece %q", p)
}
