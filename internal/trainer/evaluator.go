package trainer

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Endgame-Trainer/internal/tablebase"
)

type EvaluateRequest struct {
	FENBefore string
	FENAfter  string
	MoveUCI   string
	Baseline  *Baseline
}

// MoveQuality grades one move. WDLBefore and WDLAfter are both from the
// mover's side. Verdict is false when either position had no tablebase
// data; the other fields are then zero.
type MoveQuality struct {
	Verdict               bool            `json:"verdict"`
	WasOptimal            bool            `json:"was_optimal"`
	OutcomeChanged        bool            `json:"outcome_changed"`
	ShouldShowErrorDialog bool            `json:"should_show_error_dialog"`
	WDLBefore             int             `json:"wdl_before"`
	WDLAfter              int             `json:"wdl_after"`
	BestMove              *tablebase.Move `json:"best_move,omitempty"`
	UsedBaseline          bool            `json:"used_baseline,omitempty"`
}

type MoveEvaluator struct {
	tb      Tablebase
	limit   int
	timeout time.Duration
	logger  *zap.Logger
}

func NewMoveEvaluator(tb Tablebase, optimalLimit int, timeout time.Duration, logger *zap.Logger) *MoveEvaluator {
	if optimalLimit <= 0 {
		optimalLimit = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MoveEvaluator{tb: tb, limit: optimalLimit, timeout: timeout, logger: logger}
}

// Evaluate never fails on tablebase trouble; it only returns an error when
// ctx itself is done.
func (e *MoveEvaluator) Evaluate(ctx context.Context, req EvaluateRequest) (MoveQuality, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	before := e.evaluation(ctx, req.FENBefore)
	if before == nil {
		return MoveQuality{}, parentErr(ctx)
	}
	after := e.evaluation(ctx, req.FENAfter)
	if after == nil {
		return MoveQuality{}, parentErr(ctx)
	}

	q := MoveQuality{
		Verdict:   true,
		WDLBefore: before.WDL,
		// the after-position is scored for the opponent, who now has the move
		WDLAfter: -after.WDL,
	}
	if req.Baseline != nil {
		q.WDLBefore = req.Baseline.WDL
		q.UsedBaseline = true
	}
	q.OutcomeChanged = tablebase.Outcome(q.WDLBefore) != tablebase.Outcome(q.WDLAfter)
	q.ShouldShowErrorDialog = q.OutcomeChanged

	top, err := e.tb.TopMoves(ctx, req.FENBefore, e.limit)
	if err != nil {
		e.logger.Warn("evaluator_top_moves_failed", zap.String("fen", req.FENBefore), zap.Error(err))
	}
	if len(top) > 0 {
		best := top[0]
		q.BestMove = &best
		played := strings.ToLower(strings.TrimSpace(req.MoveUCI))
		for _, mv := range top {
			if mv.UCI == played {
				q.WasOptimal = true
				break
			}
		}
	}
	return q, nil
}

func (e *MoveEvaluator) evaluation(ctx context.Context, fen string) *tablebase.Result {
	res, err := e.tb.Evaluation(ctx, fen)
	if err != nil {
		e.logger.Warn("evaluator_lookup_failed", zap.String("fen", fen), zap.Error(err))
		return nil
	}
	return res
}

// parentErr reports cancellation of the caller, not our own timeout.
func parentErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return nil
}
