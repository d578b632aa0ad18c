package trainer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Endgame-Trainer/internal/domain"
	"github.com/park285/Cheese-Endgame-Trainer/internal/rules"
)

const (
	finishCheckmate = "checkmate"
	finishStalemate = "stalemate"
	finishDraw      = "draw"
	finishPromotion = "promotion"
)

func (c *Coordinator) terminalKind() (string, rules.Color) {
	switch {
	case c.board.IsCheckmate():
		return finishCheckmate, c.board.Winner()
	case c.board.IsStalemate():
		return finishStalemate, ""
	default:
		return finishDraw, ""
	}
}

// finalizeLocked closes the session and returns the result to persist once
// mu is released.
func (c *Coordinator) finalizeLocked(kind string, winner rules.Color) *domain.TrainingResult {
	s := c.session
	s.EndTime = c.now()
	s.Result = kind
	s.Winner = winner

	data := map[string]any{
		"Winner":   colorName(winner),
		"Accuracy": s.Accuracy(),
		"Correct":  s.CorrectMoves,
		"Moves":    s.MoveCount,
	}
	fallback := fmt.Sprintf("%s. Accuracy %d%%.", kind, s.Accuracy())
	fbType := FeedbackWarning
	switch {
	case winner != "" && winner == s.PlayerColor:
		fbType = FeedbackSuccess
	case winner == "" && s.Goal == "draw":
		fbType = FeedbackSuccess
	}
	c.feedback = Feedback{Type: fbType, Message: c.messages.Text("finalize."+kind, data, fallback)}
	c.transition(StateSessionComplete)

	c.logger.Info("session_finalize",
		zap.String("session_id", s.ID),
		zap.String("result", kind),
		zap.String("winner", string(winner)),
		zap.Int("moves", s.MoveCount),
		zap.Int("correct", s.CorrectMoves),
		zap.Int("accuracy", s.Accuracy()),
	)

	return &domain.TrainingResult{
		SessionID:       s.ID,
		PlayerID:        c.playerID,
		PositionID:      s.PositionID,
		Category:        s.Category,
		StartFEN:        s.StartFEN,
		FinalFEN:        c.board.FEN(),
		PlayerColor:     string(s.PlayerColor),
		Result:          kind,
		Winner:          string(winner),
		MovesUCI:        append([]string(nil), s.MovesUCI...),
		Mistakes:        append([]string(nil), s.Mistakes...),
		MoveCount:       s.MoveCount,
		CorrectMoves:    s.CorrectMoves,
		SuboptimalMoves: s.SuboptimalMoves,
		Accuracy:        s.Accuracy(),
		StartedAt:       s.StartTime,
		EndedAt:         s.EndTime,
		Duration:        s.EndTime.Sub(s.StartTime),
	}
}

// record persists a finished session. Failures are logged only.
func (c *Coordinator) record(res *domain.TrainingResult) {
	if res == nil || c.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RecordTimeout)
	defer cancel()
	if err := c.recorder.Record(ctx, *res); err != nil {
		c.logger.Warn("session_record_failed", zap.String("session_id", res.SessionID), zap.Error(err))
	}
}

// opponentBridge exposes the coordinator to the opponent handler without
// widening the Coordinator API.
type opponentBridge struct{ c *Coordinator }

func (b opponentBridge) OpponentPosition(gen uint64) (string, bool) {
	c := b.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opponentTurnLocked(gen) {
		return "", false
	}
	return c.board.FEN(), true
}

func (b opponentBridge) LegalMoves(gen uint64) []string {
	c := b.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opponentTurnLocked(gen) {
		return nil
	}
	return c.board.LegalMovesUCI()
}

func (b opponentBridge) ApplyOpponentMove(gen uint64, uci string, guessed bool) error {
	c := b.c
	c.mu.Lock()
	if !c.opponentTurnLocked(gen) {
		c.mu.Unlock()
		return ErrStaleSession
	}
	applied, err := c.board.MakeMove(uci)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	s := c.session
	s.MovesUCI = append(s.MovesUCI, applied.UCI)
	c.lastMove = applied.UCI
	key := "feedback.opponent"
	if guessed {
		key = "feedback.opponent_random"
	}
	c.feedback = Feedback{Type: FeedbackInfo, Message: c.messages.Text(key, map[string]any{"SAN": applied.SAN}, applied.SAN)}

	var result *domain.TrainingResult
	if c.board.IsGameOver() {
		result = c.finalizeLocked(c.terminalKind())
	} else {
		c.history = append(c.history, turnMark{fen: c.board.FEN(), moves: len(s.MovesUCI)})
		c.transition(StateWaitingForPlayer)
	}
	c.unlockAndPublish()
	c.record(result)
	return nil
}

func (b opponentBridge) RestorePlayerControl(gen uint64, cause error) {
	c := b.c
	c.mu.Lock()
	if gen != c.gen || c.state != StateOpponentThinking {
		c.mu.Unlock()
		return
	}
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	c.feedback = Feedback{Type: FeedbackError, Message: c.messages.Text("feedback.opponent_failed", map[string]any{"Error": msg}, msg)}
	c.transition(StateWaitingForPlayer)
	c.unlockAndPublish()
}

func (c *Coordinator) opponentTurnLocked(gen uint64) bool {
	return !c.closed && gen == c.gen && c.state == StateOpponentThinking &&
		c.board != nil && c.session != nil && c.board.Turn() != c.session.PlayerColor
}
