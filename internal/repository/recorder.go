package repository

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Endgame-Trainer/internal/domain"
)

// Recorder stores a finished session and folds it into the player's
// profile. A session that was already stored leaves the profile untouched.
type Recorder struct {
	repo   Repository
	logger *zap.Logger
}

func NewRecorder(repo Repository, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{repo: repo, logger: logger}
}

func (r *Recorder) Record(ctx context.Context, res domain.TrainingResult) error {
	if r == nil || r.repo == nil {
		return nil
	}
	id, err := r.repo.InsertResult(ctx, &res)
	if errors.Is(err, ErrDuplicateResult) {
		r.logger.Debug("training_result_duplicate", zap.String("session_id", res.SessionID))
		return nil
	}
	if err != nil {
		return err
	}

	if err := r.repo.AddToProfile(ctx, res); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	r.logger.Info("training_result_stored",
		zap.Int64("id", id),
		zap.String("session_id", res.SessionID),
		zap.String("player_id", res.PlayerID),
		zap.String("result", res.Result),
	)
	return nil
}

// ApplyResult folds res into profile. The outcome is scored from the
// player's side: a win when the player's colour won, a loss when the other
// colour won, a draw otherwise.
func ApplyResult(profile *domain.TrainingProfile, res domain.TrainingResult) {
	profile.Sessions++
	switch {
	case res.Winner == "":
		profile.Draws++
	case res.Winner == res.PlayerColor:
		profile.Wins++
	default:
		profile.Losses++
	}
	profile.TotalMoves += res.MoveCount
	profile.CorrectMoves += res.CorrectMoves
	if res.MoveCount > 0 && res.Accuracy > profile.BestAccuracy {
		profile.BestAccuracy = res.Accuracy
	}
	profile.LastCategory = res.Category
	if res.EndedAt.After(profile.LastPlayedAt) {
		profile.LastPlayedAt = res.EndedAt
	}
}
