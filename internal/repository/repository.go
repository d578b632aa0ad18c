package repository

import (
	"context"
	"errors"

	"github.com/park285/Cheese-Endgame-Trainer/internal/domain"
)

var ErrDuplicateResult = errors.New("training result already stored")

// Repository stores finished training sessions and per-player profiles.
// Lookups return (nil, nil) when nothing matches.
type Repository interface {
	InsertResult(ctx context.Context, result *domain.TrainingResult) (int64, error)
	RecentResults(ctx context.Context, playerID string, limit int) ([]*domain.TrainingResult, error)
	GetResult(ctx context.Context, id int64, playerID string) (*domain.TrainingResult, error)
	GetResultBySession(ctx context.Context, sessionID string, playerID string) (*domain.TrainingResult, error)
	GetProfile(ctx context.Context, playerID string) (*domain.TrainingProfile, error)
	// AddToProfile folds one finished session into the player's profile
	// atomically.
	AddToProfile(ctx context.Context, result domain.TrainingResult) error
}

const defaultRecentLimit = 10
