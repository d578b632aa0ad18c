package domain

import "time"

// TrainingResult is one finished (or abandoned) endgame session.
type TrainingResult struct {
	ID              int64
	SessionID       string
	PlayerID        string
	PositionID      string
	Category        string
	StartFEN        string
	FinalFEN        string
	PlayerColor     string
	Result          string
	Winner          string
	MovesUCI        []string
	Mistakes        []string
	MoveCount       int
	CorrectMoves    int
	SuboptimalMoves int
	Accuracy        int
	StartedAt       time.Time
	EndedAt         time.Time
	Duration        time.Duration
}

// TrainingProfile aggregates a player's results.
type TrainingProfile struct {
	PlayerID     string
	Sessions     int
	Wins         int
	Draws        int
	Losses       int
	TotalMoves   int
	CorrectMoves int
	BestAccuracy int
	LastCategory string
	LastPlayedAt time.Time
	UpdatedAt    time.Time
	CreatedAt    time.Time
}

// Accuracy is the lifetime share of correct moves, rounded to a percent.
func (p TrainingProfile) Accuracy() int {
	if p.TotalMoves == 0 {
		return 0
	}
	return (p.CorrectMoves*100 + p.TotalMoves/2) / p.TotalMoves
}
