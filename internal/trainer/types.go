package trainer

import (
	"context"
	"errors"
	"time"

	"github.com/park285/Cheese-Endgame-Trainer/internal/domain"
	"github.com/park285/Cheese-Endgame-Trainer/internal/positions"
	"github.com/park285/Cheese-Endgame-Trainer/internal/rules"
	"github.com/park285/Cheese-Endgame-Trainer/internal/tablebase"
)

var (
	ErrNotPlayerTurn       = errors.New("not the player's turn")
	ErrNoSession           = errors.New("no active training session")
	ErrNoMistake           = errors.New("no rejected move to continue with")
	ErrNothingToTakeBack   = errors.New("nothing to take back")
	ErrSessionFinished     = errors.New("session already finished")
	ErrStaleSession        = errors.New("session changed while the request was in flight")
	ErrOpponentUnavailable = errors.New("opponent has no move to play")
	ErrClosed              = errors.New("coordinator closed")
)

type State string

const (
	StateIdle             State = "idle"
	StateLoading          State = "loading"
	StateWaitingForPlayer State = "waitingForPlayer"
	StateValidatingMove   State = "validatingMove"
	StateOpponentThinking State = "opponentThinking"
	StateSessionComplete  State = "sessionComplete"
)

type FeedbackType string

const (
	FeedbackNone    FeedbackType = ""
	FeedbackSuccess FeedbackType = "success"
	FeedbackInfo    FeedbackType = "info"
	FeedbackWarning FeedbackType = "warning"
	FeedbackError   FeedbackType = "error"
)

type Feedback struct {
	Type    FeedbackType `json:"type"`
	Message string       `json:"message"`
}

// Tablebase is the part of tablebase.Cache the trainer needs. A nil result
// with a nil error means the position has no tablebase data.
type Tablebase interface {
	Evaluation(ctx context.Context, fen string) (*tablebase.Result, error)
	TopMoves(ctx context.Context, fen string, limit int) ([]tablebase.Move, error)
}

type PositionSource interface {
	RandomPosition(ctx context.Context, category string) (positions.Position, error)
}

// Recorder persists finished sessions.
type Recorder interface {
	Record(ctx context.Context, result domain.TrainingResult) error
}

// Board is the rules collaborator. rules.Board satisfies it.
type Board interface {
	LoadFEN(fen string) error
	FEN() string
	Turn() rules.Color
	ResolveMove(input string) (string, error)
	MakeMove(input string) (rules.MoveInfo, error)
	PreviewMove(input string) (rules.MoveInfo, error)
	NeedsPromotionChoice(fromTo string) bool
	LegalMovesUCI() []string
	IsGameOver() bool
	IsCheckmate() bool
	IsStalemate() bool
	Winner() rules.Color
}

// PromotionChooser asks the player which piece to promote to. It returns
// one of "q", "r", "b", "n".
type PromotionChooser func(ctx context.Context, move PromotionInfo) (string, error)

// Baseline pins the reference evaluation for the next graded move.
type Baseline struct {
	WDL       int       `json:"wdl"`
	FEN       string    `json:"fen"`
	Timestamp time.Time `json:"timestamp"`
}

type Session struct {
	ID              string
	PositionID      string
	Category        string
	Goal            positions.Goal
	StartFEN        string
	PlayerColor     rules.Color
	StartTime       time.Time
	EndTime         time.Time
	MoveCount       int
	CorrectMoves    int
	SuboptimalMoves int
	Mistakes        []string
	MovesUCI        []string
	Result          string
	Winner          rules.Color
}

// Accuracy is correct/total as a rounded percentage; zero before any move.
func (s *Session) Accuracy() int {
	if s == nil || s.MoveCount == 0 {
		return 0
	}
	return (s.CorrectMoves*100 + s.MoveCount/2) / s.MoveCount
}

type Stats struct {
	SessionID       string        `json:"session_id"`
	PositionID      string        `json:"position_id"`
	MoveCount       int           `json:"move_count"`
	CorrectMoves    int           `json:"correct_moves"`
	SuboptimalMoves int           `json:"suboptimal_moves"`
	Mistakes        []string      `json:"mistakes"`
	Accuracy        int           `json:"accuracy"`
	StartTime       time.Time     `json:"start_time"`
	Elapsed         time.Duration `json:"elapsed"`
	Finished        bool          `json:"finished"`
	Result          string        `json:"result,omitempty"`
}

// Snapshot is what subscribers receive after every transition.
type Snapshot struct {
	Seq              uint64      `json:"seq"`
	State            State       `json:"state"`
	SessionID        string      `json:"session_id,omitempty"`
	PositionID       string      `json:"position_id,omitempty"`
	Category         string      `json:"category,omitempty"`
	CurrentFEN       string      `json:"current_fen,omitempty"`
	Feedback         Feedback    `json:"feedback"`
	OpponentThinking bool        `json:"opponent_thinking"`
	MoveCount        int         `json:"move_count"`
	CorrectMoves     int         `json:"correct_moves"`
	PlayerColor      rules.Color `json:"player_color,omitempty"`
	LastMove         string      `json:"last_move,omitempty"`
	CanContinue      bool        `json:"can_continue"`
}

// MoveResult is the synchronous answer to HandlePlayerMove.
type MoveResult struct {
	Valid        bool           `json:"valid"`
	Accepted     bool           `json:"accepted"`
	Move         rules.MoveInfo `json:"move"`
	Quality      MoveQuality    `json:"quality"`
	Feedback     Feedback       `json:"feedback"`
	Finished     bool           `json:"finished"`
	PromotionWin bool           `json:"promotion_win"`
}
