package trainer

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/park285/Cheese-Endgame-Trainer/internal/positions"
	"github.com/park285/Cheese-Endgame-Trainer/internal/rules"
)

const kqkStart = "8/8/8/4k3/8/8/8/K6Q w - - 0 1"

type scenario struct {
	tb           *fakeTB
	afterGood    string
	afterReply   string
	afterBlunder string
}

// kqkScenario wires Qh5+ Kd4 as the main line and Qe4+ as the blunder.
func kqkScenario(t *testing.T) scenario {
	t.Helper()
	tb := newFakeTB()
	s := scenario{tb: tb}
	s.afterGood = afterFEN(t, kqkStart, "h1h5")
	s.afterReply = afterFEN(t, s.afterGood, "e5d4")
	s.afterBlunder = afterFEN(t, kqkStart, "h1e4")

	tb.set(kqkStart, 2, win("h1h5", 9), draw("h1e4"))
	tb.set(s.afterGood, -2, loss("e5d4", -8), loss("e5e6", -6))
	tb.set(s.afterReply, 2, win("h5f5", 7))
	tb.set(s.afterBlunder, 0, draw("e5e4"))
	return s
}

func newTestCoordinator(t *testing.T, tb Tablebase, cfg Config, opts ...Option) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(tb, nil, cfg, nil, opts...)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func start(t *testing.T, c *Coordinator, fen string, player rules.Color) {
	t.Helper()
	pos := positions.Position{ID: "test", Category: "queen", Title: "Test", FEN: fen, Player: player}
	if err := c.StartPosition(context.Background(), pos); err != nil {
		t.Fatalf("StartPosition: %v", err)
	}
}

func TestNewCoordinatorRequiresTablebase(t *testing.T) {
	if _, err := NewCoordinator(nil, nil, DefaultConfig(), nil); err == nil {
		t.Fatalf("nil tablebase accepted")
	}
}

func TestCoordinatorNoSession(t *testing.T) {
	c := newTestCoordinator(t, newFakeTB(), Config{})
	if _, err := c.HandlePlayerMove(context.Background(), "h1h5"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("err = %v, want ErrNoSession", err)
	}
	if _, err := c.SessionStats(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("stats err = %v", err)
	}
	if c.Snapshot().State != StateIdle {
		t.Fatalf("state = %s", c.Snapshot().State)
	}
}

func TestCoordinatorOptimalMoveAndReply(t *testing.T) {
	s := kqkScenario(t)
	c := newTestCoordinator(t, s.tb, Config{OpponentDelay: 0})

	var mu sync.Mutex
	var states []State
	c.Subscribe(func(snap Snapshot) {
		mu.Lock()
		states = append(states, snap.State)
		mu.Unlock()
	})

	start(t, c, kqkStart, rules.White)
	if snap := c.Snapshot(); snap.State != StateWaitingForPlayer || snap.PlayerColor != rules.White {
		t.Fatalf("snapshot = %+v", snap)
	}

	res, err := c.HandlePlayerMove(context.Background(), "Qh5+")
	if err != nil {
		t.Fatalf("HandlePlayerMove: %v", err)
	}
	if !res.Valid || !res.Accepted || !res.Quality.WasOptimal || res.Quality.OutcomeChanged {
		t.Fatalf("result = %+v", res)
	}
	if res.Move.UCI != "h1h5" || res.Feedback.Type != FeedbackSuccess {
		t.Fatalf("move=%s feedback=%+v", res.Move.UCI, res.Feedback)
	}

	waitOpponent(t, c)
	snap := c.Snapshot()
	if snap.State != StateWaitingForPlayer || snap.LastMove != "e5d4" || snap.CurrentFEN != s.afterReply {
		t.Fatalf("after reply = %+v", snap)
	}
	if !strings.Contains(snap.Feedback.Message, "Kd4") {
		t.Fatalf("feedback = %q", snap.Feedback.Message)
	}

	stats, err := c.SessionStats()
	if err != nil {
		t.Fatalf("SessionStats: %v", err)
	}
	if stats.MoveCount != 1 || stats.CorrectMoves != 1 || stats.Accuracy != 100 || stats.Finished {
		t.Fatalf("stats = %+v", stats)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateLoading, StateWaitingForPlayer, StateValidatingMove, StateOpponentThinking, StateWaitingForPlayer}
	if !slices.Equal(states, want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
}

func TestCoordinatorRejectsOutcomeChange(t *testing.T) {
	s := kqkScenario(t)
	c := newTestCoordinator(t, s.tb, Config{OpponentDelay: time.Hour})
	start(t, c, kqkStart, rules.White)

	res, err := c.HandlePlayerMove(context.Background(), "h1e4")
	if err != nil {
		t.Fatalf("HandlePlayerMove: %v", err)
	}
	if !res.Valid || res.Accepted || !res.Quality.OutcomeChanged || !res.Quality.ShouldShowErrorDialog {
		t.Fatalf("result = %+v", res)
	}
	if res.Quality.BestMove == nil || res.Quality.BestMove.UCI != "h1h5" {
		t.Fatalf("best = %+v", res.Quality.BestMove)
	}
	if res.Feedback.Type != FeedbackWarning {
		t.Fatalf("feedback = %+v", res.Feedback)
	}

	snap := c.Snapshot()
	if snap.State != StateWaitingForPlayer || snap.CurrentFEN != kqkStart || !snap.CanContinue {
		t.Fatalf("snapshot = %+v", snap)
	}
	stats, _ := c.SessionStats()
	if stats.MoveCount != 1 || stats.CorrectMoves != 0 || len(stats.Mistakes) != 1 || stats.Mistakes[0] != "h1e4" {
		t.Fatalf("stats = %+v", stats)
	}

	if err := c.ContinueAfterMistake(context.Background()); err != nil {
		t.Fatalf("ContinueAfterMistake: %v", err)
	}
	snap = c.Snapshot()
	if snap.State != StateOpponentThinking || snap.CurrentFEN != s.afterBlunder || snap.CanContinue {
		t.Fatalf("after continue = %+v", snap)
	}
	if err := c.ContinueAfterMistake(context.Background()); !errors.Is(err, ErrNotPlayerTurn) {
		t.Fatalf("second continue err = %v", err)
	}
}

func TestCoordinatorContinueWithoutMistake(t *testing.T) {
	s := kqkScenario(t)
	c := newTestCoordinator(t, s.tb, Config{})
	start(t, c, kqkStart, rules.White)
	if err := c.ContinueAfterMistake(context.Background()); !errors.Is(err, ErrNoMistake) {
		t.Fatalf("err = %v, want ErrNoMistake", err)
	}
}

func TestCoordinatorInvalidInput(t *testing.T) {
	s := kqkScenario(t)
	c := newTestCoordinator(t, s.tb, Config{})
	start(t, c, kqkStart, rules.White)

	for _, in := range []string{"", "zz", "h1h9", "a1a3"} {
		res, err := c.HandlePlayerMove(context.Background(), in)
		if err != nil {
			t.Fatalf("HandlePlayerMove(%q): %v", in, err)
		}
		if res.Valid || res.Feedback.Type != FeedbackError {
			t.Fatalf("HandlePlayerMove(%q) = %+v", in, res)
		}
	}
	stats, _ := c.SessionStats()
	if stats.MoveCount != 0 {
		t.Fatalf("invalid input counted: %+v", stats)
	}
	if c.Snapshot().State != StateWaitingForPlayer {
		t.Fatalf("state = %s", c.Snapshot().State)
	}
}

func TestCoordinatorRefusesMoveDuringOpponentTurn(t *testing.T) {
	s := kqkScenario(t)
	c := newTestCoordinator(t, s.tb, Config{OpponentDelay: time.Hour})
	start(t, c, kqkStart, rules.White)

	if _, err := c.HandlePlayerMove(context.Background(), "h1h5"); err != nil {
		t.Fatalf("HandlePlayerMove: %v", err)
	}
	if _, err := c.HandlePlayerMove(context.Background(), "e5d4"); !errors.Is(err, ErrNotPlayerTurn) {
		t.Fatalf("err = %v, want ErrNotPlayerTurn", err)
	}
}

func TestCoordinatorTakeBackCancelsReply(t *testing.T) {
	s := kqkScenario(t)
	c := newTestCoordinator(t, s.tb, Config{OpponentDelay: time.Hour})
	start(t, c, kqkStart, rules.White)

	if err := c.TakeBack(context.Background()); !errors.Is(err, ErrNothingToTakeBack) {
		t.Fatalf("early takeback err = %v", err)
	}
	if _, err := c.HandlePlayerMove(context.Background(), "h1h5"); err != nil {
		t.Fatalf("HandlePlayerMove: %v", err)
	}
	pending := c.opponent.Pending()
	if pending == nil {
		t.Fatalf("no reply scheduled")
	}

	if err := c.TakeBack(context.Background()); err != nil {
		t.Fatalf("TakeBack: %v", err)
	}
	if !pending.Cancelled() {
		t.Fatalf("pending reply not cancelled")
	}
	snap := c.Snapshot()
	if snap.State != StateWaitingForPlayer || snap.CurrentFEN != kqkStart || snap.LastMove != "" {
		t.Fatalf("after takeback = %+v", snap)
	}
}

func TestCoordinatorTakeBackAfterReply(t *testing.T) {
	s := kqkScenario(t)
	c := newTestCoordinator(t, s.tb, Config{})
	start(t, c, kqkStart, rules.White)

	if _, err := c.HandlePlayerMove(context.Background(), "h1h5"); err != nil {
		t.Fatalf("HandlePlayerMove: %v", err)
	}
	waitOpponent(t, c)
	if err := c.TakeBack(context.Background()); err != nil {
		t.Fatalf("TakeBack: %v", err)
	}
	if fen := c.Snapshot().CurrentFEN; fen != kqkStart {
		t.Fatalf("fen = %q, want start", fen)
	}
}

func TestCoordinatorFinalizesOnMate(t *testing.T) {
	const mateInOne = "k7/8/1K6/8/8/8/7Q/8 w - - 0 1"
	tb := newFakeTB()
	tb.set(mateInOne, 2, win("h2h8", 1))
	tb.set(afterFEN(t, mateInOne, "h2h8"), -2)
	rec := &fakeRecorder{}
	c := newTestCoordinator(t, tb, Config{}, WithRecorder(rec), WithPlayerID("alice"))
	start(t, c, mateInOne, rules.White)

	res, err := c.HandlePlayerMove(context.Background(), "h2h8")
	if err != nil {
		t.Fatalf("HandlePlayerMove: %v", err)
	}
	if !res.Finished || res.Feedback.Type != FeedbackSuccess {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Feedback.Message, "White wins") {
		t.Fatalf("feedback = %q", res.Feedback.Message)
	}
	if c.Snapshot().State != StateSessionComplete {
		t.Fatalf("state = %s", c.Snapshot().State)
	}
	stats, _ := c.SessionStats()
	if !stats.Finished || stats.Result != finishCheckmate {
		t.Fatalf("stats = %+v", stats)
	}

	got := rec.all()
	if len(got) != 1 {
		t.Fatalf("recorded %d results", len(got))
	}
	if r := got[0]; r.PlayerID != "alice" || r.Winner != "white" || r.Accuracy != 100 || len(r.MovesUCI) != 1 {
		t.Fatalf("recorded = %+v", r)
	}
	if _, err := c.HandlePlayerMove(context.Background(), "h8h1"); !errors.Is(err, ErrNotPlayerTurn) {
		t.Fatalf("move after finish err = %v", err)
	}
	if err := c.TakeBack(context.Background()); !errors.Is(err, ErrSessionFinished) {
		t.Fatalf("take back after finish err = %v", err)
	}
	if c.Snapshot().State != StateSessionComplete || len(rec.all()) != 1 {
		t.Fatalf("finished session reopened: %+v", c.Snapshot())
	}
}

func TestCoordinatorPromotionWin(t *testing.T) {
	tb := newFakeTB()
	tb.set(promoteQuiet, 2, win("e7e8q", 12))
	tb.set(afterFEN(t, promoteQuiet, "e7e8q"), -2)

	var asked PromotionInfo
	cfg := Config{PromotionChooser: func(_ context.Context, info PromotionInfo) (string, error) {
		asked = info
		return "Q", nil
	}}
	c := newTestCoordinator(t, tb, cfg)
	start(t, c, promoteQuiet, rules.White)

	res, err := c.HandlePlayerMove(context.Background(), "e7e8")
	if err != nil {
		t.Fatalf("HandlePlayerMove: %v", err)
	}
	if asked.From != "e7" || asked.To != "e8" {
		t.Fatalf("chooser asked %+v", asked)
	}
	if !res.Accepted || !res.PromotionWin || !res.Finished || res.Move.UCI != "e7e8q" {
		t.Fatalf("result = %+v", res)
	}
	stats, _ := c.SessionStats()
	if stats.Result != finishPromotion {
		t.Fatalf("result = %q", stats.Result)
	}
}

func TestCoordinatorOpponentMovesFirst(t *testing.T) {
	s := kqkScenario(t)
	c := newTestCoordinator(t, s.tb, Config{})
	start(t, c, s.afterGood, rules.White)

	waitOpponent(t, c)
	snap := c.Snapshot()
	if snap.State != StateWaitingForPlayer || snap.CurrentFEN != s.afterReply {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestCoordinatorOpponentFailureAndResume(t *testing.T) {
	s := kqkScenario(t)
	s.tb.err = errors.New("tablebase down")
	c := newTestCoordinator(t, s.tb, Config{RandomFallback: false})
	start(t, c, s.afterGood, rules.White)

	waitOpponent(t, c)
	snap := c.Snapshot()
	if snap.State != StateWaitingForPlayer || snap.Feedback.Type != FeedbackError {
		t.Fatalf("snapshot = %+v", snap)
	}
	if _, err := c.HandlePlayerMove(context.Background(), "h5h1"); !errors.Is(err, ErrNotPlayerTurn) {
		t.Fatalf("err = %v, want ErrNotPlayerTurn", err)
	}

	s.tb.mu.Lock()
	s.tb.err = nil
	s.tb.mu.Unlock()
	if err := c.ResumeOpponent(context.Background()); err != nil {
		t.Fatalf("ResumeOpponent: %v", err)
	}
	waitOpponent(t, c)
	if fen := c.Snapshot().CurrentFEN; fen != s.afterReply {
		t.Fatalf("fen = %q", fen)
	}
}

type stubSource struct{ pos positions.Position }

func (s stubSource) RandomPosition(ctx context.Context, category string) (positions.Position, error) {
	if category != "" && category != s.pos.Category {
		return positions.Position{}, positions.ErrUnknownCategory
	}
	return s.pos, ctx.Err()
}

func TestCoordinatorStartNewSession(t *testing.T) {
	s := kqkScenario(t)
	src := stubSource{pos: positions.Position{ID: "kqk", Category: "queen", FEN: kqkStart, Player: rules.White}}
	c, err := NewCoordinator(s.tb, src, Config{}, nil)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	defer c.Close()

	if err := c.StartNewSession(context.Background(), "queen"); err != nil {
		t.Fatalf("StartNewSession: %v", err)
	}
	first := c.Snapshot().SessionID
	if err := c.LoadNextPosition(context.Background()); err != nil {
		t.Fatalf("LoadNextPosition: %v", err)
	}
	if next := c.Snapshot().SessionID; next == "" || next == first {
		t.Fatalf("session ids %q -> %q", first, next)
	}

	if err := c.StartNewSession(context.Background(), "rook"); !errors.Is(err, positions.ErrUnknownCategory) {
		t.Fatalf("err = %v", err)
	}
	snap := c.Snapshot()
	if snap.State != StateIdle || snap.Feedback.Type != FeedbackError {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestCoordinatorCloseStopsWork(t *testing.T) {
	s := kqkScenario(t)
	c := newTestCoordinator(t, s.tb, Config{})
	c.Close()
	if err := c.StartPosition(context.Background(), positions.Position{FEN: kqkStart}); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}
