package trainer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/park285/Cheese-Endgame-Trainer/internal/domain"
	"github.com/park285/Cheese-Endgame-Trainer/internal/rules"
	"github.com/park285/Cheese-Endgame-Trainer/internal/tablebase"
)

type fakeTB struct {
	mu       sync.Mutex
	evals    map[string]tablebase.Result
	moves    map[string][]tablebase.Move
	err      error
	panicked bool
	calls    atomic.Int32
}

func newFakeTB() *fakeTB {
	return &fakeTB{evals: map[string]tablebase.Result{}, moves: map[string][]tablebase.Move{}}
}

func tbKey(fen string) string {
	k, err := tablebase.NormalizeFEN(fen)
	if err != nil {
		return fen
	}
	return k
}

func (f *fakeTB) set(fen string, wdl int, moves ...tablebase.Move) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := tbKey(fen)
	f.evals[k] = tablebase.Result{WDL: wdl, Category: tablebase.CategoryFromWDL(wdl), Precise: true}
	if len(moves) > 0 {
		f.moves[k] = moves
	}
}

func (f *fakeTB) Evaluation(ctx context.Context, fen string) (*tablebase.Result, error) {
	f.calls.Add(1)
	if f.panicked {
		panic("tablebase exploded")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	res, ok := f.evals[tbKey(fen)]
	if !ok {
		return nil, nil
	}
	return &res, nil
}

func (f *fakeTB) TopMoves(ctx context.Context, fen string, limit int) ([]tablebase.Move, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return tablebase.BestMoves(f.moves[tbKey(fen)], limit), nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	results []domain.TrainingResult
}

func (r *fakeRecorder) Record(_ context.Context, res domain.TrainingResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	return nil
}

func (r *fakeRecorder) all() []domain.TrainingResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.TrainingResult(nil), r.results...)
}

func win(uci string, dtm int) tablebase.Move {
	return tablebase.Move{UCI: uci, WDL: 2, DTM: &dtm, Category: tablebase.CategoryWin}
}

func draw(uci string) tablebase.Move {
	return tablebase.Move{UCI: uci, Category: tablebase.CategoryDraw}
}

func loss(uci string, dtm int) tablebase.Move {
	return tablebase.Move{UCI: uci, WDL: -2, DTM: &dtm, Category: tablebase.CategoryLoss}
}

func afterFEN(t *testing.T, fen, move string) string {
	t.Helper()
	b, err := rules.NewBoard(fen)
	if err != nil {
		t.Fatalf("NewBoard(%q): %v", fen, err)
	}
	info, err := b.PreviewMove(move)
	if err != nil {
		t.Fatalf("PreviewMove(%q): %v", move, err)
	}
	return info.FENAfter
}

func waitOpponent(t *testing.T, c *Coordinator) {
	t.Helper()
	select {
	case <-c.OpponentDone():
	case <-time.After(3 * time.Second):
		t.Fatal("opponent reply never finished")
	}
}
