package rules

import (
	"errors"
	"slices"
	"strings"
	"testing"
)

const (
	kqkStart      = "8/8/8/4k3/8/8/8/K6Q w - - 0 1"
	mateInOne     = "k7/8/1K6/8/8/8/7Q/8 w - - 0 1"
	stalemateTrap = "k7/8/1K6/8/8/8/8/2Q5 w - - 0 1"
	promoteMate   = "k7/4P3/1K6/8/8/8/8/8 w - - 0 1"
)

func TestNewBoardRejectsGarbage(t *testing.T) {
	if _, err := NewBoard("not a fen"); !errors.Is(err, ErrInvalidFEN) {
		t.Fatalf("err = %v, want ErrInvalidFEN", err)
	}
}

func TestMakeMoveUCIAndSAN(t *testing.T) {
	b, err := NewBoard(kqkStart)
	if err != nil {
		t.Fatalf("NewBoard: %v", err)
	}
	if b.Turn() != White {
		t.Fatalf("turn = %s", b.Turn())
	}

	info, err := b.MakeMove("h1h5")
	if err != nil {
		t.Fatalf("MakeMove uci: %v", err)
	}
	if info.From != "h1" || info.To != "h5" || info.Color != White || info.SAN != "Qh5+" {
		t.Fatalf("info = %+v", info)
	}
	if info.FENBefore == info.FENAfter || b.FEN() != info.FENAfter {
		t.Fatalf("fen not updated: %+v", info)
	}
	if b.Turn() != Black {
		t.Fatalf("turn after = %s", b.Turn())
	}

	info, err = b.MakeMove("Kd4")
	if err != nil {
		t.Fatalf("MakeMove san: %v", err)
	}
	if info.UCI != "e5d4" || info.Color != Black {
		t.Fatalf("san info = %+v", info)
	}
}

func TestMakeMoveRejectsIllegal(t *testing.T) {
	b, _ := NewBoard(kqkStart)
	before := b.FEN()
	for _, in := range []string{"", "h1h1", "e5e4", "Qa9", "zz"} {
		if _, err := b.MakeMove(in); !errors.Is(err, ErrInvalidMove) {
			t.Fatalf("MakeMove(%q) err = %v", in, err)
		}
	}
	if b.FEN() != before {
		t.Fatalf("board changed after illegal input")
	}
}

func TestPreviewLeavesBoardAlone(t *testing.T) {
	b, _ := NewBoard(kqkStart)
	before := b.FEN()
	info, err := b.PreviewMove("h1e4")
	if err != nil {
		t.Fatalf("PreviewMove: %v", err)
	}
	if info.FENAfter == before || b.FEN() != before {
		t.Fatalf("preview mutated board or produced nothing")
	}
}

func TestConversions(t *testing.T) {
	b, _ := NewBoard(kqkStart)
	uci, err := b.SANToUCI("Qh5+")
	if err != nil || uci != "h1h5" {
		t.Fatalf("SANToUCI = %q, %v", uci, err)
	}
	san, err := b.UCIToSAN("h1h5")
	if err != nil || san != "Qh5+" {
		t.Fatalf("UCIToSAN = %q, %v", san, err)
	}
	if _, err := b.UCIToSAN("a1c3"); err == nil {
		t.Fatalf("expected error for a two-square king move")
	}
	if !b.IsValidMove("H1H5") {
		t.Fatalf("upper-case uci should be accepted")
	}
}

func TestCheckmateDetection(t *testing.T) {
	b, _ := NewBoard(mateInOne)
	if b.IsGameOver() {
		t.Fatalf("game over before the mate")
	}
	info, err := b.MakeMove("h2h8")
	if err != nil {
		t.Fatalf("MakeMove: %v", err)
	}
	if !strings.HasSuffix(info.SAN, "#") {
		t.Fatalf("SAN = %q", info.SAN)
	}
	if !b.IsGameOver() || !b.IsCheckmate() || b.IsDraw() || b.Winner() != White {
		t.Fatalf("mate not detected: over=%v mate=%v draw=%v", b.IsGameOver(), b.IsCheckmate(), b.IsDraw())
	}
	if _, err := b.MakeMove("a8a7"); !errors.Is(err, ErrGameOver) {
		t.Fatalf("move after mate err = %v", err)
	}
}

func TestStalemateDetection(t *testing.T) {
	b, _ := NewBoard(stalemateTrap)
	if _, err := b.MakeMove("c1c7"); err != nil {
		t.Fatalf("MakeMove: %v", err)
	}
	if !b.IsStalemate() || !b.IsDraw() || b.IsCheckmate() {
		t.Fatalf("stalemate not detected")
	}
	st, err := Inspect(b.FEN())
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if !st.GameOver || !st.Stalemate || st.Legal != 0 || st.Turn != Black {
		t.Fatalf("status = %+v", st)
	}
}

func TestPromotion(t *testing.T) {
	b, _ := NewBoard(promoteMate)
	if !b.NeedsPromotionChoice("e7e8") {
		t.Fatalf("e7e8 should need a piece")
	}
	if b.NeedsPromotionChoice("b6b5") {
		t.Fatalf("king move flagged as promotion")
	}
	legal := b.LegalMovesUCI()
	for _, p := range []string{"q", "r", "b", "n"} {
		if !slices.Contains(legal, "e7e8"+p) {
			t.Fatalf("missing e7e8%s in %v", p, legal)
		}
	}
	if _, err := b.MakeMove("e7e8"); !errors.Is(err, ErrInvalidMove) {
		t.Fatalf("bare promotion err = %v", err)
	}
	info, err := b.MakeMove("e7e8q")
	if err != nil {
		t.Fatalf("MakeMove: %v", err)
	}
	if info.Promotion != "q" {
		t.Fatalf("promotion = %q", info.Promotion)
	}
	if !b.IsCheckmate() {
		t.Fatalf("e8=Q should mate")
	}
}

func TestInspectCheckmatedPosition(t *testing.T) {
	st, err := Inspect("k6Q/8/1K6/8/8/8/8/8 b - - 1 1")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if !st.Checkmate || !st.GameOver || st.Legal != 0 {
		t.Fatalf("status = %+v", st)
	}
	if _, err := Inspect("8/8/8"); !errors.Is(err, ErrInvalidFEN) {
		t.Fatalf("Inspect garbage err = %v", err)
	}
}

func TestColorOpposite(t *testing.T) {
	if White.Opposite() != Black || Black.Opposite() != White {
		t.Fatalf("Opposite is broken")
	}
}
