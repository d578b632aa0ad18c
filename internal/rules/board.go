package rules

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

var (
	ErrInvalidFEN  = errors.New("invalid fen")
	ErrInvalidMove = errors.New("invalid move")
	ErrGameOver    = errors.New("game already finished")
)

type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func (c Color) Opposite() Color {
	if c == White {
		return Black
	}
	return White
}

func colorFrom(c nchess.Color) Color {
	if c == nchess.Black {
		return Black
	}
	return White
}

// MoveInfo describes one applied (or previewed) move.
type MoveInfo struct {
	UCI       string
	SAN       string
	From      string
	To        string
	Promotion string // lower-case piece letter, empty when not a promotion
	Color     Color
	FENBefore string
	FENAfter  string
}

// Board wraps a corentings game started from an arbitrary FEN.
type Board struct {
	game *nchess.Game
}

func NewBoard(fen string) (*Board, error) {
	b := &Board{}
	if err := b.LoadFEN(fen); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Board) LoadFEN(fen string) error {
	opt, err := nchess.FEN(padFEN(fen))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFEN, err)
	}
	b.game = nchess.NewGame(opt)
	return nil
}

// padFEN fills in the optional trailing fields so four-field cache keys
// load as well as full FENs.
func padFEN(fen string) string {
	fields := strings.Fields(fen)
	defaults := []string{"", "w", "-", "-", "0", "1"}
	for len(fields) > 0 && len(fields) < len(defaults) {
		fields = append(fields, defaults[len(fields)])
	}
	return strings.Join(fields, " ")
}

func (b *Board) FEN() string {
	if b == nil || b.game == nil {
		return ""
	}
	return b.game.FEN()
}

func (b *Board) Turn() Color {
	return colorFrom(b.game.Position().Turn())
}

// Diagram is a plain-text board from White's side.
func (b *Board) Diagram() string {
	return b.game.Position().Board().Draw()
}

func (b *Board) Clone() *Board {
	return &Board{game: b.game.Clone()}
}

// LegalMovesUCI lists the legal moves in lower-case UCI.
func (b *Board) LegalMovesUCI() []string {
	valid := b.game.ValidMoves()
	out := make([]string, 0, len(valid))
	for _, mv := range valid {
		out = append(out, strings.ToLower(mv.String()))
	}
	return out
}

func (b *Board) IsValidMove(uci string) bool {
	uci = strings.ToLower(strings.TrimSpace(uci))
	for _, mv := range b.LegalMovesUCI() {
		if mv == uci {
			return true
		}
	}
	return false
}

// NeedsPromotionChoice reports whether a four-character from/to pair is
// only legal with a promotion piece attached.
func (b *Board) NeedsPromotionChoice(fromTo string) bool {
	fromTo = strings.ToLower(strings.TrimSpace(fromTo))
	if len(fromTo) != 4 {
		return false
	}
	for _, mv := range b.LegalMovesUCI() {
		if len(mv) == 5 && strings.HasPrefix(mv, fromTo) {
			return true
		}
	}
	return false
}

func (b *Board) SANToUCI(san string) (string, error) {
	pos := b.game.Position()
	mv, err := nchess.AlgebraicNotation{}.Decode(pos, strings.TrimSpace(san))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidMove, san)
	}
	uci := strings.ToLower(nchess.UCINotation{}.Encode(pos, mv))
	if !b.IsValidMove(uci) {
		return "", fmt.Errorf("%w: %q", ErrInvalidMove, san)
	}
	return uci, nil
}

func (b *Board) UCIToSAN(uci string) (string, error) {
	uci = strings.ToLower(strings.TrimSpace(uci))
	if !b.IsValidMove(uci) {
		return "", fmt.Errorf("%w: %q", ErrInvalidMove, uci)
	}
	pos := b.game.Position()
	mv, err := nchess.UCINotation{}.Decode(pos, uci)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidMove, uci)
	}
	return nchess.AlgebraicNotation{}.Encode(pos, mv), nil
}

// ResolveMove accepts UCI or SAN and returns the legal UCI it denotes.
func (b *Board) ResolveMove(input string) (string, error) {
	text := strings.TrimSpace(input)
	if text == "" {
		return "", ErrInvalidMove
	}
	if uci := strings.ToLower(text); b.IsValidMove(uci) {
		return uci, nil
	}
	return b.SANToUCI(text)
}

// MakeMove applies a UCI or SAN move.
func (b *Board) MakeMove(input string) (MoveInfo, error) {
	if b.IsGameOver() {
		return MoveInfo{}, ErrGameOver
	}
	uci, err := b.ResolveMove(input)
	if err != nil {
		return MoveInfo{}, err
	}
	info := MoveInfo{
		UCI:       uci,
		From:      uci[0:2],
		To:        uci[2:4],
		Color:     b.Turn(),
		FENBefore: b.game.FEN(),
	}
	if len(uci) == 5 {
		info.Promotion = uci[4:5]
	}
	if info.SAN, err = b.UCIToSAN(uci); err != nil {
		return MoveInfo{}, err
	}
	if err := b.game.PushNotationMove(uci, nchess.UCINotation{}, nil); err != nil {
		return MoveInfo{}, fmt.Errorf("%w: %v", ErrInvalidMove, err)
	}
	info.FENAfter = b.game.FEN()
	return info, nil
}

// PreviewMove reports what MakeMove would do without touching the board.
func (b *Board) PreviewMove(input string) (MoveInfo, error) {
	return b.Clone().MakeMove(input)
}

func (b *Board) IsGameOver() bool { return b.game.Outcome() != nchess.NoOutcome }

func (b *Board) IsCheckmate() bool { return b.game.Method() == nchess.Checkmate }

func (b *Board) IsStalemate() bool { return b.game.Method() == nchess.Stalemate }

// IsDraw covers every drawn termination, stalemate included.
func (b *Board) IsDraw() bool { return b.game.Outcome() == nchess.Draw }

// Winner is the winning colour after checkmate, empty otherwise.
func (b *Board) Winner() Color {
	switch b.game.Outcome() {
	case nchess.WhiteWon:
		return White
	case nchess.BlackWon:
		return Black
	}
	return ""
}

type Status struct {
	Turn      Color
	GameOver  bool
	Checkmate bool
	Stalemate bool
	Draw      bool
	Legal     int
}

// Inspect reports the terminal state of a FEN without keeping a board.
func Inspect(fen string) (Status, error) {
	b, err := NewBoard(fen)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Turn:      b.Turn(),
		GameOver:  b.IsGameOver(),
		Checkmate: b.IsCheckmate(),
		Stalemate: b.IsStalemate(),
		Draw:      b.IsDraw(),
		Legal:     len(b.LegalMovesUCI()),
	}, nil
}
