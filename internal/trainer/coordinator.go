package trainer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Endgame-Trainer/internal/domain"
	"github.com/park285/Cheese-Endgame-Trainer/internal/msgcat"
	"github.com/park285/Cheese-Endgame-Trainer/internal/positions"
	"github.com/park285/Cheese-Endgame-Trainer/internal/rules"
	"github.com/park285/Cheese-Endgame-Trainer/internal/tablebase"
)

// Coordinator runs one training session at a time. All mutable state sits
// behind mu; tablebase I/O happens with mu released.
//
// Subscribers are called synchronously after each transition, in Seq order
// and without gaps. They may read Snapshot or SessionStats but must not call
// mutating methods.
type Coordinator struct {
	source   PositionSource
	cfg      Config
	logger   *zap.Logger
	messages *msgcat.Catalog
	recorder Recorder
	newBoard func() Board
	playerID string
	now      func() time.Time

	evaluator *MoveEvaluator
	promotion *PromotionHandler
	opponent  *OpponentTurnHandler

	mu       sync.Mutex
	state    State
	gen      uint64
	seq      uint64
	board    Board
	session  *Session
	position positions.Position
	feedback Feedback
	lastMove string
	history  []turnMark
	rejected *rejectedMove
	baseline *Baseline
	closed   bool
	outbox   []Snapshot

	pubMu   sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int
}

// turnMark is a position where the player had the move.
type turnMark struct {
	fen   string
	moves int
}

type rejectedMove struct {
	info    rules.MoveInfo
	quality MoveQuality
}

type Option func(*Coordinator)

func WithRecorder(r Recorder) Option { return func(c *Coordinator) { c.recorder = r } }

func WithMessages(m *msgcat.Catalog) Option { return func(c *Coordinator) { c.messages = m } }

func WithBoardFactory(fn func() Board) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.newBoard = fn
		}
	}
}

func WithPlayerID(id string) Option { return func(c *Coordinator) { c.playerID = id } }

func NewCoordinator(tb Tablebase, source PositionSource, cfg Config, logger *zap.Logger, opts ...Option) (*Coordinator, error) {
	if tb == nil {
		return nil, fmt.Errorf("tablebase is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.normalized()
	c := &Coordinator{
		source:   source,
		cfg:      cfg,
		logger:   logger,
		newBoard: func() Board { return &rules.Board{} },
		now:      time.Now,
		state:    StateIdle,
		subs:     make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.messages == nil {
		m, err := msgcat.New("")
		if err != nil {
			return nil, fmt.Errorf("load messages: %w", err)
		}
		c.messages = m
	}
	if c.cfg.PromotionChooser == nil {
		c.cfg.PromotionChooser = defaultPromotionChooser
	}
	c.evaluator = NewMoveEvaluator(tb, cfg.OptimalMoveLimit, cfg.LookupTimeout, logger)
	c.promotion = NewPromotionHandler(tb, cfg.LookupTimeout, logger)
	c.opponent = NewOpponentTurnHandler(tb, cfg.LookupTimeout, cfg.RandomFallback, logger)
	return c, nil
}

// Subscribe registers fn and returns a function that removes it.
func (c *Coordinator) Subscribe(fn func(Snapshot)) func() {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.pubMu.Lock()
		delete(c.subs, id)
		c.pubMu.Unlock()
	}
}

func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Coordinator) SessionStats() (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.session
	if s == nil {
		return Stats{}, ErrNoSession
	}
	end := s.EndTime
	if end.IsZero() {
		end = c.now()
	}
	return Stats{
		SessionID:       s.ID,
		PositionID:      s.PositionID,
		MoveCount:       s.MoveCount,
		CorrectMoves:    s.CorrectMoves,
		SuboptimalMoves: s.SuboptimalMoves,
		Mistakes:        append([]string(nil), s.Mistakes...),
		Accuracy:        s.Accuracy(),
		StartTime:       s.StartTime,
		Elapsed:         end.Sub(s.StartTime),
		Finished:        c.state == StateSessionComplete,
		Result:          s.Result,
	}, nil
}

// OpponentDone is closed when no opponent reply is pending.
func (c *Coordinator) OpponentDone() <-chan struct{} {
	if t := c.opponent.Pending(); t != nil {
		return t.Done()
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

// StartNewSession draws a position from category (any when empty).
func (c *Coordinator) StartNewSession(ctx context.Context, category string) error {
	if c.source == nil {
		return fmt.Errorf("no position source configured")
	}
	gen, err := c.beginLoading()
	if err != nil {
		return err
	}
	pos, err := c.source.RandomPosition(ctx, category)
	if err != nil {
		c.failLoading(gen, c.messages.Text("session.no_position", map[string]any{"Category": category}, err.Error()))
		return err
	}
	return c.install(gen, pos)
}

// StartPosition starts a session on a caller-supplied position.
func (c *Coordinator) StartPosition(ctx context.Context, pos positions.Position) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	gen, err := c.beginLoading()
	if err != nil {
		return err
	}
	return c.install(gen, pos)
}

// LoadNextPosition starts a fresh session in the current category.
func (c *Coordinator) LoadNextPosition(ctx context.Context) error {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	category := c.position.Category
	c.mu.Unlock()
	return c.StartNewSession(ctx, category)
}

func (c *Coordinator) beginLoading() (uint64, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	c.opponent.Cancel()
	c.gen++
	gen := c.gen
	c.feedback = Feedback{}
	c.transition(StateLoading)
	c.unlockAndPublish()
	return gen, nil
}

func (c *Coordinator) failLoading(gen uint64, message string) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.session = nil
	c.board = nil
	c.feedback = Feedback{Type: FeedbackError, Message: message}
	c.transition(StateIdle)
	c.unlockAndPublish()
}

func (c *Coordinator) install(gen uint64, pos positions.Position) error {
	board := c.newBoard()
	if err := board.LoadFEN(pos.FEN); err != nil {
		c.failLoading(gen, err.Error())
		return err
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return ErrStaleSession
	}
	player := pos.Player
	if player == "" {
		player = board.Turn()
	}
	if pos.Goal == "" {
		pos.Goal = positions.GoalWin
	}
	c.board = board
	c.position = pos
	c.session = &Session{
		ID:          uuid.NewString(),
		PositionID:  pos.ID,
		Category:    pos.Category,
		Goal:        pos.Goal,
		StartFEN:    board.FEN(),
		PlayerColor: player,
		StartTime:   c.now(),
	}
	c.history = nil
	c.rejected = nil
	c.baseline = nil
	c.lastMove = ""

	title := pos.Title
	if title == "" {
		title = "Custom position"
	}
	c.feedback = Feedback{Type: FeedbackInfo, Message: c.messages.Text("session.started", map[string]any{
		"Title": title,
		"Color": colorName(player),
		"Goal":  c.outcomeWord(goalWDL(pos.Goal)),
	}, title)}
	c.logger.Info("session_start",
		zap.String("session_id", c.session.ID),
		zap.String("position_id", pos.ID),
		zap.String("fen", c.session.StartFEN),
		zap.String("player", string(player)),
	)

	var result *domain.TrainingResult
	switch {
	case board.IsGameOver():
		result = c.finalizeLocked(c.terminalKind())
	case board.Turn() == player:
		c.history = append(c.history, turnMark{fen: board.FEN()})
		c.transition(StateWaitingForPlayer)
	default:
		c.transition(StateOpponentThinking)
		c.scheduleOpponentLocked()
	}
	c.unlockAndPublish()
	c.record(result)
	return nil
}

// HandlePlayerMove validates, grades and (unless rejected) applies a move
// given in UCI or SAN. Malformed or illegal text is reported through
// feedback with a nil error.
func (c *Coordinator) HandlePlayerMove(ctx context.Context, input string) (MoveResult, error) {
	text := strings.TrimSpace(input)

	c.mu.Lock()
	if err := c.playerTurnLocked(); err != nil {
		c.mu.Unlock()
		return MoveResult{}, err
	}
	gen := c.gen
	c.transition(StateValidatingMove)
	uci, resolveErr := c.board.ResolveMove(text)
	needChoice := resolveErr != nil && c.board.NeedsPromotionChoice(text)
	c.unlockAndPublish()

	if needChoice {
		piece, err := c.choosePromotion(ctx, text)
		if err != nil {
			c.logger.Debug("promotion_choice_failed", zap.Error(err))
		} else {
			uci, resolveErr = strings.ToLower(text)+piece, nil
		}
	}

	c.mu.Lock()
	if gen != c.gen || c.state != StateValidatingMove {
		c.mu.Unlock()
		return MoveResult{}, ErrStaleSession
	}
	if resolveErr != nil {
		return c.invalidLocked(text), nil
	}
	info, err := c.board.PreviewMove(uci)
	if err != nil {
		return c.invalidLocked(text), nil
	}
	c.session.MoveCount++
	baseline := c.baseline
	player := c.session.PlayerColor
	c.mu.Unlock()

	quality, err := c.evaluator.Evaluate(ctx, EvaluateRequest{
		FENBefore: info.FENBefore,
		FENAfter:  info.FENAfter,
		MoveUCI:   info.UCI,
		Baseline:  baseline,
	})

	c.mu.Lock()
	if gen != c.gen || c.state != StateValidatingMove {
		c.mu.Unlock()
		return MoveResult{}, ErrStaleSession
	}
	if err != nil {
		c.transition(StateWaitingForPlayer)
		c.unlockAndPublish()
		return MoveResult{}, err
	}

	res := MoveResult{Valid: true, Move: info, Quality: quality}
	s := c.session
	if quality.Verdict && quality.OutcomeChanged {
		s.Mistakes = append(s.Mistakes, info.UCI)
		c.rejected = &rejectedMove{info: info, quality: quality}
		c.feedback = Feedback{Type: FeedbackWarning, Message: c.mistakeMessage(info, quality)}
		res.Feedback = c.feedback
		c.logger.Info("move_rejected",
			zap.String("session_id", s.ID),
			zap.String("move", info.UCI),
			zap.Int("wdl_before", quality.WDLBefore),
			zap.Int("wdl_after", quality.WDLAfter),
		)
		c.transition(StateWaitingForPlayer)
		c.unlockAndPublish()
		return res, nil
	}

	applied, err := c.board.MakeMove(info.UCI)
	if err != nil {
		return c.invalidLocked(text), nil
	}
	res.Move = applied
	res.Accepted = true
	s.MovesUCI = append(s.MovesUCI, applied.UCI)
	s.CorrectMoves++
	if quality.Verdict && !quality.WasOptimal {
		s.SuboptimalMoves++
	}
	c.lastMove = applied.UCI
	c.rejected = nil
	c.baseline = nil
	c.feedback = c.acceptedFeedback(applied, quality)
	res.Feedback = c.feedback

	if c.board.IsGameOver() {
		result := c.finalizeLocked(c.terminalKind())
		res.Finished = true
		res.Feedback = c.feedback
		c.unlockAndPublish()
		c.record(result)
		return res, nil
	}

	if CheckPromotion(applied).IsPromotion {
		c.mu.Unlock()
		won := c.promotion.EvaluatePromotionOutcome(ctx, applied.FENAfter, player)
		c.mu.Lock()
		if gen != c.gen || c.state != StateValidatingMove {
			c.mu.Unlock()
			return res, ErrStaleSession
		}
		if won {
			result := c.finalizeLocked(finishPromotion, player)
			res.Finished = true
			res.PromotionWin = true
			res.Feedback = c.feedback
			c.unlockAndPublish()
			c.record(result)
			return res, nil
		}
	}

	c.transition(StateOpponentThinking)
	c.scheduleOpponentLocked()
	c.unlockAndPublish()
	return res, nil
}

// ContinueAfterMistake plays the last rejected move anyway. Grading of the
// next move is then measured against the outcome the mistake produced.
func (c *Coordinator) ContinueAfterMistake(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if err := c.playerTurnLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	rj := c.rejected
	if rj == nil || c.board.FEN() != rj.info.FENBefore {
		c.mu.Unlock()
		return ErrNoMistake
	}
	applied, err := c.board.MakeMove(rj.info.UCI)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("replay rejected move: %w", err)
	}
	s := c.session
	s.MovesUCI = append(s.MovesUCI, applied.UCI)
	c.lastMove = applied.UCI
	c.rejected = nil
	c.baseline = &Baseline{WDL: rj.quality.WDLAfter, FEN: applied.FENAfter, Timestamp: c.now()}
	c.feedback = Feedback{Type: FeedbackInfo, Message: c.messages.Text("feedback.continued", map[string]any{
		"SAN":     applied.SAN,
		"Outcome": c.outcomeWord(rj.quality.WDLAfter),
	}, applied.SAN)}

	var result *domain.TrainingResult
	if c.board.IsGameOver() {
		result = c.finalizeLocked(c.terminalKind())
	} else {
		c.transition(StateOpponentThinking)
		c.scheduleOpponentLocked()
	}
	c.unlockAndPublish()
	c.record(result)
	return nil
}

// TakeBack returns to the most recent position where the player had the
// move. From the player's own turn it goes one full move further back.
// A finished session cannot be taken back; start a new one instead.
func (c *Coordinator) TakeBack(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if err := c.liveLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	switch c.state {
	case StateWaitingForPlayer, StateOpponentThinking:
	case StateSessionComplete:
		// the result is already recorded under this session id
		c.mu.Unlock()
		return ErrSessionFinished
	default:
		c.mu.Unlock()
		return ErrNotPlayerTurn
	}
	if len(c.history) == 0 {
		c.mu.Unlock()
		return ErrNothingToTakeBack
	}
	target := c.history[len(c.history)-1]
	if c.board.FEN() == target.fen {
		if len(c.history) < 2 {
			c.mu.Unlock()
			return ErrNothingToTakeBack
		}
		c.history = c.history[:len(c.history)-1]
		target = c.history[len(c.history)-1]
	}
	if err := c.board.LoadFEN(target.fen); err != nil {
		c.mu.Unlock()
		return err
	}
	c.opponent.Cancel()
	c.gen++
	s := c.session
	s.MovesUCI = s.MovesUCI[:min(target.moves, len(s.MovesUCI))]
	c.rejected = nil
	c.baseline = nil
	c.lastMove = ""
	c.feedback = Feedback{Type: FeedbackInfo, Message: c.messages.Text("feedback.takeback", nil, "Move taken back.")}
	c.transition(StateWaitingForPlayer)
	c.unlockAndPublish()
	return nil
}

// ResumeOpponent re-arms the reply after RestorePlayerControl left the
// opponent to move.
func (c *Coordinator) ResumeOpponent(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if err := c.liveLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.state != StateWaitingForPlayer || c.board.Turn() == c.session.PlayerColor {
		c.mu.Unlock()
		return ErrNotPlayerTurn
	}
	c.feedback = Feedback{}
	c.transition(StateOpponentThinking)
	c.scheduleOpponentLocked()
	c.unlockAndPublish()
	return nil
}

// Close cancels any pending reply and drops subscribers.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.gen++
	c.opponent.Cancel()
	c.mu.Unlock()

	c.pubMu.Lock()
	c.subs = make(map[int]func(Snapshot))
	c.pubMu.Unlock()
}

func (c *Coordinator) liveLocked() error {
	if c.closed {
		return ErrClosed
	}
	if c.session == nil || c.board == nil {
		return ErrNoSession
	}
	return nil
}

func (c *Coordinator) playerTurnLocked() error {
	if err := c.liveLocked(); err != nil {
		return err
	}
	if c.state != StateWaitingForPlayer || c.board.Turn() != c.session.PlayerColor {
		return ErrNotPlayerTurn
	}
	return nil
}

func (c *Coordinator) invalidLocked(text string) MoveResult {
	c.feedback = Feedback{Type: FeedbackError, Message: c.messages.Text("feedback.invalid_move", map[string]any{"Input": text}, "Invalid move.")}
	fb := c.feedback
	c.transition(StateWaitingForPlayer)
	c.unlockAndPublish()
	return MoveResult{Feedback: fb}
}

func (c *Coordinator) choosePromotion(ctx context.Context, text string) (string, error) {
	info := PromotionInfo{IsPromotion: true, From: strings.ToLower(text[0:2]), To: strings.ToLower(text[2:4])}
	piece, err := c.cfg.PromotionChooser(ctx, info)
	if err != nil {
		return "", err
	}
	return validPromotionPiece(piece)
}

func (c *Coordinator) scheduleOpponentLocked() {
	c.opponent.Schedule(opponentBridge{c}, c.cfg.OpponentDelay, ScheduleOptions{Generation: c.gen})
}

// transition sets the state and queues a snapshot for delivery.
func (c *Coordinator) transition(s State) {
	c.state = s
	c.outbox = append(c.outbox, c.snapshotLocked())
}

// unlockAndPublish releases mu and delivers every queued snapshot in Seq
// order. Whoever holds pubMu drains the queue, including snapshots queued by
// other goroutines meanwhile, so none is skipped or reordered.
func (c *Coordinator) unlockAndPublish() {
	c.mu.Unlock()
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	for {
		c.mu.Lock()
		out := c.outbox
		c.outbox = nil
		c.mu.Unlock()
		if len(out) == 0 {
			return
		}
		for _, snap := range out {
			for _, fn := range c.subs {
				c.deliver(fn, snap)
			}
		}
	}
}

func (c *Coordinator) deliver(fn func(Snapshot), snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("subscriber_panic", zap.Any("panic", r))
		}
	}()
	fn(snap)
}

func (c *Coordinator) snapshotLocked() Snapshot {
	c.seq++
	snap := Snapshot{
		Seq:              c.seq,
		State:            c.state,
		Feedback:         c.feedback,
		OpponentThinking: c.state == StateOpponentThinking,
		LastMove:         c.lastMove,
		CanContinue:      c.rejected != nil && c.state == StateWaitingForPlayer,
	}
	if c.board != nil {
		snap.CurrentFEN = c.board.FEN()
	}
	if s := c.session; s != nil {
		snap.SessionID = s.ID
		snap.PositionID = s.PositionID
		snap.Category = s.Category
		snap.MoveCount = s.MoveCount
		snap.CorrectMoves = s.CorrectMoves
		snap.PlayerColor = s.PlayerColor
	}
	return snap
}

func (c *Coordinator) acceptedFeedback(mv rules.MoveInfo, q MoveQuality) Feedback {
	switch {
	case !q.Verdict:
		return Feedback{Type: FeedbackInfo, Message: c.messages.Text("feedback.unjudged", map[string]any{"SAN": mv.SAN}, mv.SAN)}
	case q.WasOptimal:
		return Feedback{Type: FeedbackSuccess, Message: c.messages.Text("feedback.best", map[string]any{"SAN": mv.SAN}, mv.SAN)}
	default:
		return Feedback{Type: FeedbackInfo, Message: c.messages.Text("feedback.accepted", map[string]any{
			"SAN":     mv.SAN,
			"Outcome": c.outcomeWord(q.WDLAfter),
			"Best":    bestName(q.BestMove),
		}, mv.SAN)}
	}
}

func (c *Coordinator) mistakeMessage(mv rules.MoveInfo, q MoveQuality) string {
	data := map[string]any{
		"SAN":    mv.SAN,
		"Before": c.outcomeWord(q.WDLBefore),
		"After":  c.outcomeWord(q.WDLAfter),
	}
	if q.BestMove == nil {
		return c.messages.Text("feedback.mistake_no_best", data, mv.SAN)
	}
	data["Best"] = bestName(q.BestMove)
	return c.messages.Text("feedback.mistake", data, mv.SAN)
}

func (c *Coordinator) outcomeWord(wdl int) string {
	key := "outcome.draw"
	switch tablebase.Outcome(wdl) {
	case 1:
		key = "outcome.win"
	case -1:
		key = "outcome.loss"
	}
	return c.messages.Text(key, nil, strings.TrimPrefix(key, "outcome."))
}

func bestName(mv *tablebase.Move) string {
	if mv == nil {
		return ""
	}
	if mv.SAN != "" {
		return mv.SAN
	}
	return mv.UCI
}

func goalWDL(g positions.Goal) int {
	if g == positions.GoalDraw {
		return 0
	}
	return 2
}

func colorName(c rules.Color) string {
	if c == rules.Black {
		return "Black"
	}
	return "White"
}
