package trainer

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// OpponentAPI is the session surface the opponent needs. Every call carries
// the generation captured at schedule time; implementations refuse stale
// generations.
type OpponentAPI interface {
	// OpponentPosition returns the FEN to reply to, or ok=false when the
	// session moved on or it is no longer the opponent's turn.
	OpponentPosition(gen uint64) (fen string, ok bool)
	LegalMoves(gen uint64) []string
	ApplyOpponentMove(gen uint64, uci string, guessed bool) error
	RestorePlayerControl(gen uint64, cause error)
}

type ScheduleOptions struct {
	Generation uint64
	// OnComplete runs after the reply was applied (err == nil) or abandoned.
	// Panics are recovered.
	OnComplete func(err error)
}

// Ticket is the handle of one scheduled reply.
type Ticket struct {
	cancelled atomic.Bool
	timer     *time.Timer
	done      chan struct{}
	doneOnce  sync.Once
}

func newTicket() *Ticket { return &Ticket{done: make(chan struct{})} }

// Cancel is idempotent. It reports whether this call cancelled the ticket.
func (t *Ticket) Cancel() bool {
	if t == nil || !t.cancelled.CompareAndSwap(false, true) {
		return false
	}
	if t.timer != nil && t.timer.Stop() {
		// the callback will never run
		t.finish()
	}
	return true
}

func (t *Ticket) Cancelled() bool { return t != nil && t.cancelled.Load() }

// Done is closed once the reply has been applied, abandoned or cancelled.
func (t *Ticket) Done() <-chan struct{} { return t.done }

func (t *Ticket) finish() { t.doneOnce.Do(func() { close(t.done) }) }

type OpponentTurnHandler struct {
	tb       Tablebase
	timeout  time.Duration
	fallback bool
	logger   *zap.Logger

	mu      sync.Mutex
	pending *Ticket
	rng     *rand.Rand
}

func NewOpponentTurnHandler(tb Tablebase, timeout time.Duration, randomFallback bool, logger *zap.Logger) *OpponentTurnHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpponentTurnHandler{
		tb:       tb,
		timeout:  timeout,
		fallback: randomFallback,
		logger:   logger,
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// Schedule cancels any pending reply and arms a new one after delay.
func (h *OpponentTurnHandler) Schedule(api OpponentAPI, delay time.Duration, opts ScheduleOptions) *Ticket {
	t := newTicket()
	h.mu.Lock()
	prev := h.pending
	h.pending = t
	// armed under the lock so Cancel never sees a ticket without its timer
	t.timer = time.AfterFunc(delay, func() { h.fire(api, t, opts) })
	h.mu.Unlock()
	prev.Cancel()
	return t
}

// Cancel drops the pending reply, if any.
func (h *OpponentTurnHandler) Cancel() {
	h.mu.Lock()
	t := h.pending
	h.pending = nil
	h.mu.Unlock()
	t.Cancel()
}

// Pending returns the current ticket or nil.
func (h *OpponentTurnHandler) Pending() *Ticket {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pending
}

func (h *OpponentTurnHandler) fire(api OpponentAPI, t *Ticket, opts ScheduleOptions) {
	var err error
	defer func() {
		h.mu.Lock()
		if h.pending == t {
			h.pending = nil
		}
		h.mu.Unlock()
		h.complete(opts.OnComplete, err)
		t.finish()
	}()

	if t.Cancelled() {
		err = context.Canceled
		return
	}
	fen, ok := api.OpponentPosition(opts.Generation)
	if !ok {
		err = ErrStaleSession
		return
	}

	uci, guessed, err := h.pick(api, opts.Generation, fen)
	if err != nil {
		h.logger.Warn("opponent_no_move", zap.String("fen", fen), zap.Error(err))
		api.RestorePlayerControl(opts.Generation, err)
		return
	}
	if t.Cancelled() {
		err = context.Canceled
		return
	}
	if err = api.ApplyOpponentMove(opts.Generation, uci, guessed); err != nil {
		h.logger.Warn("opponent_apply_failed", zap.String("fen", fen), zap.String("move", uci), zap.Error(err))
		api.RestorePlayerControl(opts.Generation, err)
		return
	}
	h.logger.Debug("opponent_reply", zap.String("fen", fen), zap.String("move", uci), zap.Bool("guessed", guessed))
}

func (h *OpponentTurnHandler) pick(api OpponentAPI, gen uint64, fen string) (string, bool, error) {
	ctx := context.Background()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	var lookupErr error
	if h.tb != nil {
		moves, err := h.tb.TopMoves(ctx, fen, 1)
		if err == nil && len(moves) > 0 {
			return moves[0].UCI, false, nil
		}
		lookupErr = err
	}
	if !h.fallback {
		if lookupErr != nil {
			return "", false, fmt.Errorf("%w: %w", ErrOpponentUnavailable, lookupErr)
		}
		return "", false, ErrOpponentUnavailable
	}
	uci, ok := h.randomMove(api.LegalMoves(gen))
	if !ok {
		return "", false, ErrOpponentUnavailable
	}
	return uci, true, nil
}

// randomMove never underpromotes.
func (h *OpponentTurnHandler) randomMove(legal []string) (string, bool) {
	candidates := make([]string, 0, len(legal))
	for _, mv := range legal {
		if len(mv) == 5 && mv[4:] != AutoPromotionPiece {
			continue
		}
		candidates = append(candidates, mv)
	}
	if len(candidates) == 0 {
		return "", false
	}
	h.mu.Lock()
	idx := h.rng.IntN(len(candidates))
	h.mu.Unlock()
	return candidates[idx], true
}

func (h *OpponentTurnHandler) complete(fn func(error), err error) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("opponent_callback_panic", zap.Any("panic", r))
		}
	}()
	fn(err)
}
