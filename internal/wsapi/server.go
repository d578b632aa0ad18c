package wsapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/Cheese-Endgame-Trainer/internal/domain"
	"github.com/park285/Cheese-Endgame-Trainer/internal/positions"
	"github.com/park285/Cheese-Endgame-Trainer/internal/trainer"
)

// CoordinatorFactory builds the coordinator for one connection.
type CoordinatorFactory func(playerID string) (*trainer.Coordinator, error)

type PositionLookup interface {
	Get(id string) (positions.Position, error)
	All() []positions.Position
}

type ProfileReader interface {
	GetProfile(ctx context.Context, playerID string) (*domain.TrainingProfile, error)
}

type Server struct {
	factory      CoordinatorFactory
	positions    PositionLookup
	profiles     ProfileReader
	logger       *zap.Logger
	defaultID    string
	pingInterval time.Duration
	writeTimeout time.Duration
	queueSize    int
}

type Option func(*Server)

func WithPositions(p PositionLookup) Option { return func(s *Server) { s.positions = p } }

func WithProfiles(p ProfileReader) Option { return func(s *Server) { s.profiles = p } }

func WithDefaultPlayer(id string) Option { return func(s *Server) { s.defaultID = id } }

func WithPingInterval(d time.Duration) Option { return func(s *Server) { s.pingInterval = d } }

func NewServer(factory CoordinatorFactory, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		factory:      factory,
		logger:       logger,
		defaultID:    "local",
		pingInterval: 30 * time.Second,
		writeTimeout: 5 * time.Second,
		queueSize:    64,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler serves the websocket on /ws and a liveness probe on /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", s)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		s.logger.Warn("ws_accept_failed", zap.Error(err))
		return
	}
	playerID := strings.TrimSpace(r.URL.Query().Get("player"))
	if playerID == "" {
		playerID = strings.TrimSpace(r.Header.Get("X-Player-ID"))
	}
	if playerID == "" {
		playerID = s.defaultID
	}

	id := uuid.NewString()
	sess := &session{
		srv:      s,
		conn:     conn,
		id:       id,
		playerID: playerID,
		out:      make(chan Envelope, s.queueSize),
		logger:   s.logger.With(zap.String("conn_id", id), zap.String("player_id", playerID)),
	}
	sess.run(r.Context())
}

type session struct {
	srv      *Server
	conn     *websocket.Conn
	id       string
	playerID string
	coord    *trainer.Coordinator
	out      chan Envelope
	logger   *zap.Logger
}

func (ss *session) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	coord, err := ss.srv.factory(ss.playerID)
	if err != nil {
		ss.logger.Error("ws_coordinator_failed", zap.Error(err))
		_ = ss.conn.Close(websocket.StatusInternalError, "trainer unavailable")
		return
	}
	ss.coord = coord
	unsubscribe := coord.Subscribe(ss.push)
	defer func() {
		unsubscribe()
		coord.Close()
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); ss.writeLoop(ctx, cancel) }()
	go func() { defer wg.Done(); ss.pingLoop(ctx) }()

	ss.logger.Info("ws_connected")
	ss.reply(ctx, Envelope{Type: MsgHello, ConnID: ss.id})
	ss.readLoop(ctx)
	cancel()
	wg.Wait()
	_ = ss.conn.Close(websocket.StatusNormalClosure, "")
	ss.logger.Info("ws_disconnected")
}

func (ss *session) readLoop(ctx context.Context) {
	for {
		var cmd Command
		if err := wsjson.Read(ctx, ss.conn, &cmd); err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				ss.logger.Debug("ws_read_failed", zap.Error(err))
			}
			return
		}
		ss.handle(ctx, cmd)
	}
}

func (ss *session) writeLoop(ctx context.Context, cancel context.CancelFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-ss.out:
			wctx, wcancel := context.WithTimeout(ctx, ss.srv.writeTimeout)
			err := wsjson.Write(wctx, ss.conn, env)
			wcancel()
			if err != nil {
				ss.logger.Debug("ws_write_failed", zap.Error(err))
				cancel()
				return
			}
		}
	}
}

func (ss *session) pingLoop(ctx context.Context) {
	if ss.srv.pingInterval <= 0 {
		return
	}
	t := time.NewTicker(ss.srv.pingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := ss.conn.Ping(pctx)
			cancel()
			if err != nil {
				ss.logger.Debug("ws_ping_failed", zap.Error(err))
			}
		}
	}
}

// push is the coordinator subscriber. It never blocks; when the client is
// too slow the snapshot is dropped and a later one supersedes it.
func (ss *session) push(snap trainer.Snapshot) {
	select {
	case ss.out <- Envelope{Type: MsgSnapshot, Snapshot: &snap}:
	default:
		ss.logger.Warn("ws_snapshot_dropped", zap.Uint64("seq", snap.Seq))
	}
}

func (ss *session) reply(ctx context.Context, env Envelope) {
	select {
	case ss.out <- env:
	case <-ctx.Done():
	}
}

func (ss *session) fail(ctx context.Context, id string, err error) {
	ss.reply(ctx, Envelope{Type: MsgError, ID: id, Error: err.Error()})
}

func (ss *session) handle(ctx context.Context, cmd Command) {
	c := ss.coord
	var err error
	switch strings.ToLower(strings.TrimSpace(cmd.Type)) {
	case CmdStart:
		err = ss.start(ctx, cmd)
	case CmdNext:
		err = c.LoadNextPosition(ctx)
	case CmdMove:
		var res trainer.MoveResult
		if res, err = c.HandlePlayerMove(ctx, cmd.Move); err == nil {
			ss.reply(ctx, Envelope{Type: MsgMoveResult, ID: cmd.ID, MoveResult: &res})
			return
		}
	case CmdContinue:
		err = c.ContinueAfterMistake(ctx)
	case CmdTakeBack:
		err = c.TakeBack(ctx)
	case CmdResume:
		err = c.ResumeOpponent(ctx)
	case CmdStats:
		var st trainer.Stats
		if st, err = c.SessionStats(); err == nil {
			ss.reply(ctx, Envelope{Type: MsgStats, ID: cmd.ID, Stats: &st})
			return
		}
	case CmdProfile:
		err = ss.profile(ctx, cmd.ID)
		if err == nil {
			return
		}
	case CmdList:
		if ss.srv.positions == nil {
			err = errors.New("no position catalog configured")
			break
		}
		ss.reply(ctx, Envelope{Type: MsgPositions, ID: cmd.ID, Positions: ss.srv.positions.All()})
		return
	default:
		err = fmt.Errorf("unknown command %q", cmd.Type)
	}
	if err != nil {
		ss.logger.Debug("ws_command_failed", zap.String("type", cmd.Type), zap.Error(err))
		ss.fail(ctx, cmd.ID, err)
		return
	}
	ss.reply(ctx, Envelope{Type: MsgAck, ID: cmd.ID})
}

func (ss *session) start(ctx context.Context, cmd Command) error {
	if cmd.PositionID == "" {
		return ss.coord.StartNewSession(ctx, cmd.Category)
	}
	if ss.srv.positions == nil {
		return errors.New("no position catalog configured")
	}
	pos, err := ss.srv.positions.Get(cmd.PositionID)
	if err != nil {
		return err
	}
	return ss.coord.StartPosition(ctx, pos)
}

func (ss *session) profile(ctx context.Context, id string) error {
	if ss.srv.profiles == nil {
		return errors.New("no profile store configured")
	}
	p, err := ss.srv.profiles.GetProfile(ctx, ss.playerID)
	if err != nil {
		return err
	}
	if p == nil {
		p = &domain.TrainingProfile{PlayerID: ss.playerID}
	}
	ss.reply(ctx, Envelope{Type: MsgProfile, ID: id, Profile: p})
	return nil
}
