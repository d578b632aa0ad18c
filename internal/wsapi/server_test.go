package wsapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/Cheese-Endgame-Trainer/internal/positions"
	"github.com/park285/Cheese-Endgame-Trainer/internal/repository"
	"github.com/park285/Cheese-Endgame-Trainer/internal/tablebase"
	"github.com/park285/Cheese-Endgame-Trainer/internal/trainer"
)

const catalogYAML = `
positions:
  - id: kqk
    category: queen
    title: Queen against a centralised king
    fen: "8/8/8/4k3/8/8/8/K6Q w - - 0 1"
`

// emptyTB knows nothing, so every move is accepted unjudged and the
// opponent falls back to a random legal reply.
type emptyTB struct{}

func (emptyTB) Evaluation(context.Context, string) (*tablebase.Result, error) { return nil, nil }

func (emptyTB) TopMoves(context.Context, string, int) ([]tablebase.Move, error) { return nil, nil }

func newTestServer(t *testing.T) (*httptest.Server, *repository.Memory) {
	t.Helper()
	cat, err := positions.Parse([]byte(catalogYAML), positions.WithSeed(1))
	if err != nil {
		t.Fatalf("positions.Parse: %v", err)
	}
	repo := repository.NewMemory()
	factory := func(playerID string) (*trainer.Coordinator, error) {
		return trainer.NewCoordinator(emptyTB{}, cat, trainer.Config{RandomFallback: true}, nil,
			trainer.WithPlayerID(playerID),
			trainer.WithRecorder(repository.NewRecorder(repo, nil)),
		)
	}
	srv := NewServer(factory, nil, WithPositions(cat), WithProfiles(repo), WithPingInterval(0))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, repo
}

func dial(t *testing.T, ctx context.Context, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?player=alice"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, cmd Command) {
	t.Helper()
	if err := wsjson.Write(ctx, conn, cmd); err != nil {
		t.Fatalf("write %s: %v", cmd.Type, err)
	}
}

func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, match func(Envelope) bool) Envelope {
	t.Helper()
	for {
		var env Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			t.Fatalf("read: %v", err)
		}
		if match(env) {
			return env
		}
	}
}

func reply(id string) func(Envelope) bool {
	return func(e Envelope) bool { return e.ID == id }
}

func TestSessionOverWebsocket(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ts, _ := newTestServer(t)
	conn := dial(t, ctx, ts)

	hello := readUntil(t, ctx, conn, func(e Envelope) bool { return e.Type == MsgHello })
	if hello.ConnID == "" {
		t.Fatalf("hello without conn id")
	}

	send(t, ctx, conn, Command{ID: "1", Type: CmdStart, PositionID: "kqk"})
	if env := readUntil(t, ctx, conn, reply("1")); env.Type != MsgAck {
		t.Fatalf("start reply = %+v", env)
	}

	send(t, ctx, conn, Command{ID: "2", Type: CmdMove, Move: "h1h5"})
	var gotResult, gotReply bool
	for !gotResult || !gotReply {
		env := readUntil(t, ctx, conn, func(Envelope) bool { return true })
		switch {
		case env.ID == "2":
			if env.Type != MsgMoveResult || env.MoveResult == nil || !env.MoveResult.Accepted {
				t.Fatalf("move reply = %+v", env)
			}
			gotResult = true
		case env.Type == MsgSnapshot && env.Snapshot.State == trainer.StateWaitingForPlayer &&
			env.Snapshot.LastMove != "" && env.Snapshot.LastMove != "h1h5":
			gotReply = true
		}
	}

	send(t, ctx, conn, Command{ID: "3", Type: CmdStats})
	env := readUntil(t, ctx, conn, reply("3"))
	if env.Type != MsgStats || env.Stats == nil || env.Stats.MoveCount != 1 {
		t.Fatalf("stats reply = %+v", env)
	}

	send(t, ctx, conn, Command{ID: "4", Type: "bogus"})
	if env := readUntil(t, ctx, conn, reply("4")); env.Type != MsgError || !strings.Contains(env.Error, "bogus") {
		t.Fatalf("bogus reply = %+v", env)
	}
}

func TestCommandErrorsAndProfile(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ts, _ := newTestServer(t)
	conn := dial(t, ctx, ts)

	send(t, ctx, conn, Command{ID: "1", Type: CmdMove, Move: "h1h5"})
	if env := readUntil(t, ctx, conn, reply("1")); env.Type != MsgError || env.Error != trainer.ErrNoSession.Error() {
		t.Fatalf("move without session = %+v", env)
	}

	send(t, ctx, conn, Command{ID: "2", Type: CmdStart, PositionID: "missing"})
	if env := readUntil(t, ctx, conn, reply("2")); env.Type != MsgError {
		t.Fatalf("unknown position = %+v", env)
	}

	send(t, ctx, conn, Command{ID: "3", Type: CmdProfile})
	env := readUntil(t, ctx, conn, reply("3"))
	if env.Type != MsgProfile || env.Profile == nil || env.Profile.PlayerID != "alice" {
		t.Fatalf("profile = %+v", env)
	}

	send(t, ctx, conn, Command{ID: "4", Type: CmdList})
	env = readUntil(t, ctx, conn, reply("4"))
	if env.Type != MsgPositions || len(env.Positions) != 1 || env.Positions[0].ID != "kqk" {
		t.Fatalf("positions = %+v", env)
	}
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
