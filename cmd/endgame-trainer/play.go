package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/park285/Cheese-Endgame-Trainer/internal/rules"
	"github.com/park285/Cheese-Endgame-Trainer/internal/trainer"
	"github.com/park285/Cheese-Endgame-Trainer/internal/trainerbuilder"
)

var playHelp = heredoc.Doc(`
	Enter moves in UCI (e2e4, e7e8q) or SAN (Qh5+).
	  moves     list legal moves
	  continue  play the rejected move anyway
	  takeback  undo your last move and the reply
	  resume    retry the opponent after a failure
	  next      load another position
	  stats     show session statistics
	  quit      leave
`)

func playCmd(g *globalFlags) *cobra.Command {
	var positionID string
	cmd := &cobra.Command{
		Use:   "play [category]",
		Short: "Train interactively in the terminal",
		Long: heredoc.Doc(`play starts a session from a random catalog position (optionally
			restricted to one category) and reads moves from stdin. The
			opponent answers with the tablebase's most stubborn defence.`),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.setup(false)
			if err != nil {
				return err
			}
			defer logger.Sync()
			ctx := cmd.Context()
			deps, err := trainerbuilder.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer deps.Close()

			coord, err := deps.NewCoordinator(cfg.PlayerID)
			if err != nil {
				return err
			}
			defer coord.Close()

			term := newTerminal(cmd.OutOrStdout(), cmd.ErrOrStderr())
			defer coord.Subscribe(term.render)()

			if positionID != "" {
				pos, err := deps.Catalog.Get(positionID)
				if err != nil {
					return err
				}
				err = coord.StartPosition(ctx, pos)
			} else {
				category := ""
				if len(args) == 1 {
					category = args[0]
				}
				err = coord.StartNewSession(ctx, category)
			}
			if err != nil {
				return err
			}
			term.println(playHelp)
			return playLoop(ctx, coord, cmd.InOrStdin(), term)
		},
	}
	cmd.Flags().StringVar(&positionID, "position", "", "start from this catalog position id")
	return cmd
}

func playLoop(ctx context.Context, coord *trainer.Coordinator, in io.Reader, term *terminal) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var err error
		switch strings.ToLower(line) {
		case "quit", "exit", "q":
			return nil
		case "help", "?":
			term.println(playHelp)
		case "moves":
			term.println(legalMoves(coord.Snapshot().CurrentFEN))
		case "continue":
			err = coord.ContinueAfterMistake(ctx)
		case "takeback", "undo":
			err = coord.TakeBack(ctx)
		case "resume":
			err = coord.ResumeOpponent(ctx)
		case "next":
			err = coord.LoadNextPosition(ctx)
		case "stats":
			var st trainer.Stats
			if st, err = coord.SessionStats(); err == nil {
				term.println(formatStats(st))
			}
		default:
			_, err = coord.HandlePlayerMove(ctx, line)
		}
		if err != nil {
			term.println("! " + err.Error())
		}
		if errors.Is(err, trainer.ErrClosed) {
			return err
		}
	}
	return sc.Err()
}

func legalMoves(fen string) string {
	b, err := rules.NewBoard(fen)
	if err != nil {
		return "no position loaded"
	}
	return strings.Join(b.LegalMovesUCI(), " ")
}

func formatStats(st trainer.Stats) string {
	return fmt.Sprintf("moves %d  correct %d  suboptimal %d  accuracy %d%%  mistakes [%s]  elapsed %s",
		st.MoveCount, st.CorrectMoves, st.SuboptimalMoves, st.Accuracy,
		strings.Join(st.Mistakes, " "), st.Elapsed.Round(time.Second))
}

// terminal serialises output from the read loop and the coordinator's
// subscriber goroutines.
type terminal struct {
	mu      sync.Mutex
	out     io.Writer
	spin    *spinner.Spinner
	lastSeq uint64
	lastFEN string
}

func newTerminal(out, status io.Writer) *terminal {
	s := spinner.New(spinner.CharSets[11], 100*time.Millisecond, spinner.WithWriter(status))
	s.Suffix = " opponent thinking"
	return &terminal{out: out, spin: s}
}

func (t *terminal) println(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, strings.TrimRight(s, "\n"))
}

func (t *terminal) render(snap trainer.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if snap.Seq <= t.lastSeq {
		return
	}
	t.lastSeq = snap.Seq

	if snap.OpponentThinking {
		t.spin.Start()
	} else {
		t.spin.Stop()
	}
	if snap.Feedback.Message != "" {
		fmt.Fprintf(t.out, "[%s] %s\n", feedbackLabel(snap.Feedback.Type), snap.Feedback.Message)
	}
	if snap.State != trainer.StateWaitingForPlayer && snap.State != trainer.StateSessionComplete {
		return
	}
	if snap.CurrentFEN == "" || snap.CurrentFEN == t.lastFEN {
		return
	}
	t.lastFEN = snap.CurrentFEN
	if b, err := rules.NewBoard(snap.CurrentFEN); err == nil {
		fmt.Fprint(t.out, b.Diagram())
	}
	fmt.Fprintf(t.out, "%s\n", snap.CurrentFEN)
	if snap.State == trainer.StateWaitingForPlayer {
		fmt.Fprintf(t.out, "%s to move > ", snap.PlayerColor)
	}
}

func feedbackLabel(ft trainer.FeedbackType) string {
	if ft == trainer.FeedbackNone {
		return "info"
	}
	return string(ft)
}
