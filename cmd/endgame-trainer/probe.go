package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/park285/Cheese-Endgame-Trainer/internal/tablebase"
	"github.com/park285/Cheese-Endgame-Trainer/internal/trainerbuilder"
)

func probeCmd(g *globalFlags) *cobra.Command {
	var (
		limit   int
		refresh bool
	)
	cmd := &cobra.Command{
		Use:   "probe <fen>",
		Short: "Show the tablebase verdict and best moves for a position",
		Long: heredoc.Doc(`probe looks a position up in the tablebase and prints the
			evaluation from the side to move followed by the best moves,
			ranked the same way the trainer ranks them.

			Quote the FEN, for example:
			  endgame-trainer probe "8/8/8/4k3/8/8/8/K6Q w - - 0 1"`),
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.setup(false)
			if err != nil {
				return err
			}
			defer logger.Sync()
			deps, err := trainerbuilder.New(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer deps.Close()

			fen := strings.Join(args, " ")
			if refresh {
				if err := deps.Cache.Forget(cmd.Context(), fen); err != nil {
					return err
				}
			}
			s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
			s.Suffix = " querying tablebase"
			s.Start()
			entry, err := deps.Cache.Entry(cmd.Context(), fen)
			s.Stop()
			if err != nil {
				return err
			}
			return printEntry(cmd.OutOrStdout(), fen, entry, limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 5, "number of moves to show")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "drop any cached verdict and query the API again")
	return cmd
}

func printEntry(w io.Writer, fen string, entry *tablebase.Entry, limit int) error {
	if entry == nil {
		_, err := fmt.Fprintf(w, "%s\nnot in tablebase\n", fen)
		return err
	}
	fmt.Fprintf(w, "%s\n%s (wdl %+d, white's view %+d)\n\n", entry.FEN, entry.Position.EvaluationText, entry.Position.WDL, entry.WhiteWDL())

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MOVE\tUCI\tRESULT\tDTM\tDTZ")
	ranked := tablebase.Rank(entry.Moves)
	if limit > 0 && limit < len(ranked) {
		ranked = ranked[:limit]
	}
	for _, mv := range ranked {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", mv.SAN, mv.UCI, mv.Category, distance(mv.DTM), distance(mv.DTZ))
	}
	return tw.Flush()
}

func distance(p *int) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *p)
}
