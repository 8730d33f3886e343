package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/profile-resolver/internal/model"
	"github.com/sells-group/profile-resolver/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show resolution progress",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stats, err := st.Stats(ctx)
		if err != nil {
			return eris.Wrap(err, "load stats")
		}
		printStats(cmd.OutOrStdout(), stats)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <symbol>",
	Short: "Print the stored records for a symbol as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		symbol := strings.TrimSpace(args[0])
		recs, err := st.Get(ctx, symbol)
		if err != nil {
			return eris.Wrapf(err, "get %s", symbol)
		}
		if len(recs) == 0 {
			return eris.Errorf("no records for symbol %s", symbol)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify store connectivity",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Ping(ctx); err != nil {
			return eris.Wrap(err, "ping store")
		}
		stats, err := st.Stats(ctx)
		if err != nil {
			return eris.Wrap(err, "load stats")
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "connected to %s store\n", cfg.Store.Driver)
		printStats(out, stats)
		return nil
	},
}

func printStats(w io.Writer, s *store.Stats) {
	fmt.Fprintf(w, "total:      %d\n", s.Total)
	fmt.Fprintf(w, "resolved:   %d\n", s.Resolved)
	fmt.Fprintf(w, "unresolved: %d\n", s.Unresolved)

	tags := make([]model.ResolverTag, 0, len(s.ByResolver))
	for tag := range s.ByResolver {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	for _, tag := range tags {
		fmt.Fprintf(w, "  %-20s %d\n", tag, s.ByResolver[tag])
	}
}

func init() {
	rootCmd.AddCommand(statusCmd, showCmd, checkCmd)
}
