package cmd

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/tanpawarit/grooming-reservation-agent/agent/history"
	statex "github.com/tanpawarit/grooming-reservation-agent/agent/state"
	configx "github.com/tanpawarit/grooming-reservation-agent/pkg/config"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage saved chat sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List chat sessions, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withHistory(func(h *history.Store) error {
			sessions, err := h.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			live, err := liveCheckpoints(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPHONE\tCREATED\tCHECKPOINT")
			for _, s := range sessions {
				checkpoint := "-"
				if live[s.ID] {
					checkpoint = "live"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Name, s.PhoneNumber, s.CreatedAt.Format("2006-01-02 15:04"), checkpoint)
			}
			return w.Flush()
		})
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print the transcript of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistory(func(h *history.Store) error {
			msgs, err := h.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, m := range msgs {
				label := string(m.Role)
				if m.ToolName != "" {
					label += ":" + m.ToolName
				}
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", m.CreatedAt.Format("15:04:05"), label, m.Content)
			}
			return nil
		})
	},
}

var sessionsRenameCmd = &cobra.Command{
	Use:   "rename <session-id> <name>",
	Short: "Rename a session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistory(func(h *history.Store) error {
			return h.Rename(cmd.Context(), args[0], args[1])
		})
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session, its messages and its checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := withHistory(func(h *history.Store) error {
			return h.Delete(cmd.Context(), args[0])
		}); err != nil {
			return err
		}

		stateCfg, err := configx.New[statex.Config]("STATE")
		if err != nil {
			return err
		}
		backends, err := statex.NewStoreFromConfig(*stateCfg)
		if err != nil {
			return err
		}
		defer backends.Close()
		if err := backends.Store.Delete(cmd.Context(), args[0]); err != nil && !errors.Is(err, statex.ErrStateNotFound) {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
		return nil
	},
}

// liveCheckpoints reports which session ids still have a saved checkpoint in
// the configured state store.
func liveCheckpoints(ctx context.Context) (map[string]bool, error) {
	stateCfg, err := configx.New[statex.Config]("STATE")
	if err != nil {
		return nil, err
	}
	backends, err := statex.NewStoreFromConfig(*stateCfg)
	if err != nil {
		return nil, err
	}
	defer backends.Close()

	ids, err := statex.ListSessions(ctx, backends.Store)
	if errors.Is(err, statex.ErrListUnsupported) {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, err
	}
	live := make(map[string]bool, len(ids))
	for _, id := range ids {
		live[id] = true
	}
	return live, nil
}

func withHistory(fn func(h *history.Store) error) error {
	h, err := openHistory()
	if err != nil {
		return err
	}
	defer h.Close()
	return fn(h)
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsRenameCmd, sessionsDeleteCmd)
}
