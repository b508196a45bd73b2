package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/m3ugate/m3ugate/internal/model"
)

func newLogsCmd() *cobra.Command {
	var (
		limit      int
		offset     int
		status     string
		username   string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the access journal, most recent first",
		Example: `  m3ugate logs
  m3ugate logs --status blocked --limit 20
  m3ugate logs --user alice --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv()
			if err != nil {
				return err
			}
			defer env.Close()

			entries, err := env.journal.List(context.Background(), model.JournalQuery{
				Limit:    limit,
				Offset:   offset,
				Status:   model.Outcome(strings.ToUpper(status)),
				Username: username,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(os.Stdout, entries)
			}
			if len(entries) == 0 {
				fmt.Println("No journal entries.")
				return nil
			}

			fmt.Printf("%-17s %-8s %-16s %-28s %-30s\n", "TIME", "STATUS", "IP", "REASON", "CLIENT")
			fmt.Printf("%-17s %-8s %-16s %-28s %-30s\n", "----", "------", "--", "------", "------")
			for _, e := range entries {
				fmt.Printf("%-17s %-8s %-16s %-28s %-30s\n",
					formatTime(e.Timestamp), e.Status, e.Address,
					truncate(e.Reason, 28), truncate(e.Identity, 30))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", model.DefaultJournalLimit, "Maximum entries to show (max 500)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Entries to skip")
	cmd.Flags().StringVar(&status, "status", "", "Filter by outcome: allowed, blocked, expired, error")
	cmd.Flags().StringVarP(&username, "user", "u", "", "Filter by username")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
