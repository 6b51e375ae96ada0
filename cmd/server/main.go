package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"group-speedrun/server/internal/app"
	"group-speedrun/server/internal/history"
)

func main() {
	root := &cobra.Command{
		Use:   "runserver",
		Short: "Authoritative state engine for timed group challenge runs",
	}
	root.AddCommand(serveCommand(), historyCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the server until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return app.Run(ctx, cfg)
		},
	}
}

func historyCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently archived runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			archive, err := history.Open(historyPath(cfg))
			if err != nil {
				return err
			}
			defer archive.Close()

			records, err := archive.Recent(limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no archived runs")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tTIME\tFINISHED\tAWARDS")
			for _, record := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
					record.ID,
					record.Status,
					record.FinalTime,
					record.FinishedAt.Local().Format("2006-01-02 15:04:05"),
					len(record.Awards),
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of runs to list")
	return cmd
}

func historyPath(cfg app.Config) string {
	return filepath.Join(cfg.DataDir, "history.db")
}
