package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/turnpikehq/turnpike/internal/config"
	"github.com/turnpikehq/turnpike/internal/queue"
	"github.com/turnpikehq/turnpike/internal/store"
)

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the turn queue",
	}
	cmd.AddCommand(queueListCmd())
	cmd.AddCommand(queueClearCmd())
	return cmd
}

func openQueue() (*queue.Queue, store.QueueStore, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, nil, err
	}
	st, err := openQueueStore(cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	q, err := queue.New(st, queue.Options{
		Lease:     time.Duration(cfg.Queue.LeaseSeconds) * time.Second,
		LedgerCap: cfg.Queue.LedgerCap,
	})
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return q, st, nil
}

func queueListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending turns",
		Run: func(cmd *cobra.Command, args []string) {
			q, st, err := openQueue()
			if err != nil {
				fmt.Fprintf(os.Stderr, "queue: %v\n", err)
				os.Exit(1)
			}
			defer st.Close()

			items := q.ListPending(limit)
			if len(items) == 0 {
				fmt.Println("no pending turns")
				return
			}
			for _, it := range items {
				fmt.Printf("%-40s %-10s attempt=%d next=%s session=%s\n",
					it.ID, it.Kind, it.Attempt, it.NextAt.Format(time.RFC3339), it.SessionKey)
			}
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum turns to show")
	return cmd
}

func queueClearCmd() *cobra.Command {
	var kinds []string
	cmd := &cobra.Command{
		Use:   "clear <session-key>",
		Short: "Drop pending turns for a session",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			q, st, err := openQueue()
			if err != nil {
				fmt.Fprintf(os.Stderr, "queue: %v\n", err)
				os.Exit(1)
			}
			defer st.Close()

			var ks []store.TurnKind
			for _, k := range kinds {
				ks = append(ks, store.TurnKind(k))
			}
			removed, err := q.ClearBySessionAndKind(args[0], ks)
			if err != nil {
				fmt.Fprintf(os.Stderr, "clear: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("removed %d turn(s)\n", removed)
		},
	}
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "restrict to turn kinds (default: all)")
	return cmd
}
