package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/factline/cli/pkg/api"
	"github.com/factline/cli/pkg/config"
	"github.com/factline/cli/pkg/output"
	"github.com/spf13/cobra"
)

var resumeNoWait bool

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Follow every item still processing from an earlier upload",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		p, err := newPipeline(ctx)
		if err != nil {
			return err
		}
		defer p.Close()

		jobs, err := p.orch.Resume(ctx)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			output.PrintInfo("Nothing is processing.")
			return nil
		}
		output.PrintInfo("Following %d item(s)", len(jobs))
		if resumeNoWait {
			return nil
		}
		return waitForJobs(ctx, jobs...)
	},
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List content whose processing has not been seen to finish",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, closeStore, err := openPendingStore(ctx, config.GetString("pending.backend"))
		if err != nil {
			return err
		}
		if closeStore != nil {
			defer closeStore()
		}

		records, err := store.List(ctx)
		if err != nil {
			return err
		}
		if len(records) == 0 && output.GetOutputFormat() != output.FormatJSON {
			output.PrintInfo("Nothing is processing.")
			return nil
		}

		rows := make([][]string, 0, len(records))
		for _, rec := range records {
			rows = append(rows, []string{
				string(rec.Kind),
				rec.ContentID,
				rec.Caption,
				rec.CreatedAt.Local().Format(time.DateTime),
			})
		}
		return output.PrintList(records, []string{"KIND", "ID", "CAPTION", "SUBMITTED"}, rows)
	},
}

var pendingForgetCmd = &cobra.Command{
	Use:   "forget <post|reel> <content-id>",
	Short: "Stop remembering an item",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := api.ParseKind(args[0])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		store, closeStore, err := openPendingStore(ctx, config.GetString("pending.backend"))
		if err != nil {
			return err
		}
		if closeStore != nil {
			defer closeStore()
		}

		if err := store.Delete(ctx, kind, args[1]); err != nil {
			return err
		}
		output.PrintSuccess("Forgot %s %s", kind, args[1])
		return nil
	},
}

func init() {
	resumeCmd.Flags().BoolVar(&resumeNoWait, "no-wait", false, "Start following and return immediately")
	pendingCmd.AddCommand(pendingForgetCmd)
}

