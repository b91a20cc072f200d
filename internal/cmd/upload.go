package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/factline/cli/pkg/api"
	"github.com/factline/cli/pkg/output"
	"github.com/factline/cli/pkg/poller"
	"github.com/factline/cli/pkg/upload"
	"github.com/spf13/cobra"
)

var (
	uploadCaption string
	uploadNoWait  bool
	trackNoWait   bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload <post|reel> <filepath>",
	Short: "Upload an image as a post or a video as a reel",
	Long: `Validate the file, run early content analysis, submit it and follow
processing until it is published. Use --no-wait to return right after
submission; 'factline resume' picks the item up later.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := api.ParseKind(args[0])
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		p, err := newPipeline(ctx)
		if err != nil {
			return err
		}
		defer p.Close()

		session, err := p.orch.Select(ctx, kind, args[1])
		if err != nil {
			return err
		}

		if session.Stage() == upload.StagePreAnalyzing {
			output.PrintInfo("Analyzing %s...", args[1])
		}
		select {
		case <-session.Ready():
		case <-ctx.Done():
			session.Remove()
			output.PrintWarning("Upload cancelled")
			return nil
		}
		if pre := session.PreAnalysis(); pre.Outcome == poller.OutcomeSucceeded {
			output.PrintSuccess("Analysis complete")
		}

		content, err := p.orch.Submit(ctx, session, uploadCaption)
		if err != nil {
			return err
		}
		output.PrintSuccess("Uploaded %s %s", kind, content.ID)

		if uploadNoWait {
			output.PrintInfo("Processing continues in the background. Run 'factline resume' to follow it.")
			return nil
		}
		return waitForJobs(ctx, session.Job())
	},
}

var trackCmd = &cobra.Command{
	Use:   "track <post|reel> <content-id>",
	Short: "Follow processing of submitted content",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := api.ParseKind(args[0])
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		p, err := newPipeline(ctx)
		if err != nil {
			return err
		}
		defer p.Close()

		job, err := p.orch.Track(ctx, kind, args[1])
		if err != nil {
			return err
		}
		if trackNoWait {
			return nil
		}
		return waitForJobs(ctx, job)
	},
}

// waitForJobs blocks until every job is finished. Interrupting stops
// waiting; pending records stay for a later resume.
func waitForJobs(ctx context.Context, jobs ...*upload.Job) error {
	unfinished := 0
	for _, job := range jobs {
		if job == nil {
			continue
		}
		result, err := job.Wait(ctx)
		if ctx.Err() != nil {
			output.PrintWarning("Stopped following processing. Run 'factline resume' to pick it up again.")
			return nil
		}
		if err != nil || result.State != api.JobSucceeded {
			unfinished++
		}
	}

	if unfinished > 0 {
		return fmt.Errorf("%d of %d item(s) did not publish", unfinished, len(jobs))
	}
	return nil
}

func init() {
	uploadCmd.Flags().StringVarP(&uploadCaption, "caption", "c", "", "Caption for the post or reel")
	uploadCmd.Flags().BoolVar(&uploadNoWait, "no-wait", false, "Return after submission without following processing")
	trackCmd.Flags().BoolVar(&trackNoWait, "no-wait", false, "Only record the item for a later resume")
}
