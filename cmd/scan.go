package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lalchand07/Auditly/internal/audit"
	"github.com/lalchand07/Auditly/internal/clock/system"
	"github.com/lalchand07/Auditly/internal/id/uuid"
	memorypublisher "github.com/lalchand07/Auditly/internal/publisher/memory"
	"github.com/lalchand07/Auditly/internal/server"
	memorystorage "github.com/lalchand07/Auditly/internal/storage/memory"
)

type scanOptions struct {
	workspace string
	out       string
}

// newScanCmd audits one URL against in-memory stores and writes the report
// to disk. Configured job and artifact backends are not touched.
func newScanCmd(root *rootOptions) *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan <url>",
		Short: "Audit a single URL locally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, root, opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.workspace, "workspace", "local", "workspace id used for the artifact path")
	cmd.Flags().StringVar(&opts.out, "out", "report.pdf", "where to write the PDF report")
	return cmd
}

func runScan(cmd *cobra.Command, root *rootOptions, opts *scanOptions, target string) error {
	cfg, err := root.load()
	if err != nil {
		return err
	}
	id, err := uuid.New().NewID()
	if err != nil {
		return err
	}

	jobs := memorystorage.NewJobStore()
	if err := jobs.Seed(audit.Job{
		ID:          id,
		URL:         target,
		WorkspaceID: opts.workspace,
		Status:      audit.JobStatusPending,
		CreatedAt:   system.New().Now(),
	}); err != nil {
		return fmt.Errorf("seed job: %w", err)
	}
	blobs := memorystorage.NewBlobStore("")

	ctx := cmd.Context()
	app, err := buildApp(ctx, cfg,
		server.WithJobStore(jobs),
		server.WithArtifactStore(blobs),
		server.WithPublisher(memorypublisher.New()),
	)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer func() { _ = app.Close(context.WithoutCancel(ctx)) }()

	if _, err := app.Tick(ctx); err != nil {
		return err
	}

	job, ok := jobs.Get(id)
	if !ok {
		return errors.New("scan job disappeared")
	}
	switch job.Status {
	case audit.JobStatusDone:
	case audit.JobStatusFailed:
		if job.Failure != nil {
			return fmt.Errorf("scan failed: %s", job.Failure.Error)
		}
		return errors.New("scan failed")
	default:
		return fmt.Errorf("scan ended in status %q", job.Status)
	}

	pdf, _, ok := blobs.Object(job.ArtifactPath())
	if !ok {
		return errors.New("report was not stored")
	}
	if err := os.WriteFile(opts.out, pdf, 0o644); err != nil { //nolint:gosec // reports are meant to be shared
		return fmt.Errorf("write report: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(job.Summary); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "report written to %s\n", opts.out)
	return nil
}
