package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/wolfman30/xray-diagnosis-platform/cmd/mainconfig"
	"github.com/wolfman30/xray-diagnosis-platform/internal/app/bootstrap"
	"github.com/wolfman30/xray-diagnosis-platform/internal/auth"
	appconfig "github.com/wolfman30/xray-diagnosis-platform/internal/config"
	"github.com/wolfman30/xray-diagnosis-platform/internal/diagnosis"
	"github.com/wolfman30/xray-diagnosis-platform/internal/observability/metrics"
	"github.com/wolfman30/xray-diagnosis-platform/internal/report"
	"github.com/wolfman30/xray-diagnosis-platform/internal/upload"
	"github.com/wolfman30/xray-diagnosis-platform/internal/workflow"
	"github.com/wolfman30/xray-diagnosis-platform/pkg/logging"
)

type diagnoseOptions struct {
	File      string
	PatientID string
	UserID    string
	ExportDir string
	Export    bool
	MimeType  string
}

type patientLookup interface {
	GetPatient(ctx context.Context, id string) (*diagnosis.Patient, error)
}

// diagnoseDeps is everything runDiagnose needs beyond its options.
type diagnoseDeps struct {
	newRun   func(workflow.Identity) *workflow.Machine
	exporter *report.Exporter
	patients patientLookup
	in       io.Reader
	out      io.Writer
}

func newDiagnoseCommand() *cobra.Command {
	opts := diagnoseOptions{}
	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Upload, analyze and store one X-ray image",
		Long: `Runs the diagnosis pipeline for a local image file: uploads it to object
storage, calls the inference service, stores the result and prints the risk tier.
With --export-dir (or --export, using EXPORT_DIR) the PDF report is written
to that directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			opts.UserID = resolveUser(opts.UserID)
			return diagnoseWithConfig(ctx, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "Path to the X-ray image")
	cmd.Flags().StringVarP(&opts.PatientID, "patient", "p", "", "patient_info id")
	cmd.Flags().StringVarP(&opts.UserID, "user", "u", "", "Acting user id (defaults to XRAY_USER_ID)")
	cmd.Flags().StringVarP(&opts.ExportDir, "export-dir", "o", "", "Write the PDF report into this directory")
	cmd.Flags().BoolVar(&opts.Export, "export", false, "Write the PDF report into EXPORT_DIR")
	cmd.Flags().StringVar(&opts.MimeType, "mime", "", "Declared content type (defaults to the file extension's type)")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("patient")
	return cmd
}

func diagnoseWithConfig(ctx context.Context, opts diagnoseOptions, in io.Reader, out io.Writer) error {
	cfg := appconfig.Load()
	logger := logging.NewWithWriter(cfg.LogLevel, os.Stderr)
	if opts.Export && opts.ExportDir == "" {
		opts.ExportDir = cfg.ExportDir
	}

	pool, err := bootstrap.ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}

	identity := auth.StaticIdentity(opts.UserID)
	pipeline, err := bootstrap.BuildPipeline(cfg, bootstrap.Deps{
		Pool:     pool,
		S3:       mainconfig.NewS3Client(awsCfg, cfg),
		Metrics:  metrics.NewPipelineMetrics(prometheus.NewRegistry()),
		Identity: identity,
	}, logger)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	return runDiagnose(ctx, opts, diagnoseDeps{
		newRun:   pipeline.NewRun,
		exporter: pipeline.Exporter,
		patients: pipeline.Repository,
		in:       in,
		out:      out,
	})
}

func runDiagnose(ctx context.Context, opts diagnoseOptions, deps diagnoseDeps) error {
	data, err := os.ReadFile(opts.File)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	contentType := opts.MimeType
	if contentType == "" {
		contentType = mime.TypeByExtension(strings.ToLower(filepath.Ext(opts.File)))
	}

	var answers *bufio.Reader
	if deps.in != nil {
		answers = bufio.NewReader(deps.in)
	}
	printer := &progressPrinter{out: deps.out, last: -1}
	run := deps.newRun(auth.StaticIdentity(opts.UserID)).WithObserver(printer.observe)

	if _, err := run.SelectFile(ctx, upload.File{Name: filepath.Base(opts.File), ContentType: contentType, Data: data}); err != nil {
		return reportFailure(deps.out, err)
	}

	stored, err := run.Start(ctx, opts.PatientID)
	for err != nil {
		var stageErr *workflow.StageError
		if !errors.As(err, &stageErr) || !stageErr.Retryable() || !confirm(answers, deps.out, "Retry saving the diagnosis? [y/N] ") {
			return reportFailure(deps.out, err)
		}
		stored, err = run.RetryPersist(ctx)
	}

	fmt.Fprintf(deps.out, "diagnosis %s\n", stored.ID)
	if a, err := stored.Assess(); err == nil {
		fmt.Fprintf(deps.out, "top finding: %s (%d%%)\n", stored.TopPrediction, a.Percent)
		fmt.Fprintf(deps.out, "risk: %s\n", a.Label)
		if a.Advisory != "" {
			fmt.Fprintln(deps.out, a.Advisory)
		}
	}

	if opts.ExportDir == "" {
		return nil
	}
	patient := diagnosis.Patient{ID: stored.PatientID}
	if p, err := deps.patients.GetPatient(ctx, stored.PatientID); err == nil {
		patient = *p
	}
	handle, err := deps.exporter.Export(ctx, stored, patient, report.DirectoryDelivery{Dir: opts.ExportDir})
	switch {
	case errors.Is(err, report.ErrArtifactUnavailable):
		fmt.Fprintln(deps.out, "no PDF report was produced for this diagnosis")
		return nil
	case err != nil:
		return fmt.Errorf("export report: %w", err)
	}
	fmt.Fprintf(deps.out, "report written to %s\n", handle.Path)
	return nil
}

// progressPrinter prints each new upload percentage once. Progress callbacks
// may arrive from the upload goroutine.
type progressPrinter struct {
	mu   sync.Mutex
	out  io.Writer
	last int
}

func (p *progressPrinter) observe(s workflow.Snapshot) {
	if s.State != workflow.StateUploading || !s.ProgressVisible {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.Progress == p.last {
		return
	}
	p.last = s.Progress
	fmt.Fprintf(p.out, "uploading... %d%%\n", s.Progress)
}

func reportFailure(out io.Writer, err error) error {
	var stageErr *workflow.StageError
	if errors.As(err, &stageErr) {
		fmt.Fprintf(out, "%s failed: %s\n", stageErr.Stage, stageErr.Notice())
	}
	return err
}

// resolveUser falls back to XRAY_USER_ID once the environment files are loaded.
func resolveUser(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv("XRAY_USER_ID")
}

func confirm(in *bufio.Reader, out io.Writer, prompt string) bool {
	if in == nil {
		return false
	}
	fmt.Fprint(out, prompt)
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
