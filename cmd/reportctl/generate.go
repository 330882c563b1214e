package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/lyzno1/medical-case-report/internal/app"
	"github.com/lyzno1/medical-case-report/internal/report"
)

type generateOptions struct {
	audio  string
	doc    string
	out    string
	fileID string
	name   string
}

func newGenerateCommand(root *rootOptions) *cobra.Command {
	opts := &generateOptions{}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Upload a recording and/or document and generate a report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.audio == "" && opts.doc == "" {
				return fmt.Errorf("at least one of --audio or --doc is required")
			}

			var req report.Request
			var err error
			if req.Audio, err = readUpload(opts.audio); err != nil {
				return err
			}
			if req.Document, err = readUpload(opts.doc); err != nil {
				return err
			}

			a, err := root.newApp(cmd)
			if err != nil {
				return err
			}

			rep, err := a.Service.Generate(cmd.Context(), req)
			if err != nil {
				return err
			}

			return writeReport(cmd.OutOrStdout(), rep, opts.out)
		},
	}

	cmd.Flags().StringVar(&opts.audio, "audio", "", "Audio recording (.mp3, .wav, .m4a)")
	cmd.Flags().StringVar(&opts.doc, "doc", "", "Medical history document (.docx, .doc)")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "Write the report document to this file")

	return cmd
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &generateOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the workflow over an already uploaded audio file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := root.newApp(cmd)
			if err != nil {
				return err
			}

			rep, err := a.Service.RunForFile(cmd.Context(), opts.fileID, opts.name)
			if err != nil {
				return err
			}

			return writeReport(cmd.OutOrStdout(), rep, opts.out)
		},
	}

	cmd.Flags().StringVar(&opts.fileID, "file-id", "", "Coze file id")
	cmd.Flags().StringVar(&opts.name, "file-name", "", "Original file name")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "Write the report document to this file")
	cmd.MarkFlagRequired("file-id")

	return cmd
}

func (o *rootOptions) newApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := o.loadConfig(true)
	if err != nil {
		return nil, err
	}

	// A private registry keeps one-shot runs off the global default.
	return app.New(cfg, o.logger(cmd.ErrOrStderr()), app.Options{Registerer: prometheus.NewRegistry()})
}

func readUpload(path string) (*report.Upload, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	return &report.Upload{Name: filepath.Base(path), Data: data}, nil
}

// writeReport prints the report text, or writes the report document to path
// and prints a summary.
func writeReport(w io.Writer, rep *report.Report, path string) error {
	if path == "" {
		fmt.Fprintln(w, rep.Text)
		return nil
	}

	doc := report.RenderDocument(rep.Text, rep.ID, rep.GeneratedAt)
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	fmt.Fprintf(w, "Report %s written to %s (%d characters)\n", rep.ID, path, len([]rune(rep.Text)))
	return nil
}
