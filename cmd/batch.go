package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/orchestrator"
)

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Submits and inspects multi-URL batches on a running server",
	}
	cmd.AddCommand(newBatchSubmitCmd(), newBatchGetCmd())
	return cmd
}

func newBatchSubmitCmd() *cobra.Command {
	var (
		req  orchestrator.BatchRequest
		file string
	)
	cmd := &cobra.Command{
		Use:   "submit [url...]",
		Short: "Queues one audit per URL as a batch",
		Long: `Queues one audit per URL. URLs come from the arguments and, with --file,
from a text file holding one URL per line; blank lines and lines starting
with # are skipped. The file's base name is recorded as the batch source.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			req.URLs = append(req.URLs, args...)
			if file != "" {
				urls, err := readURLFile(file)
				if err != nil {
					return err
				}
				req.URLs = append(req.URLs, urls...)
				req.SourceFilename = filepath.Base(file)
			}
			if len(req.URLs) == 0 {
				return fmt.Errorf("no URLs given")
			}
			client, err := newAPIClient(e)
			if err != nil {
				return err
			}
			submitted, err := client.SubmitBatch(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("submit batch: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), submitted)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "file with one URL per line")
	cmd.Flags().StringVar(&req.Name, "name", "", "batch name")
	cmd.Flags().StringVar(&req.ClientID, "client-id", "", "client the batch belongs to")
	cmd.Flags().StringVar(&req.ClientName, "client-name", "", "client name passed to the analyzer")
	cmd.Flags().IntVar(&req.MaxPages, "pages", 0, "maximum pages to crawl per URL")
	return cmd
}

func newBatchGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Shows batch progress and its audits as a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			client, err := newAPIClient(e)
			if err != nil {
				return err
			}
			view, err := client.GetBatch(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get batch: %w", err)
			}
			renderBatch(cmd.OutOrStdout(), view)
			return nil
		},
	}
}

func readURLFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open url file: %w", err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read url file: %w", err)
	}
	return urls, nil
}

func renderBatch(w io.Writer, view orchestrator.BatchView) {
	fmt.Fprintf(w, "Batch %s (%s): %s\n", view.ID, view.Name, view.Status)
	fmt.Fprintf(w, "%d of %d done, %d failed\n",
		view.CompletedURLs+view.FailedURLs, view.TotalURLs, view.FailedURLs)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "URL", "Status", "Score", "Grade", "Error"})
	for _, job := range view.Audits {
		score, grade := "-", "-"
		if job.Result != nil {
			score = strconv.Itoa(job.Result.OverallScore)
			grade = job.Result.OverallGrade
		}
		t.AppendRow(table.Row{job.ID, job.URL, job.Status, score, grade, job.ErrorMessage})
	}
	t.Render()
}
