package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/agentica-ai/knowledgebase/internal/core"
	"github.com/agentica-ai/knowledgebase/internal/core/ingestion_engine"
)

var ingestURL string

var ingestCmd = &cobra.Command{
	Use:   "ingest [files...]",
	Short: "Ingest local files or a web page into the knowledge base",
	Long: `Parses, analyzes, chunks and stores each file for the given agent.
Files are processed one AI call at a time; progress is shown per file.`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestURL, "url", "", "ingest a web page instead of files")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if err := requireFlags(true, true); err != nil {
		return err
	}
	if ingestURL == "" && len(args) == 0 {
		return fmt.Errorf("provide files to ingest or --url")
	}

	files := make([]core.File, 0, len(args))
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		files = append(files, core.File{
			Name:     filepath.Base(path),
			MIMEType: mime.TypeByExtension(filepath.Ext(path)),
			Size:     int64(len(data)),
			Data:     data,
		})
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	req := ingestion_engine.Request{UserID: userID, AgentID: agentID}
	var results []ingestion_engine.ItemResult
	if ingestURL != "" {
		bar := newProgressBar(1, "Fetching page")
		results = []ingestion_engine.ItemResult{a.Ingestor.IngestURL(ctx, req, ingestURL, progress(bar))}
	} else {
		bar := newProgressBar(len(files), "Ingesting")
		results = a.Ingestor.IngestFiles(ctx, req, files, progress(bar))
	}
	fmt.Println()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			color.Red("✗ %s: %s\n", r.FileName, r.Message())
			continue
		}
		color.Green("✓ %s: %d chunks (document %s)\n", r.FileName, r.ChunkCount, r.Document.ID)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d items failed", failed, len(results))
	}
	return nil
}

// progress advances bar once per item reaching a terminal stage.
func progress(bar *progressbar.ProgressBar) ingestion_engine.StatusFunc {
	return func(u ingestion_engine.Update) {
		bar.Describe(color.BlueString("%s: %s", u.FileName, u.Stage))
		if u.Stage.Terminal() {
			_ = bar.Add(1)
		}
	}
}

func newProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionShowCount(),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}
