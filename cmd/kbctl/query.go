package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var queryJSON bool

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question from an agent's knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "List the documents stored for an agent",
	RunE:  runDocs,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show knowledge base statistics for a user",
	RunE:  runStats,
}

func init() {
	for _, c := range []*cobra.Command{askCmd, docsCmd, statsCmd} {
		c.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
		rootCmd.AddCommand(c)
	}
}

func runAsk(cmd *cobra.Command, args []string) error {
	if err := requireFlags(false, true); err != nil {
		return err
	}
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	answer, err := a.Knowledge.Ask(cmd.Context(), agentID, strings.Join(args, " "))
	if err != nil {
		return err
	}
	if queryJSON {
		return printJSON(cmd, answer)
	}

	cmd.Println(answer.Text)
	if len(answer.Sources) > 0 {
		cmd.Println()
		color.New(color.FgCyan).Println("Sources:")
		for i, s := range answer.Sources {
			cmd.Printf("  [%d] %s (chunk %d, relevance %.2f)\n", i+1, s.FileName, s.ChunkIndex, s.Relevance)
		}
	}
	return nil
}

func runDocs(cmd *cobra.Command, _ []string) error {
	if err := requireFlags(true, true); err != nil {
		return err
	}
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	docs, err := a.Documents.ListByAgent(cmd.Context(), userID, agentID)
	if err != nil {
		return err
	}
	if queryJSON {
		return printJSON(cmd, docs)
	}
	if len(docs) == 0 {
		cmd.Println("No documents found.")
		return nil
	}
	for _, d := range docs {
		status := color.GreenString(d.Status)
		if d.Status != "completed" {
			status = color.YellowString(d.Status)
		}
		cmd.Printf("%s  %-40s %-8s %10d bytes  %s\n", d.ID, d.OriginalFileName, d.FileType, d.FileSize, status)
	}
	return nil
}

func runStats(cmd *cobra.Command, _ []string) error {
	if err := requireFlags(true, false); err != nil {
		return err
	}
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.Documents.Stats(cmd.Context(), userID)
	if err != nil {
		return err
	}
	if queryJSON {
		return printJSON(cmd, stats)
	}
	cmd.Printf("Documents: %d\nChunks:    %d\nSize:      %d bytes\n", stats.TotalDocuments, stats.TotalChunks, stats.TotalSize)
	for t, n := range stats.FileTypes {
		cmd.Printf("  %-8s %d\n", t, n)
	}
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
