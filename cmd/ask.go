package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyerfyer/doc-rag-assistant/internal/document"
)

var (
	askFile    string
	askQueries []string
	askTimeout time.Duration
	askJSON    bool
)

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Answer questions about a single document",
	Long: `Prepare a document and answer one or more questions about it.

Examples:
  docqa ask --file report.pdf --query "Who wrote the report?"
  docqa ask -f notes.md -q "What is a goroutine?" -q "What is a channel?" --json`,
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVarP(&askFile, "file", "f", "", "document to ask about (required)")
	askCmd.Flags().StringArrayVarP(&askQueries, "query", "q", nil, "question, may be repeated (required)")
	askCmd.Flags().DurationVar(&askTimeout, "timeout", 2*time.Minute, "overall time limit")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output as JSON")
	_ = askCmd.MarkFlagRequired("file")
	_ = askCmd.MarkFlagRequired("query")
}

// askResult 单个问题的输出
type askResult struct {
	Query  string `json:"query"`
	Answer string `json:"answer"`
	Found  bool   `json:"found"`
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), askTimeout)
	defer cancel()

	app, err := newApplication(cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	session, err := app.retrieval.Prepare(ctx, document.Document{Path: askFile})
	if err != nil {
		return err
	}
	defer app.retrieval.Release(session)

	out := cmd.OutOrStdout()
	results := make([]askResult, 0, len(askQueries))
	for _, query := range askQueries {
		result, err := app.answer.AnswerDetail(ctx, session, query)
		if err != nil {
			return err
		}
		results = append(results, askResult{Query: query, Answer: result.Answer, Found: result.Found})

		if !askJSON {
			if len(askQueries) > 1 {
				fmt.Fprintf(out, "Q: %s\n", query)
			}
			fmt.Fprintln(out, result.Answer)
		}
	}

	if askJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	return nil
}
