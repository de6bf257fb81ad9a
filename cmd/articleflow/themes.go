package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/articleflow/config"
	"github.com/mohammad-safakhou/articleflow/internal/agent/theme"
)

func themesCmd(cfg func() *config.Config) *cobra.Command {
	var (
		req    theme.Request
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:     "themes",
		Short:   "Propose article themes from search trends and the knowledge base",
		Example: `  articleflow themes --keyword "budget planning" --persona "CFO" --count 7`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(req.Keyword) == "" {
				return fmt.Errorf("--keyword is required")
			}
			ctx := cmd.Context()
			a, err := buildApp(ctx, cfg(), appOptions{})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			res, err := a.themes.Propose(ctx, req)
			if err != nil {
				return err
			}
			return writeThemes(cmd.OutOrStdout(), res, asJSON)
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Keyword, "keyword", "", "core keyword")
	f.StringVar(&req.Persona, "persona", "", "target reader persona")
	f.StringVar(&req.DomainProfile, "profile", "", "search domain profile")
	f.IntVar(&req.Count, "count", theme.DefaultCount, "number of proposals (5-10)")
	f.BoolVar(&asJSON, "json", false, "print the proposals as JSON")
	return cmd
}

func writeThemes(w io.Writer, res theme.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	for i, t := range res.Proposals {
		fmt.Fprintf(w, "%d. %s  [%s, %.2f]\n", i+1, t.Title, t.SourceType, t.Relevance)
		if len(t.SEOKeywords) > 0 {
			fmt.Fprintf(w, "   keywords: %s\n", strings.Join(t.SEOKeywords, ", "))
		}
		if t.Summary != "" {
			fmt.Fprintf(w, "   %s\n", t.Summary)
		}
	}
	if len(res.Proposals) == 0 {
		fmt.Fprintln(w, "no themes proposed")
	}
	return nil
}
