package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/articleflow/config"
	"github.com/mohammad-safakhou/articleflow/internal/agent/core"
	"github.com/mohammad-safakhou/articleflow/internal/knowledge"
	"github.com/mohammad-safakhou/articleflow/internal/logging"
	"github.com/mohammad-safakhou/articleflow/internal/retry"
	"github.com/mohammad-safakhou/articleflow/internal/store"
)

func knowledgeCmd(cfg func() *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "knowledge",
		Short: "Manage the internal knowledge base",
	}
	cmd.AddCommand(knowledgeIndexCmd(cfg), knowledgeSearchCmd(cfg))
	return cmd
}

// openKnowledge builds the configured backend without the rest of the app.
func openKnowledge(cmd *cobra.Command, c *config.Config) (core.KnowledgeLookup, *knowledge.Indexer, func(), error) {
	var (
		chunks   knowledge.ChunkStore
		embedder core.Embedder
		closeFn  = func() {}
	)
	if c.Knowledge.Backend == "pgvector" {
		st, err := store.New(cmd.Context(), c.Storage.Postgres)
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn = func() { _ = st.Close() }
		emb, err := core.NewEmbedder(c.LLM, retry.FromConfig(c.Workflow.Retry))
		if err != nil {
			closeFn()
			return nil, nil, nil, err
		}
		chunks, embedder = st, emb
	}
	lookup, ix, err := knowledge.New(c.Knowledge, chunks, embedder, logging.Component("knowledge"))
	if err != nil {
		closeFn()
		return nil, nil, nil, err
	}
	return lookup, ix, closeFn, nil
}

func knowledgeIndexCmd(cfg func() *config.Config) *cobra.Command {
	var docsDir string
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Chunk the docs directory and load it into the knowledge backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := *cfg()
			if docsDir != "" {
				c.Knowledge.DocsDir = docsDir
			}
			if c.Knowledge.DocsDir == "" {
				return fmt.Errorf("knowledge.docs_dir is not set")
			}
			_, ix, closeFn, err := openKnowledge(cmd, &c)
			if err != nil {
				return err
			}
			defer closeFn()
			n, err := ix.Reindex(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d chunks into %s (%s)\n", n, c.Knowledge.Collection, c.Knowledge.Backend)
			return nil
		},
	}
	cmd.Flags().StringVar(&docsDir, "dir", "", "docs directory (default knowledge.docs_dir)")
	return cmd
}

func knowledgeSearchCmd(cfg func() *config.Config) *cobra.Command {
	var topK int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Query the knowledge backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			lookup, ix, closeFn, err := openKnowledge(cmd, c)
			if err != nil {
				return err
			}
			defer closeFn()
			// the local index lives in memory, so seed it for this process
			if c.Knowledge.Backend != "pgvector" && c.Knowledge.DocsDir != "" {
				if _, err := ix.Reindex(cmd.Context()); err != nil {
					return err
				}
			}
			if topK <= 0 {
				topK = c.Knowledge.TopK
			}
			hits, err := lookup.SimilaritySearch(cmd.Context(), c.Knowledge.Collection, args[0], topK)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, h := range hits {
				fmt.Fprintf(out, "%d. %.3f %v\n   %s\n", i+1, h.Score, h.Metadata["source"], firstLine(h.Content))
			}
			if len(hits) == 0 {
				fmt.Fprintln(out, "no matches")
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&topK, "top", 0, "number of hits (default knowledge.top_k)")
	return cmd
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
