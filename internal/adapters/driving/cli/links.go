package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var linksCmd = &cobra.Command{
	Use:   "links",
	Short: "Manage knowledge graph links",
}

var linksCreateCmd = &cobra.Command{
	Use:   "create [doc-id...]",
	Short: "Rebuild semantic links for documents",
	Long: `Recomputes the semantic neighbours of each document using
diversity-aware selection over embedding similarity and tag overlap.
Existing semantic edges of the documents are replaced; explicit links
are kept.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLinksCreate,
}

var linksAddCmd = &cobra.Command{
	Use:   "add [source-id] [target-id]",
	Short: "Add an explicit link between two documents",
	Args:  cobra.ExactArgs(2),
	RunE:  runLinksAdd,
}

func init() {
	linksCmd.AddCommand(linksCreateCmd)
	linksCmd.AddCommand(linksAddCmd)
	rootCmd.AddCommand(linksCmd)
}

func runLinksCreate(cmd *cobra.Command, args []string) error {
	if linkService == nil {
		return errors.New("link service not configured")
	}

	ctx := commandContext(cmd)

	if len(args) == 1 {
		edges, err := linkService.CreateLinks(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to create links: %w", err)
		}
		cmd.Printf("Created %d edges for %s\n", len(edges), args[0])
		for i := range edges {
			if edges[i].Source != args[0] {
				continue
			}
			cmd.Printf("  -> %s (%.3f, %s)\n", edges[i].Target, edges[i].Score, edges[i].Metadata.Strategy)
		}
		return nil
	}

	total, err := linkService.CreateLinksBatch(ctx, args)
	if err != nil {
		return fmt.Errorf("failed to create links: %w", err)
	}
	cmd.Printf("Created %d links across %d documents\n", total, len(args))
	return nil
}

func runLinksAdd(cmd *cobra.Command, args []string) error {
	if linkService == nil {
		return errors.New("link service not configured")
	}

	edge, err := linkService.AddExplicitLink(commandContext(cmd), args[0], args[1])
	if err != nil {
		return fmt.Errorf("failed to add link: %w", err)
	}

	cmd.Printf("Linked %s <-> %s\n", edge.Source, edge.Target)
	return nil
}
