package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Fortemi/fortemi-sub000/internal/core/ports/driving"
)

var documentCmd = &cobra.Command{
	Use:     "doc",
	Aliases: []string{"document"},
	Short:   "Manage indexed documents",
	Long:    `Add, list, view, or delete documents in the knowledge base.`,
}

var documentAddCmd = &cobra.Command{
	Use:   "add [file]",
	Short: "Add a document",
	Long: `Indexes a note. Content comes from the file argument, --content, or
stdin when the file is "-". Long notes are split into a chain of chunks
that are deduplicated back into one result at search time.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDocumentAdd,
}

var documentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents, newest first",
	Args:  cobra.NoArgs,
	RunE:  runDocumentList,
}

var documentGetCmd = &cobra.Command{
	Use:   "get [doc-id]",
	Short: "Show document info",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocumentGet,
}

var documentDeleteCmd = &cobra.Command{
	Use:   "delete [doc-id]",
	Short: "Remove a document and its links",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocumentDelete,
}

var (
	docTitle       string
	docContent     string
	docTags        []string
	docListLimit   int
	docListOffset  int
	docShowContent bool
)

func init() {
	documentAddCmd.Flags().StringVar(&docTitle, "title", "", "document title (defaults to the file name)")
	documentAddCmd.Flags().StringVarP(&docContent, "content", "c", "", "document content")
	documentAddCmd.Flags().StringSliceVarP(&docTags, "tag", "t", nil, "tag as scheme:notation (repeatable)")
	documentListCmd.Flags().IntVarP(&docListLimit, "limit", "n", 20, "maximum number of documents")
	documentListCmd.Flags().IntVar(&docListOffset, "offset", 0, "number of documents to skip")
	documentGetCmd.Flags().BoolVar(&docShowContent, "content", false, "print the document content")

	documentCmd.AddCommand(documentAddCmd)
	documentCmd.AddCommand(documentListCmd)
	documentCmd.AddCommand(documentGetCmd)
	documentCmd.AddCommand(documentDeleteCmd)
	rootCmd.AddCommand(documentCmd)
}

func runDocumentAdd(cmd *cobra.Command, args []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}

	input, err := readDocumentInput(cmd, args)
	if err != nil {
		return err
	}

	docs, err := documentService.Add(commandContext(cmd), input)
	if err != nil {
		return fmt.Errorf("failed to add document: %w", err)
	}

	if len(docs) == 1 {
		cmd.Printf("Added document %s\n", docs[0].ID)
		return nil
	}
	cmd.Printf("Added %d chunks:\n", len(docs))
	for i := range docs {
		cmd.Printf("  %s\n", docs[i].ID)
	}
	return nil
}

func readDocumentInput(cmd *cobra.Command, args []string) (driving.DocumentInput, error) {
	input := driving.DocumentInput{Title: docTitle, Content: docContent, Tags: docTags}

	if len(args) == 1 {
		var data []byte
		var err error
		if args[0] == "-" {
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			data, err = os.ReadFile(args[0])
			if input.Title == "" {
				input.Title = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}
		}
		if err != nil {
			return input, fmt.Errorf("failed to read content: %w", err)
		}
		input.Content = string(data)
	}

	if strings.TrimSpace(input.Content) == "" {
		return input, errors.New("no content: pass a file, '-' for stdin, or --content")
	}
	return input, nil
}

func runDocumentList(cmd *cobra.Command, _ []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}

	docs, err := documentService.List(commandContext(cmd), docListLimit, docListOffset)
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}

	if len(docs) == 0 {
		cmd.Println("No documents found.")
		return nil
	}

	for i := range docs {
		cmd.Printf("  %s  %s\n", docs[i].ID, docs[i].Title)
		if docs[i].Chain != nil {
			cmd.Printf("    Chunk %d/%d of %s\n", docs[i].Chain.Sequence, docs[i].Chain.Total, docs[i].Chain.ChainID)
		}
	}

	cmd.Printf("\nShowing %d documents\n", len(docs))
	return nil
}

func runDocumentGet(cmd *cobra.Command, args []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}

	doc, err := documentService.Get(commandContext(cmd), args[0])
	if err != nil {
		return fmt.Errorf("failed to get document: %w", err)
	}

	cmd.Printf("Document: %s\n\n", doc.ID)
	cmd.Printf("  Title:     %s\n", doc.Title)
	if len(doc.Tags) > 0 {
		cmd.Printf("  Tags:      %s\n", strings.Join(doc.Tags, ", "))
	}
	if doc.Chain != nil {
		cmd.Printf("  Chain:     %s (%d/%d)\n", doc.Chain.ChainID, doc.Chain.Sequence, doc.Chain.Total)
	}
	cmd.Printf("  Embedding: %v\n", doc.HasEmbedding())
	cmd.Printf("  Created:   %s\n", doc.CreatedAt.Format("2006-01-02 15:04:05"))
	cmd.Printf("  Updated:   %s\n", doc.UpdatedAt.Format("2006-01-02 15:04:05"))

	if len(doc.Metadata) > 0 {
		cmd.Println("\n  Metadata:")
		for k, v := range doc.Metadata {
			cmd.Printf("    %s: %v\n", k, v)
		}
	}

	if docShowContent {
		cmd.Println()
		cmd.Println(doc.Content)
	}

	return nil
}

func runDocumentDelete(cmd *cobra.Command, args []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}

	if err := documentService.Delete(commandContext(cmd), args[0]); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	cmd.Printf("Deleted document %s\n", args[0])
	return nil
}
