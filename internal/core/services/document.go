package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
	"github.com/Fortemi/fortemi-sub000/internal/core/ports/driven"
	"github.com/Fortemi/fortemi-sub000/internal/core/ports/driving"
	"github.com/Fortemi/fortemi-sub000/internal/logger"
)

// Ensure DocumentService implements the interface.
var _ driving.DocumentService = (*DocumentService)(nil)

// ChangeNotifier is told when the graph changes. MaintenanceScheduler
// satisfies it.
type ChangeNotifier interface {
	Notify()
}

// DocumentService ingests and removes notes, keeping the document store,
// both indexes and the link graph in step.
type DocumentService struct {
	docStore     driven.DocumentStore
	searchEngine driven.SearchEngine
	vectorIndex  driven.VectorIndex
	embedder     driven.EmbeddingService
	edgeStore    driven.EdgeStore
	processors   driven.PostProcessorPipeline
	links        driving.LinkService
	notifier     ChangeNotifier
}

// NewDocumentService creates a new document service.
// vectorIndex, embedder, processors, links and notifier are optional.
func NewDocumentService(
	docStore driven.DocumentStore,
	searchEngine driven.SearchEngine,
	vectorIndex driven.VectorIndex,
	embedder driven.EmbeddingService,
	edgeStore driven.EdgeStore,
	processors driven.PostProcessorPipeline,
	links driving.LinkService,
	notifier ChangeNotifier,
) *DocumentService {
	return &DocumentService{
		docStore:     docStore,
		searchEngine: searchEngine,
		vectorIndex:  vectorIndex,
		embedder:     embedder,
		edgeStore:    edgeStore,
		processors:   processors,
		links:        links,
		notifier:     notifier,
	}
}

// Add ingests a note, splitting long content into a chunk chain.
func (s *DocumentService) Add(ctx context.Context, input driving.DocumentInput) ([]domain.Document, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(input.Content) == "" {
		return nil, fmt.Errorf("%w: content is required", domain.ErrInvalidInput)
	}

	now := time.Now()
	note := &domain.Document{
		ID:        uuid.New().String(),
		Title:     title,
		Content:   input.Content,
		Embedding: input.Embedding,
		Tags:      domain.NormalizeTags(input.Tags),
		Metadata:  input.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	docs := []domain.Document{*note}
	if s.processors != nil {
		var err error
		docs, err = s.processors.Process(ctx, note)
		if err != nil {
			return nil, fmt.Errorf("process note: %w", err)
		}
	}

	// A supplied embedding describes the whole note, not its chunks.
	if len(docs) > 1 {
		for i := range docs {
			docs[i].Embedding = nil
		}
	}
	s.embed(ctx, docs)

	linkable := make([]string, 0, len(docs))
	for i := range docs {
		doc := &docs[i]
		if err := s.docStore.SaveDocument(ctx, doc); err != nil {
			return nil, fmt.Errorf("save document %s: %w", doc.ID, err)
		}
		if err := s.searchEngine.Index(ctx, doc); err != nil {
			return nil, fmt.Errorf("index document %s: %w", doc.ID, err)
		}
		if s.vectorIndex != nil && doc.HasEmbedding() {
			if err := s.vectorIndex.Add(ctx, doc.ID, doc.Embedding, doc.Tags); err != nil {
				return nil, fmt.Errorf("%w: add %s: %v", domain.ErrVectorIndexUnavailable, doc.ID, err)
			}
			linkable = append(linkable, doc.ID)
		}
	}

	if s.links != nil && len(linkable) > 0 {
		created, err := s.links.CreateLinksBatch(ctx, linkable)
		if err != nil {
			logger.Warn("link construction for note %s failed: %v", note.ID, err)
		} else {
			logger.Debug("Created %d edges for note %s", created, note.ID)
		}
	}

	s.notify()
	return docs, nil
}

// embed fills missing embeddings. Without an embedding service, or when
// it fails, documents stay lexical-only.
func (s *DocumentService) embed(ctx context.Context, docs []domain.Document) {
	if s.embedder == nil {
		return
	}

	var idx []int
	var texts []string
	for i := range docs {
		if !docs[i].HasEmbedding() {
			idx = append(idx, i)
			texts = append(texts, docs[i].Title+"\n\n"+docs[i].Content)
		}
	}
	if len(texts) == 0 {
		return
	}

	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil || len(vectors) != len(texts) {
		logger.Warn("embedding unavailable, indexing lexically only: %v", err)
		return
	}
	for j, i := range idx {
		docs[i].Embedding = vectors[j]
	}
}

// Get retrieves a document by ID.
func (s *DocumentService) Get(ctx context.Context, documentID string) (*domain.Document, error) {
	return s.docStore.GetDocument(ctx, documentID)
}

// List returns documents, newest first.
func (s *DocumentService) List(ctx context.Context, limit, offset int) ([]domain.Document, error) {
	if limit < 0 || offset < 0 {
		return nil, fmt.Errorf("%w: negative pagination", domain.ErrInvalidInput)
	}
	return s.docStore.ListDocuments(ctx, limit, offset)
}

// Delete removes a document, its edges and its index entries.
func (s *DocumentService) Delete(ctx context.Context, documentID string) error {
	if _, err := s.docStore.GetDocument(ctx, documentID); err != nil {
		return err
	}

	if s.edgeStore != nil {
		if err := s.edgeStore.DeleteForDocument(ctx, documentID); err != nil {
			return fmt.Errorf("delete edges: %w", err)
		}
	}
	if err := s.searchEngine.Delete(ctx, documentID); err != nil {
		return fmt.Errorf("delete from search index: %w", err)
	}
	if s.vectorIndex != nil {
		if err := s.vectorIndex.Delete(ctx, documentID); err != nil {
			return fmt.Errorf("delete from vector index: %w", err)
		}
	}
	if err := s.docStore.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	s.notify()
	return nil
}

func (s *DocumentService) notify() {
	if s.notifier != nil {
		s.notifier.Notify()
	}
}
