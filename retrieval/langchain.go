package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/poiesic/ragflow/core"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

// Metadata keys written to and read from langchaingo documents.
const (
	MetaDocumentID  = "document_id"
	MetaChunkID     = "chunk_id"
	MetaTitle       = "title"
	MetaSource      = "source"
	MetaPublishedAt = "published_at"
	MetaStart       = "start"
	MetaEnd         = "end"
)

// LangChainStore adapts a langchaingo vector store. Collections map to
// store namespaces.
type LangChainStore struct {
	store vectorstores.VectorStore
}

var _ VectorStore = (*LangChainStore)(nil)

// NewLangChainStore wraps store.
func NewLangChainStore(store vectorstores.VectorStore) (*LangChainStore, error) {
	if store == nil {
		return nil, ErrVectorStoreRequired
	}
	return &LangChainStore{store: store}, nil
}

// Search runs a similarity search and converts the documents.
func (s *LangChainStore) Search(ctx context.Context, req SearchRequest) ([]core.RetrievedChunk, error) {
	var opts []vectorstores.Option
	if req.Collection != "" {
		opts = append(opts, vectorstores.WithNameSpace(req.Collection))
	}
	docs, err := s.store.SimilaritySearch(ctx, req.Query, req.Limit, opts...)
	if err != nil {
		return nil, err
	}

	hits := make([]core.RetrievedChunk, 0, len(docs))
	for i, doc := range docs {
		hit := fromDocument(doc)
		if hit.ChunkID == "" {
			hit.ChunkID = core.IDFromContent(doc.PageContent).String()
		}
		if hit.DocumentID == "" {
			hit.DocumentID = fmt.Sprintf("doc-%d", i)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// AddChunks indexes chunks into the wrapped store under their collection.
func (s *LangChainStore) AddChunks(ctx context.Context, chunks ...*core.DocumentChunk) error {
	byCollection := map[string][]schema.Document{}
	var order []string
	for _, c := range chunks {
		if _, ok := byCollection[c.Collection]; !ok {
			order = append(order, c.Collection)
		}
		byCollection[c.Collection] = append(byCollection[c.Collection], toDocument(c))
	}
	for _, collection := range order {
		var opts []vectorstores.Option
		if collection != "" {
			opts = append(opts, vectorstores.WithNameSpace(collection))
		}
		if _, err := s.store.AddDocuments(ctx, byCollection[collection], opts...); err != nil {
			return fmt.Errorf("failed to index collection %q: %w", collection, err)
		}
	}
	return nil
}

func toDocument(c *core.DocumentChunk) schema.Document {
	meta := map[string]any{
		MetaDocumentID: c.DocumentID,
		MetaChunkID:    c.ID,
		MetaStart:      c.Start,
		MetaEnd:        c.End,
	}
	if c.Title != "" {
		meta[MetaTitle] = c.Title
	}
	if c.Source != "" {
		meta[MetaSource] = c.Source
	}
	if !c.PublishedAt.IsZero() {
		meta[MetaPublishedAt] = c.PublishedAt.UTC().Format(time.RFC3339)
	}
	return schema.Document{PageContent: c.Text, Metadata: meta}
}

func fromDocument(doc schema.Document) core.RetrievedChunk {
	hit := core.RetrievedChunk{
		Text:  doc.PageContent,
		Score: min(1, max(0, float64(doc.Score))),
	}
	hit.ChunkID = metaString(doc.Metadata, MetaChunkID)
	hit.DocumentID = metaString(doc.Metadata, MetaDocumentID)
	hit.Metadata.Title = metaString(doc.Metadata, MetaTitle)
	hit.Metadata.Source = metaString(doc.Metadata, MetaSource)
	hit.Start = metaInt(doc.Metadata, MetaStart)
	hit.End = metaInt(doc.Metadata, MetaEnd)

	switch v := doc.Metadata[MetaPublishedAt].(type) {
	case time.Time:
		hit.Metadata.PublishedAt = v
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			hit.Metadata.PublishedAt = t
		}
	}
	return hit
}

func metaString(meta map[string]any, key string) string {
	switch v := meta[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}
	return ""
}

// Stores round-trip metadata through JSON, so numbers may come back as float64.
func metaInt(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
