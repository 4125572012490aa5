package ingestion

import (
	"fmt"
	"strings"
	"time"

	"github.com/poiesic/ragflow/core"
	"github.com/tmc/langchaingo/textsplitter"
)

const (
	// DefaultChunkSize is the target chunk length in characters.
	DefaultChunkSize = 512

	// DefaultChunkOverlap is the number of characters shared by neighboring chunks.
	DefaultChunkOverlap = 128
)

// chunker splits documents into stored chunks.
type chunker struct {
	splitter textsplitter.TextSplitter
}

func newChunker(size, overlap int) (*chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidChunking, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap %d must be within [0,%d)", ErrInvalidChunking, overlap, size)
	}
	return &chunker{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
		),
	}, nil
}

// split returns the chunks of doc. Chunk IDs are "<document id>#<index>"
// and Start/End are byte offsets into doc.Text. Segments the splitter
// rewrote so they no longer occur verbatim keep zero offsets.
func (c *chunker) split(doc *core.Document, now time.Time) ([]*core.DocumentChunk, error) {
	segments, err := c.splitter.SplitText(doc.Text)
	if err != nil {
		return nil, fmt.Errorf("split document %s: %w", doc.ID, err)
	}

	chunks := make([]*core.DocumentChunk, 0, len(segments))
	cursor := 0
	for _, segment := range segments {
		text := strings.TrimSpace(segment)
		if text == "" {
			continue
		}
		chunk := &core.DocumentChunk{
			ID:          fmt.Sprintf("%s#%d", doc.ID, len(chunks)),
			DocumentID:  doc.ID,
			Collection:  doc.Collection,
			Text:        text,
			Title:       doc.Title,
			Source:      doc.Source,
			PublishedAt: doc.PublishedAt,
			InsertedAt:  now,
		}
		if i := strings.Index(doc.Text[cursor:], text); i >= 0 {
			chunk.Start = cursor + i
			chunk.End = chunk.Start + len(text)
			cursor = chunk.Start + 1
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}
