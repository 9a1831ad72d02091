// Package chunker splits extracted document text into ordered, overlapping
// chunks with stable IDs. Oversized documents are pre-split into bounded
// sections so a single pathological file cannot stall the pipeline.
package chunker

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/docsage/docsage/pkg/domain"
)

const (
	// Documents longer than this are pre-split into sections that are
	// chunked independently.
	preSplitThreshold = 15000

	// Budget for chunking a single section. A section that blows it
	// abandons the whole document.
	sectionTimeout = 3 * time.Second
)

// Config carries the chunking parameters.
type Config struct {
	ChunkSize    int
	Overlap      int
	MinChunkSize int
}

// DefaultConfig returns the standard parameters.
func DefaultConfig() Config {
	return Config{ChunkSize: 1000, Overlap: 200, MinChunkSize: 100}
}

// Chunker produces chunks for documents.
type Chunker struct {
	cfg Config
}

// New creates a Chunker, substituting defaults for non-positive parameters.
func New(cfg Config) *Chunker {
	def := DefaultConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.ChunkSize {
		cfg.Overlap = def.Overlap
	}
	if cfg.MinChunkSize <= 0 {
		cfg.MinChunkSize = def.MinChunkSize
	}
	return &Chunker{cfg: cfg}
}

// span is a half-open [Start, End) range into the original text.
type span struct {
	Start int
	End   int
}

// ChunkDocument chunks the extracted text of doc. Chunk IDs are derived from
// the file SHA and the global chunk index, so an unchanged file always yields
// the same IDs. Returns domain.ErrChunkingTimeout when a section exceeds its
// time budget.
func (c *Chunker) ChunkDocument(ctx context.Context, doc *domain.Document, text string) ([]domain.Chunk, error) {
	spans, err := c.chunkText(ctx, text)
	if err != nil {
		return nil, err
	}

	fileType := fileTypeFor(doc)
	chunks := make([]domain.Chunk, 0, len(spans))
	for i, sp := range spans {
		chunks = append(chunks, domain.Chunk{
			ChunkID:     fmt.Sprintf("%s-%d", doc.SHA, i),
			Text:        text[sp.Start:sp.End],
			SourceID:    doc.SourceID,
			SourceType:  doc.SourceType,
			Repository:  doc.Repository,
			Owner:       doc.Owner,
			Path:        doc.Path,
			FileType:    fileType,
			URL:         doc.URL,
			FileSHA:     doc.SHA,
			Index:       i,
			Total:       len(spans),
			StartChar:   sp.Start,
			EndChar:     sp.End,
			Depth:       doc.Depth,
			WikiName:    doc.WikiName,
			IssueNumber: doc.IssueNumber,
			IssueState:  doc.IssueState,
		})
	}
	return chunks, nil
}

// chunkText pre-splits then chunks each section, renumbering globally. For
// text at or below the pre-split threshold the section pass is the identity,
// so pre-splitting never changes the result of short inputs.
func (c *Chunker) chunkText(ctx context.Context, text string) ([]span, error) {
	if text == "" {
		return nil, nil
	}

	var all []span
	for _, sec := range preSplit(text) {
		spans, err := c.chunkSection(ctx, text, sec)
		if err != nil {
			return nil, err
		}
		all = append(all, spans...)
	}
	return all, nil
}

// preSplit cuts text into sections of at most preSplitThreshold characters,
// preferring to cut after a paragraph break, then a line break, then a
// space, falling back to a hard cut.
func preSplit(text string) []span {
	if len(text) <= preSplitThreshold {
		return []span{{0, len(text)}}
	}

	var sections []span
	start := 0
	for start < len(text) {
		if len(text)-start <= preSplitThreshold {
			sections = append(sections, span{start, len(text)})
			break
		}
		boundary := start + preSplitThreshold
		cut := boundary
		window := text[start:boundary]
		if idx := strings.LastIndex(window, "\n\n"); idx > 0 {
			cut = start + idx + 2
		} else if idx := strings.LastIndex(window, "\n"); idx > 0 {
			cut = start + idx + 1
		} else if idx := strings.LastIndex(window, " "); idx > 0 {
			cut = start + idx + 1
		}
		sections = append(sections, span{start, cut})
		start = cut
	}
	return sections
}

// chunkSection walks a sliding window over text[sec.Start:sec.End]. Window
// ends are extended to the nearest soft boundary within an Overlap-sized
// lookahead. A trailing fragment shorter than MinChunkSize is folded into
// the previous chunk so index-ordered chunks always cover the section.
func (c *Chunker) chunkSection(ctx context.Context, text string, sec span) ([]span, error) {
	deadline := time.Now().Add(sectionTimeout)
	advance := c.cfg.ChunkSize - c.cfg.Overlap

	var spans []span
	pos := sec.Start
	for pos < sec.End {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, domain.ErrChunkingTimeout
		}

		end := pos + c.cfg.ChunkSize
		if end >= sec.End {
			end = sec.End
		} else {
			limit := end + c.cfg.Overlap
			if limit > sec.End {
				limit = sec.End
			}
			end = extendToBoundary(text, end, limit)
		}

		if end-pos < c.cfg.MinChunkSize && len(spans) > 0 {
			// Trailing fragment: extend the previous chunk instead of
			// emitting an undersized one.
			spans[len(spans)-1].End = end
		} else {
			spans = append(spans, span{pos, end})
		}

		if end == sec.End {
			break
		}
		pos += advance
	}
	return spans, nil
}

// extendToBoundary pushes end forward to just past the nearest preferred
// break within (end, limit]: sentence terminator, then paragraph break,
// then line break, then space. Without any, end stays where it is.
func extendToBoundary(text string, end, limit int) int {
	window := text[end:limit]

	best := -1
	for i := 0; i < len(window); i++ {
		if isSentenceEnd(window[i]) {
			best = i + 1
			break
		}
	}
	if best < 0 {
		if idx := strings.Index(window, "\n\n"); idx >= 0 {
			best = idx + 2
		} else if idx := strings.IndexByte(window, '\n'); idx >= 0 {
			best = idx + 1
		} else if idx := strings.IndexByte(window, ' '); idx >= 0 {
			best = idx + 1
		}
	}
	if best < 0 {
		return end
	}
	return end + best
}

func isSentenceEnd(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}

func fileTypeFor(doc *domain.Document) string {
	switch doc.SourceType {
	case domain.SourceIssue:
		return "issue"
	case domain.SourceDiagramSummary:
		return "diagram"
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(doc.Path)), ".")
	if ext == "" {
		return "txt"
	}
	return ext
}
