// Package extractor normalizes raw document bytes into plain or Markdown
// text suitable for chunking.
package extractor

import (
	"fmt"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/docsage/docsage/pkg/domain"
)

var (
	// ![alt](url) and ![alt](url "title")
	inlineImageRe = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	// raw <img ...> tags, self-closing or not
	imgTagRe = regexp.MustCompile(`(?is)<img\b[^>]*/?>`)
	// reference-style image definitions: ![alt][ref] and [ref]: url lines
	refImageRe    = regexp.MustCompile(`!\[[^\]]*\]\[[^\]]*\]`)
	refImageDefRe = regexp.MustCompile(`(?m)^\s*\[[^\]]+\]:\s+\S+\s+"?[Ii]mage[^"\n]*"?\s*$`)
)

// Extractor converts fetched bytes into text by source type.
type Extractor struct{}

// New creates an Extractor.
func New() *Extractor { return &Extractor{} }

// Extract returns the text of a document. HTML becomes Markdown, Markdown
// keeps its structure minus embedded images, API definitions and issue
// bodies pass through untouched.
func (e *Extractor) Extract(doc *domain.Document) (string, error) {
	raw := string(doc.Raw)

	switch doc.SourceType {
	case domain.SourceGitMarkdown:
		return StripImages(raw), nil
	case domain.SourceWikiPage, domain.SourceLinkedPage:
		if looksLikeHTML(raw) {
			md, err := htmltomarkdown.ConvertString(raw)
			if err != nil {
				return "", fmt.Errorf("%w: html conversion: %v", domain.ErrMalformed, err)
			}
			return StripImages(md), nil
		}
		return StripImages(raw), nil
	case domain.SourceGitAPIDef, domain.SourceIssue, domain.SourceDiagramSummary:
		// API definitions stay verbatim, issue text was already assembled
		// by the fetcher, diagram summaries arrive as plain text.
		return raw, nil
	default:
		return "", fmt.Errorf("%w: unknown source type %q", domain.ErrMalformed, doc.SourceType)
	}
}

// StripImages removes embedded image syntax from Markdown: inline images,
// raw <img> tags, and reference-style image usages plus their definitions.
func StripImages(md string) string {
	md = inlineImageRe.ReplaceAllString(md, "")
	md = imgTagRe.ReplaceAllString(md, "")
	md = refImageRe.ReplaceAllString(md, "")
	md = refImageDefRe.ReplaceAllString(md, "")
	return md
}

// looksLikeHTML is a cheap sniff for wiki payloads that were served as HTML
// rather than Markdown.
func looksLikeHTML(s string) bool {
	head := s
	if len(head) > 512 {
		head = head[:512]
	}
	head = strings.ToLower(head)
	return strings.Contains(head, "<html") ||
		strings.Contains(head, "<!doctype html") ||
		strings.Contains(head, "<body") ||
		strings.Contains(head, "<div")
}
