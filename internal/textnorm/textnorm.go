// Package textnorm normalizes document inputs before they reach prompts and
// cache keys. Resumes and job specs arrive as HTML as often as plain text;
// stripping markup keeps cache keys stable across markup variants of the
// same document.
package textnorm

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// NormalizeDocument extracts plain text from a document that may be HTML and
// collapses runs of whitespace. Plain-text input passes through with only
// whitespace normalization.
func NormalizeDocument(input string) string {
	text := input
	if looksLikeHTML(input) {
		if stripped, ok := stripHTML(input); ok {
			text = stripped
		}
	}
	return CollapseWhitespace(text)
}

// CollapseWhitespace trims and folds all whitespace runs to single spaces
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// looksLikeHTML is a cheap structural check; goquery parses anything, so we
// gate on markup actually being present.
func looksLikeHTML(s string) bool {
	trimmed := strings.TrimSpace(s)
	if !strings.Contains(trimmed, "<") || !strings.Contains(trimmed, ">") {
		return false
	}
	lower := strings.ToLower(trimmed)
	for _, marker := range []string{"<html", "<body", "<div", "<p", "<br", "<span", "<ul", "<li", "<table", "<h1", "<h2", "<h3"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// stripHTML parses markup with goquery and returns the text content with
// script and style bodies removed.
func stripHTML(input string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(input))
	if err != nil {
		return "", false
	}
	doc.Find("script, style, noscript").Remove()
	return doc.Text(), true
}
