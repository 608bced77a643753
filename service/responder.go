package service

import (
	"cmp"
	"slices"
	"strings"
	"unicode"
)

const (
	maxQuotedParagraphs = 2
	maxQuoteRunes       = 400
)

var stopWords = map[string]bool{
	"a": true, "about": true, "an": true, "and": true, "are": true, "as": true,
	"at": true, "be": true, "by": true, "can": true, "do": true, "does": true,
	"for": true, "from": true, "how": true, "i": true, "in": true, "is": true,
	"it": true, "me": true, "of": true, "on": true, "or": true, "paper": true,
	"pdf": true, "say": true, "tell": true, "that": true, "the": true,
	"this": true, "to": true, "was": true, "what": true, "when": true,
	"where": true, "which": true, "who": true, "why": true, "with": true,
	"document": true, "you": true, "your": true,
}

// Answer replies to question using the document's markdown. Paragraphs are
// ranked by how many of the question's keywords they contain and the best
// ones are quoted; when nothing matches a canned reply is chosen from the
// question's wording.
func Answer(markdown, question string) string {
	keywords := keywordsOf(question)
	if len(keywords) > 0 {
		if quotes := bestParagraphs(markdown, keywords); len(quotes) > 0 {
			return "Here is what the document says:\n\n" + strings.Join(quotes, "\n\n")
		}
	}
	return cannedReply(question)
}

func keywordsOf(text string) []string {
	seen := make(map[string]bool)
	var keywords []string
	for _, word := range tokenize(text) {
		if len(word) < 3 || stopWords[word] || seen[word] {
			continue
		}
		seen[word] = true
		keywords = append(keywords, word)
	}
	return keywords
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

type scoredParagraph struct {
	text  string
	score int
}

func bestParagraphs(markdown string, keywords []string) []string {
	var scored []scoredParagraph
	for _, para := range strings.Split(markdown, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" || strings.HasPrefix(para, "![") {
			continue
		}
		words := make(map[string]bool)
		for _, w := range tokenize(para) {
			words[w] = true
		}
		score := 0
		for _, k := range keywords {
			if words[k] {
				score++
			}
		}
		if score > 0 {
			scored = append(scored, scoredParagraph{text: cleanInline(para), score: score})
		}
	}

	slices.SortStableFunc(scored, func(a, b scoredParagraph) int {
		return cmp.Compare(b.score, a.score)
	})

	var quotes []string
	for _, p := range scored[:min(len(scored), maxQuotedParagraphs)] {
		quotes = append(quotes, "> "+truncateRunes(p.text, maxQuoteRunes))
	}
	return quotes
}

func cannedReply(question string) string {
	q := strings.ToLower(question)
	switch {
	case strings.Contains(q, "summary"):
		return "This document is about various topics including technology, science, and business."
	case strings.Contains(q, "what") && strings.Contains(q, "about"):
		return "The document discusses several key concepts and provides detailed information on the topic."
	case strings.Contains(q, "who") || strings.Contains(q, "author"):
		return "The document appears to be authored by experts in the field, though specific attribution is not mentioned."
	case strings.Contains(q, "when") || strings.Contains(q, "date"):
		return "The document doesn't explicitly state a publication date, but references suggest it's relatively recent."
	default:
		return "Based on the document content, I can provide information related to your question. Could you be more specific about what you'd like to know?"
	}
}
