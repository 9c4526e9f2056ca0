// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"html"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/loomchat/loom/lib/ref"
)

// markdownInstance is initialized once and reused. The converter
// configuration never changes and goldmark.Markdown is safe to share
// across goroutines — each Convert call builds its own parse state.
var (
	markdownInstance goldmark.Markdown
	markdownOnce     sync.Once
)

func markdownConverter() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdownInstance = goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		)
	})
	return markdownInstance
}

// renderMarkdown returns the HTML formatted body for a message, or ""
// when the body carries no markup — plain messages should not grow a
// redundant formatted variant.
func renderMarkdown(body string) string {
	var buffer bytes.Buffer
	if err := markdownConverter().Convert([]byte(body), &buffer); err != nil {
		return ""
	}
	rendered := strings.TrimSpace(buffer.String())

	// A single markup-free paragraph renders as "<p>escaped body</p>".
	// Unwrap it and compare against the source to detect plain text.
	if strings.HasPrefix(rendered, "<p>") && strings.HasSuffix(rendered, "</p>") {
		inner := strings.TrimSuffix(strings.TrimPrefix(rendered, "<p>"), "</p>")
		if !strings.Contains(inner, "<") {
			if html.UnescapeString(inner) == body {
				return ""
			}
			return inner
		}
	}
	return rendered
}

// NewMarkdownMessage creates a text message, attaching an HTML
// formatted body when the text contains markdown markup. The plain
// Body always carries the original source as the fallback.
func NewMarkdownMessage(body string) MessageContent {
	content := NewTextMessage(body)
	if formatted := renderMarkdown(body); formatted != "" {
		content.Format = formatHTML
		content.FormattedBody = formatted
	}
	return content
}

// NewMarkdownEdit creates a replacement for a previously sent
// message, with the same formatted-body handling as
// NewMarkdownMessage.
func NewMarkdownEdit(target ref.EventID, body string) MessageContent {
	content := NewEdit(target, body)
	if formatted := renderMarkdown(body); formatted != "" {
		content.Format = formatHTML
		content.FormattedBody = "* " + formatted
		newContent := *content.NewContent
		newContent.Format = formatHTML
		newContent.FormattedBody = formatted
		content.NewContent = &newContent
	}
	return content
}

const formatHTML = "org.matrix.custom.html"
