// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// MessageContent is the content of an m.room.message event.
type MessageContent struct {
	MsgType       string `json:"msgtype"`
	Body          string `json:"body"`
	Format        string `json:"format,omitempty"`
	FormattedBody string `json:"formatted_body,omitempty"`
}

// HTMLFormat is the format value for HTML formatted bodies.
const HTMLFormat = "org.matrix.custom.html"

// NewTextMessage creates a plain m.text message.
func NewTextMessage(body string) MessageContent {
	return MessageContent{MsgType: "m.text", Body: body}
}

// markdownRenderer omits raw HTML found in the source (no
// html.WithUnsafe), so formatted bodies only carry markup the markdown
// itself produced.
var markdownRenderer = goldmark.New(
	goldmark.WithExtensions(extension.Strikethrough, extension.Linkify),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// NewMarkdownMessage creates an m.text message whose formatted body is
// the markdown rendering of body. When the rendering is nothing more
// than a single paragraph of the original text, the formatted body is
// omitted and the message is sent as plain text.
func NewMarkdownMessage(body string) MessageContent {
	content := NewTextMessage(body)
	var rendered bytes.Buffer
	if err := markdownRenderer.Convert([]byte(body), &rendered); err != nil {
		return content
	}
	formatted := strings.TrimSpace(rendered.String())
	if isPlainParagraph(formatted, body) {
		return content
	}
	content.Format = HTMLFormat
	content.FormattedBody = formatted
	return content
}

func isPlainParagraph(formatted, body string) bool {
	inner, ok := strings.CutPrefix(formatted, "<p>")
	if !ok {
		return false
	}
	inner, ok = strings.CutSuffix(inner, "</p>")
	return ok && inner == strings.TrimSpace(body)
}
