// ABOUTME: Renders outbound message bodies from markdown to Matrix HTML
// ABOUTME: Produces MessageEventContent with formatted_body alongside the plain body

package transport

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"maunium.net/go/mautrix/event"
)

// TextMessage builds a plain m.text message content.
func TextMessage(body string) *event.MessageEventContent {
	return &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    body,
	}
}

// NoticeMessage builds an m.notice content, used for command confirmations
// and error replies so clients render them distinctly and bots ignore them.
func NoticeMessage(body string) *event.MessageEventContent {
	return &event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    body,
	}
}

// MarkdownMessage renders the body as markdown into formatted_body. The
// plain body carries the original markdown source, which is the Matrix
// fallback convention.
func MarkdownMessage(body string) *event.MessageEventContent {
	content := TextMessage(body)

	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(body), &buf); err != nil {
		return content
	}

	html := strings.TrimSpace(buf.String())
	// Skip the HTML copy when rendering produced nothing beyond a bare
	// paragraph of the original text.
	if html == "" || html == "<p>"+body+"</p>" {
		return content
	}

	content.Format = event.FormatHTML
	content.FormattedBody = html
	return content
}
