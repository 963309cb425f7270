package mission

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// RenderBriefHTML converts a mission brief's markdown to HTML. Conversion
// failures fall back to the raw markdown so a malformed brief never blocks
// the response.
func RenderBriefHTML(md string) string {
	gm := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM, // tables, strikethrough, autolinks, task lists
		),
	)
	var buf bytes.Buffer
	if err := gm.Convert([]byte(md), &buf); err != nil {
		return md
	}
	return buf.String()
}
