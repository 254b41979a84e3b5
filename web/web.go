// Package web embeds the HTML templates served by the chat.
package web

import "embed"

//go:embed templates/*.html
var TemplateFiles embed.FS
