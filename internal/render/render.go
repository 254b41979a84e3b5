// Package render produces the HTML pages and the htmx fragments pushed over
// the chat WebSocket.
package render

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/pscheid92/htmxchat/internal/domain"
	"github.com/pscheid92/htmxchat/web"
	"github.com/samber/lo"
)

// Templates renders pages and chat fragments from the embedded templates.
type Templates struct {
	templates *template.Template
}

type messageView struct {
	Username string
	Content  string
	Own      bool
}

// New parses the embedded template set.
func New() (*Templates, error) {
	templates, err := template.ParseFS(web.TemplateFiles, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return &Templates{templates: templates}, nil
}

// Page renders a full page template by file name.
func (t *Templates) Page(name string, data any) ([]byte, error) {
	return t.execute(name, data)
}

// History renders the chat view that replaces the username form, with the
// given messages already in place.
func (t *Templates) History(username string, messages []domain.ChatMessage) ([]byte, error) {
	views := lo.Map(messages, func(m domain.ChatMessage, _ int) messageView {
		return newMessageView(username, m)
	})
	return t.execute("chat_history", map[string]any{"Messages": views})
}

// Message renders a single message appended to the message list.
func (t *Templates) Message(username string, message domain.ChatMessage) ([]byte, error) {
	return t.execute("chat_message_oob", newMessageView(username, message))
}

func (t *Templates) execute(name string, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

func newMessageView(viewer string, m domain.ChatMessage) messageView {
	return messageView{
		Username: m.Username,
		Content:  m.Content,
		Own:      m.Username == viewer,
	}
}
