package chat

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/pscheid92/htmxchat/internal/domain"
)

const (
	maxUsernameLength = 64
	maxContentLength  = 2000

	// maxFrameSize fits a fully \u-escaped maximum-length content plus the
	// HEADERS object htmx attaches to every ws-send. Larger frames are
	// refused by the transport with close code 1009.
	maxFrameSize = 6*maxContentLength + 4096
)

var validate = validator.New()

// Frame is a decoded client frame: either IdentityFrame or MessageFrame.
type Frame interface{ isFrame() }

// IdentityFrame picks the session's username. An empty username is valid on
// the wire and ends the session.
type IdentityFrame struct {
	Username string `validate:"max=64"`
}

// MessageFrame carries a new chat line. Empty content is a valid line.
type MessageFrame struct {
	Content string `validate:"max=2000"`
}

func (IdentityFrame) isFrame() {}
func (MessageFrame) isFrame()  {}

// wireFrame is discriminated by shape. A "username" key wins over "content";
// unknown keys such as htmx's HEADERS are ignored.
type wireFrame struct {
	Username *string `json:"username"`
	Content  *string `json:"content"`
}

// DecodeFrame parses one text frame. Every failure wraps domain.ErrMalformedFrame.
func DecodeFrame(data []byte) (Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedFrame, err)
	}

	var frame Frame
	switch {
	case w.Username != nil:
		frame = IdentityFrame{Username: *w.Username}
	case w.Content != nil:
		frame = MessageFrame{Content: *w.Content}
	default:
		return nil, fmt.Errorf("%w: neither username nor content present", domain.ErrMalformedFrame)
	}

	if err := validate.Struct(frame); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedFrame, err)
	}
	return frame, nil
}
