package domain

import (
	"errors"
	"fmt"
	"strings"
)

type ContentKind string

const (
	ContentText     ContentKind = "text"
	ContentImage    ContentKind = "image"
	ContentDocument ContentKind = "document"
)

var ErrInvalidContent = errors.New("invalid message content")

// Content is the tagged union carried by inbound and outbound messages:
// text | image+caption | document+filename+caption. Only the fields of Kind
// are meaningful.
type Content struct {
	Kind     ContentKind `json:"kind"`
	Text     string      `json:"text,omitempty"`
	MediaURL string      `json:"media_url,omitempty"`
	Caption  string      `json:"caption,omitempty"`
	Filename string      `json:"filename,omitempty"`
	MimeType string      `json:"mime_type,omitempty"`
}

func TextContent(text string) Content {
	return Content{Kind: ContentText, Text: text}
}

func ImageContent(mediaURL, caption string) Content {
	return Content{Kind: ContentImage, MediaURL: mediaURL, Caption: caption}
}

func DocumentContent(mediaURL, filename, caption string) Content {
	return Content{Kind: ContentDocument, MediaURL: mediaURL, Filename: filename, Caption: caption}
}

func (c Content) Validate() error {
	switch c.Kind {
	case ContentText:
		if strings.TrimSpace(c.Text) == "" {
			return fmt.Errorf("%w: empty text", ErrInvalidContent)
		}
	case ContentImage:
		if c.MediaURL == "" {
			return fmt.Errorf("%w: image without media", ErrInvalidContent)
		}
	case ContentDocument:
		if c.MediaURL == "" || c.Filename == "" {
			return fmt.Errorf("%w: document needs media and filename", ErrInvalidContent)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidContent, c.Kind)
	}
	return nil
}

// Body is the human-readable part used for intent classification.
func (c Content) Body() string {
	if c.Kind == ContentText {
		return c.Text
	}
	return c.Caption
}
