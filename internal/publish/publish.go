// Package publish defines the contract every destination adapter implements.
package publish

import (
	"context"
	"strings"
)

// PostID is the destination's identifier of a created post.
type PostID string

// FooterMode selects whether the cross-promotion footer is appended.
type FooterMode int

const (
	FooterNone FooterMode = iota
	FooterCrossPromo
)

// Options are per-destination publish settings.
type Options struct {
	Footer FooterMode
}

// Post is one article ready to be published.
type Post struct {
	Title     string
	Text      string
	Image     []byte
	ImagePath string // set only when some destination needs a file on disk
	Options   Options
}

// Publisher creates a post on one destination.
type Publisher interface {
	Publish(ctx context.Context, post Post) (PostID, error)
}

// PathUploader is implemented by publishers that upload the image from a file path.
type PathUploader interface {
	NeedsImagePath() bool
}

// NeedsImagePath reports whether p requires Post.ImagePath.
func NeedsImagePath(p Publisher) bool {
	pu, ok := p.(PathUploader)
	return ok && pu.NeedsImagePath()
}

// Footer returns the footer text when opts ask for it, or "".
func Footer(footer string, opts Options) string {
	if opts.Footer != FooterCrossPromo {
		return ""
	}
	return strings.TrimSpace(footer)
}

// Body joins the text with the footer when opts ask for it.
func Body(text, footer string, opts Options) string {
	text = strings.TrimSpace(text)
	if f := Footer(footer, opts); f != "" {
		return text + "\n\n" + f
	}
	return text
}
