// Package post models a publish request and validates it before any
// browser interaction happens.
package post

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"xhspilot/internal/fault"
)

const (
	// MaxTitleWeight is the title limit in weighted units.
	MaxTitleWeight = 38
	// MaxTags is the most topic tags a note may carry.
	MaxTags = 10
)

var tagToken = regexp.MustCompile(`^#[^\s#]+$`)

// MediaKind distinguishes image posts from video posts.
type MediaKind string

const (
	MediaImages MediaKind = "images"
	MediaVideo  MediaKind = "video"
)

// Request is a validated-on-construction publish payload.
type Request struct {
	Title  string
	Body   string   // body with the trailing tag line removed
	Tags   []string // "#tag" tokens in original order
	Images []string
	Video  string
}

// Kind reports the media kind. Only meaningful after Validate.
func (r *Request) Kind() MediaKind {
	if r.Video != "" {
		return MediaVideo
	}
	return MediaImages
}

// MediaPaths returns the files to upload.
func (r *Request) MediaPaths() []string {
	if r.Video != "" {
		return []string{r.Video}
	}
	return r.Images
}

// New trims the inputs, extracts tags from the body and validates the result.
func New(title, body string, images []string, video string) (*Request, error) {
	rest, tags := ExtractTags(strings.TrimSpace(body))
	r := &Request{
		Title:  strings.TrimSpace(title),
		Body:   rest,
		Tags:   tags,
		Images: images,
		Video:  strings.TrimSpace(video),
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks shape only; CheckFiles checks the media on disk.
func (r *Request) Validate() error {
	if r.Title == "" {
		return fault.New(fault.KindValidation, "validate", "title is empty")
	}
	if w := TitleWeight(r.Title); w > MaxTitleWeight {
		return fault.New(fault.KindValidation, "validate",
			"title weighs %d units, limit is %d", w, MaxTitleWeight)
	}
	if strings.TrimSpace(r.Body) == "" && len(r.Tags) == 0 {
		return fault.New(fault.KindValidation, "validate", "body is empty")
	}
	if len(r.Tags) > MaxTags {
		return fault.New(fault.KindValidation, "validate",
			"%d tags given, limit is %d", len(r.Tags), MaxTags)
	}
	hasImages, hasVideo := len(r.Images) > 0, r.Video != ""
	switch {
	case hasImages && hasVideo:
		return fault.New(fault.KindValidation, "validate", "images and video are mutually exclusive")
	case !hasImages && !hasVideo:
		return fault.New(fault.KindValidation, "validate", "at least one image or a video is required")
	}
	for _, p := range r.Images {
		if strings.TrimSpace(p) == "" {
			return fault.New(fault.KindValidation, "validate", "empty image path")
		}
	}
	return nil
}

// CheckFiles verifies that every media path is a regular file and makes
// the paths absolute with forward slashes, the form the file chooser expects.
func (r *Request) CheckFiles() error {
	norm := func(p string) (string, error) {
		abs, err := filepath.Abs(p)
		if err != nil {
			return "", err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return "", fault.New(fault.KindValidation, "validate", "media file not found: %s", p)
		}
		if info.IsDir() {
			return "", fault.New(fault.KindValidation, "validate", "media path is a directory: %s", p)
		}
		return filepath.ToSlash(abs), nil
	}
	if r.Video != "" {
		v, err := norm(r.Video)
		if err != nil {
			return err
		}
		r.Video = v
		return nil
	}
	for i, p := range r.Images {
		v, err := norm(p)
		if err != nil {
			return err
		}
		r.Images[i] = v
	}
	return nil
}

// TitleWeight counts CJK characters and full-width punctuation as two units
// and everything else as one.
func TitleWeight(s string) int {
	n := 0
	for _, r := range s {
		if isWide(r) {
			n += 2
		} else {
			n++
		}
	}
	return n
}

func isWide(r rune) bool {
	switch {
	case unicode.Is(unicode.Han, r),
		unicode.Is(unicode.Hiragana, r),
		unicode.Is(unicode.Katakana, r),
		unicode.Is(unicode.Hangul, r):
		return true
	case r >= 0x3000 && r <= 0x303F: // CJK symbols and punctuation
		return true
	case r >= 0xFF00 && r <= 0xFFEF: // half/full-width forms
		return true
	}
	return false
}

// ExtractTags splits off the last non-empty line of body when every token
// on it is a "#tag". Otherwise body is returned unchanged with no tags.
func ExtractTags(body string) (string, []string) {
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return body, nil
	}
	parts := strings.Fields(lines[len(lines)-1])
	if len(parts) == 0 {
		return body, nil
	}
	for _, p := range parts {
		if !tagToken.MatchString(p) {
			return body, nil
		}
	}
	rest := strings.TrimSpace(strings.Join(lines[:len(lines)-1], "\n"))
	return rest, parts
}

// Summary is a short description for logs.
func (r *Request) Summary() string {
	return fmt.Sprintf("title=%q kind=%s media=%d tags=%d", r.Title, r.Kind(), len(r.MediaPaths()), len(r.Tags))
}
