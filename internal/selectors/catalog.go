// Package selectors holds the site catalog: entry URLs, captured API paths,
// page keywords and the per-step selectors. Values change with the target
// site and are therefore data, loaded from an embedded default and an
// optional override file.
package selectors

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"xhspilot/internal/automation"
)

//go:embed default.yaml
var defaultCatalog []byte

// Step names referenced by workflows.
const (
	ImageTab       = "image_tab"
	VideoTab       = "video_tab"
	UploadInput    = "upload_input"
	TitleInput     = "title_input"
	ContentEditor  = "content_editor"
	PublishButton  = "publish_button"
	VideoProgress  = "video_progress"
	SearchFilter   = "search_filter"
	FilterPanel    = "filter_panel"
	MentionsTab    = "mentions_tab"
	CommentTrigger = "comment_trigger"
	CommentInput   = "comment_input"
	CommentSubmit  = "comment_submit"
	NoteContainer  = "note_container"
	LikeButton     = "like_button"
	CollectButton  = "collect_button"
	LoginQRCode    = "login_qrcode"
)

// URLs are the entry points of each surface.
type URLs struct {
	CreatorHome    string   `yaml:"creator_home"`
	CreatorPublish string   `yaml:"creator_publish"`
	CreatorLogin   string   `yaml:"creator_login"`
	ContentData    string   `yaml:"content_data"`
	Home           string   `yaml:"home"`
	Search         string   `yaml:"search"`
	FeedDetail     string   `yaml:"feed_detail"`
	Notifications  string   `yaml:"notifications"`
	AppPrefixes    []string `yaml:"app_prefixes"`
}

// APIs are URL path fragments of responses worth capturing.
type APIs struct {
	SearchNotes string `yaml:"search_notes"`
	CommentPage string `yaml:"comment_page"`
	CommentPost string `yaml:"comment_post"`
	Mentions    string `yaml:"mentions"`
	ContentData string `yaml:"content_data"`
	NotePost    string `yaml:"note_post"`
}

// Keywords are visible page texts used as state markers.
type Keywords struct {
	HomeLoginPrompt string   `yaml:"home_login_prompt"`
	NoteUnavailable []string `yaml:"note_unavailable"`
	PublishSuccess  []string `yaml:"publish_success"`
}

// Catalog is the full site description.
type Catalog struct {
	URLs     URLs                       `yaml:"urls"`
	APIs     APIs                       `yaml:"apis"`
	Keywords Keywords                   `yaml:"keywords"`
	Steps    map[string]automation.Step `yaml:"steps"`
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := parse(defaultCatalog, nil)
	if err != nil {
		panic(fmt.Sprintf("selectors: embedded catalog is invalid: %v", err))
	}
	return c
}

// Load returns the embedded catalog with overridePath merged on top.
// An empty or missing override path yields the defaults.
func Load(overridePath string) (*Catalog, error) {
	base := Default()
	if overridePath == "" {
		return base, nil
	}
	data, err := os.ReadFile(overridePath)
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil
		}
		return nil, fmt.Errorf("read selectors override: %w", err)
	}
	return parse(data, base)
}

func parse(data []byte, base *Catalog) (*Catalog, error) {
	c := base
	if c == nil {
		c = &Catalog{}
	}
	if c.Steps == nil {
		c.Steps = make(map[string]automation.Step)
	}
	// Decode steps separately so an override replaces whole steps rather
	// than leaving stale fallbacks from the default.
	var raw struct {
		URLs     *URLs                      `yaml:"urls"`
		APIs     *APIs                      `yaml:"apis"`
		Keywords *Keywords                  `yaml:"keywords"`
		Steps    map[string]automation.Step `yaml:"steps"`
	}
	raw.URLs, raw.APIs, raw.Keywords = &c.URLs, &c.APIs, &c.Keywords
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse selectors: %w", err)
	}
	for name, st := range raw.Steps {
		c.Steps[name] = st
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks every step and required URL.
func (c *Catalog) Validate() error {
	names := make([]string, 0, len(c.Steps))
	for name := range c.Steps {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		st := c.Steps[name]
		st.Name = name
		if err := st.Validate(); err != nil {
			return err
		}
	}
	for label, u := range map[string]string{
		"urls.creator_home":    c.URLs.CreatorHome,
		"urls.creator_publish": c.URLs.CreatorPublish,
		"urls.home":            c.URLs.Home,
	} {
		if _, err := url.ParseRequestURI(u); err != nil {
			return fmt.Errorf("%s: %w", label, err)
		}
	}
	return nil
}

// Step returns the named step with its Name filled in.
func (c *Catalog) Step(name string) automation.Step {
	st, ok := c.Steps[name]
	if !ok {
		// Unknown names yield a step that never matches, which surfaces as
		// a SelectorTimeout naming the step.
		return automation.Step{Name: name, Kind: automation.StepWait}
	}
	st.Name = name
	return st
}

// SearchURL builds the search page URL for keyword.
func (c *Catalog) SearchURL(keyword string) string {
	q := url.Values{}
	q.Set("keyword", strings.TrimSpace(keyword))
	q.Set("source", "web_explore_feed")
	return c.URLs.Search + "?" + q.Encode()
}

// FeedDetailURL builds a note page URL from id and access token.
func (c *Catalog) FeedDetailURL(feedID, xsecToken string) string {
	q := url.Values{}
	q.Set("xsec_token", strings.TrimSpace(xsecToken))
	q.Set("xsec_source", "pc_feed")
	return c.URLs.FeedDetail + url.PathEscape(strings.TrimSpace(feedID)) + "?" + q.Encode()
}

// NoteURL builds a bare note URL from an id.
func (c *Catalog) NoteURL(noteID string) string {
	return c.URLs.FeedDetail + url.PathEscape(noteID)
}
