package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"xhspilot/internal/automation"
	"xhspilot/internal/capture"
	"xhspilot/internal/extract"
	"xhspilot/internal/fault"
	"xhspilot/internal/login"
	"xhspilot/internal/selectors"
)

// MaxCommentRunes bounds comment text.
const MaxCommentRunes = 280

// FeedRef addresses one note.
type FeedRef struct {
	FeedID    string
	XsecToken string
}

func (f FeedRef) validate() error {
	if strings.TrimSpace(f.FeedID) == "" || strings.TrimSpace(f.XsecToken) == "" {
		return fault.New(fault.KindValidation, "validate", "feed id and xsec token are both required")
	}
	return nil
}

// DetailOptions configures a feed-detail run.
type DetailOptions struct {
	Options
	FeedRef
	// Comments also captures the first comment page.
	Comments bool
}

// DetailData is the data of a feed-detail result.
type DetailData struct {
	FeedID   string            `json:"feed_id"`
	URL      string            `json:"url"`
	Note     *extract.Detail   `json:"note"`
	Comments []extract.Comment `json:"comments,omitempty"`
}

// FeedDetail opens a note and returns its content and counters.
func (r *Runner) FeedDetail(ctx context.Context, opts DetailOptions) *Result {
	return r.execute(ctx, opts.Options, job{
		name:    "feed-detail",
		surface: login.SurfaceHome,
		prepare: func(ctx context.Context, rn *run) error { return opts.FeedRef.validate() },
		body: func(ctx context.Context, rn *run) (string, interface{}, error) {
			eng, cat := rn.eng, rn.r.cat
			url := cat.FeedDetailURL(opts.FeedID, opts.XsecToken)
			data := &DetailData{FeedID: opts.FeedID, URL: url}
			marker := ""

			if opts.Comments {
				res, err := capture.Capture(ctx, rn.page(), capture.Options{
					Patterns: []string{cat.APIs.CommentPage},
					Timeout:  rn.r.cfg.CaptureTimeout(),
				}, func(ctx context.Context) error { return eng.Navigate(ctx, url) })
				if err != nil {
					return "", data, err
				}
				data.Comments = []extract.Comment{}
				if p, ok := res.First(); ok {
					cs, err := rn.readComments(ctx, p)
					if fault.KindOf(err) == fault.KindAuthRequired {
						return "", data, err
					}
					if err != nil {
						rn.log.Warn("comments unreadable, returning the note without them: %v", err)
						marker = MarkerCommentsUnreadable
					} else {
						data.Comments = cs
					}
				} else {
					rn.audit.CaptureTimeout(cat.APIs.CommentPage, res.Waited)
					marker = MarkerCaptureTimeout
				}
			} else if err := eng.Navigate(ctx, url); err != nil {
				return "", data, err
			}

			if err := rn.checkAvailable(ctx); err != nil {
				return "", data, err
			}
			entry, err := rn.waitNoteDetail(ctx, opts.FeedID)
			if err != nil {
				return "", data, err
			}
			note, err := extract.NoteDetail(ctx, entry)
			if err != nil {
				return "", data, fault.Wrap(fault.KindInternal, "extract_detail", err)
			}
			data.Note = note
			return marker, data, nil
		},
	})
}

func (rn *run) readComments(ctx context.Context, p capture.Payload) ([]extract.Comment, error) {
	body, err := apiBody(ctx, "comments", p)
	if err != nil {
		return nil, err
	}
	cs, err := extract.Comments(ctx, body)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "comments", err)
	}
	return cs, nil
}

const unavailableJS = `(keywords) => {
	const text = (document.body && document.body.innerText) || "";
	for (const k of keywords) if (text.includes(k)) return k;
	return "";
}`

// checkAvailable fails with ContentUnavailable when the page says the
// note was deleted or made private.
func (rn *run) checkAvailable(ctx context.Context) error {
	var hit string
	if err := automation.EvalInto(ctx, rn.eng.Page(), &hit, unavailableJS, rn.r.cat.Keywords.NoteUnavailable); err != nil {
		return fault.Wrap(fault.KindInternal, "check_available", err)
	}
	if hit != "" {
		url, _ := rn.eng.Page().URL(ctx)
		return &fault.Error{Kind: fault.KindContentUnavailable, Step: "check_available", Target: url, Err: fmt.Errorf("page reports %q", hit)}
	}
	return nil
}

const noteDetailJS = `(feedId) => {
	const s = window.__INITIAL_STATE__;
	const map = s && s.note && s.note.noteDetailMap;
	if (!map) return null;
	const m = map.value !== undefined ? map.value : (map._value !== undefined ? map._value : map);
	if (!m) return null;
	if (m[feedId]) return m[feedId];
	const keys = Object.keys(m);
	return keys.length === 1 ? m[keys[0]] : null;
}`

func (rn *run) waitNoteDetail(ctx context.Context, feedID string) (interface{}, error) {
	var entry interface{}
	ok, err := rn.eng.Poll(ctx, 25*time.Second, 600*time.Millisecond, func(ctx context.Context) (bool, error) {
		var v interface{}
		if err := automation.EvalInto(ctx, rn.eng.Page(), &v, noteDetailJS, feedID); err != nil {
			return false, err
		}
		if v == nil {
			return false, nil
		}
		entry = v
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &fault.Error{
			Kind:   fault.KindSelectorTimeout,
			Step:   "feed_detail",
			Target: "__INITIAL_STATE__.note.noteDetailMap",
			Err:    fmt.Errorf("note %s not found in page state", feedID),
		}
	}
	return entry, nil
}

// CommentOptions configures a post-comment run.
type CommentOptions struct {
	Options
	FeedRef
	Text string
}

// CommentData is the data of a post-comment result.
type CommentData struct {
	FeedID    string `json:"feed_id"`
	Text      string `json:"text"`
	Confirmed bool   `json:"confirmed"`
	CommentID string `json:"comment_id,omitempty"`
}

// PostComment posts a top-level comment on a note. The note is checked
// for availability before anything is typed.
func (r *Runner) PostComment(ctx context.Context, opts CommentOptions) *Result {
	text := strings.TrimSpace(opts.Text)
	return r.execute(ctx, opts.Options, job{
		name:    "post-comment",
		surface: login.SurfaceHome,
		prepare: func(ctx context.Context, rn *run) error {
			if err := opts.FeedRef.validate(); err != nil {
				return err
			}
			if text == "" {
				return fault.New(fault.KindValidation, "validate", "comment text is empty")
			}
			if n := utf8.RuneCountInString(text); n > MaxCommentRunes {
				return fault.New(fault.KindValidation, "validate", "comment has %d characters, limit is %d", n, MaxCommentRunes)
			}
			return nil
		},
		body: func(ctx context.Context, rn *run) (string, interface{}, error) {
			eng, cat := rn.eng, rn.r.cat
			data := &CommentData{FeedID: opts.FeedID, Text: text}

			if err := eng.Navigate(ctx, cat.FeedDetailURL(opts.FeedID, opts.XsecToken)); err != nil {
				return "", data, err
			}
			if err := rn.checkAvailable(ctx); err != nil {
				return "", data, err
			}
			if _, err := eng.WaitFor(ctx, cat.Step(selectors.NoteContainer), 0); err != nil {
				return "", data, err
			}
			input := cat.Step(selectors.CommentInput)
			if err := rn.step(ctx, "open_comment", input.Selector, func(ctx context.Context) error {
				if err := eng.Click(ctx, cat.Step(selectors.CommentTrigger)); err != nil {
					return err
				}
				_, err := eng.WaitFor(ctx, input, 0)
				return err
			}); err != nil {
				return "", data, err
			}
			if err := rn.step(ctx, "type_comment", input.Selector, func(ctx context.Context) error {
				return eng.TypeText(ctx, input, text)
			}); err != nil {
				return "", data, err
			}

			var res *capture.Result
			if err := rn.step(ctx, "submit_comment", cat.APIs.CommentPost, func(ctx context.Context) error {
				var err error
				res, err = capture.Capture(ctx, rn.page(), capture.Options{
					Patterns: []string{cat.APIs.CommentPost},
					Timeout:  rn.r.cfg.CaptureTimeout(),
				}, func(ctx context.Context) error { return eng.ClickOnce(ctx, cat.Step(selectors.CommentSubmit)) })
				return err
			}); err != nil {
				return "", data, err
			}
			p, ok := res.First()
			if !ok {
				rn.audit.CaptureTimeout(cat.APIs.CommentPost, res.Waited)
				return MarkerCaptureTimeout, data, nil
			}
			body, err := p.JSON()
			if err != nil {
				return "", data, fault.Wrap(fault.KindInternal, "submit_comment", err)
			}
			pr, err := extract.Post(ctx, body)
			if err != nil {
				return "", data, fault.Wrap(fault.KindInternal, "submit_comment", err)
			}
			if !pr.OK {
				return "", data, &fault.Error{Kind: fault.KindUnverified, Step: "submit_comment", Target: p.URL,
					Err: fmt.Errorf("comment rejected: %s", pr.Message)}
			}
			data.Confirmed = true
			data.CommentID = pr.ID
			return "", data, nil
		},
	})
}
