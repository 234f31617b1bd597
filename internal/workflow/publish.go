package workflow

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"xhspilot/internal/automation"
	"xhspilot/internal/capture"
	"xhspilot/internal/cdp"
	"xhspilot/internal/extract"
	"xhspilot/internal/fault"
	"xhspilot/internal/journal"
	"xhspilot/internal/logging"
	"xhspilot/internal/login"
	"xhspilot/internal/post"
	"xhspilot/internal/selectors"
)

// PublishOptions configures a publish run.
type PublishOptions struct {
	Options
	Request *post.Request
	// AutoPublish clicks publish after filling; otherwise the composer is
	// left filled for a manual confirm.
	AutoPublish bool
	// Preview forces fill-only even with AutoPublish.
	Preview bool
	// LikeCollect likes and collects the new note after a verified publish.
	LikeCollect bool
	// Force publishes even when the journal has the same request published.
	Force bool
}

// PublishData is the data of a publish result.
type PublishData struct {
	Kind      post.MediaKind `json:"kind"`
	Title     string         `json:"title"`
	Tags      []string       `json:"tags,omitempty"`
	Media     int            `json:"media"`
	Digest    string         `json:"digest"`
	JournalID string         `json:"journal_id,omitempty"`
	NoteURL   string         `json:"note_url,omitempty"`
	Liked     bool           `json:"liked,omitempty"`
	Collected bool           `json:"collected,omitempty"`
}

// Publish fills the composer and, when asked, publishes and verifies.
func (r *Runner) Publish(ctx context.Context, opts PublishOptions) *Result {
	var (
		data  = &PublishData{}
		entry *journal.Entry
	)
	return r.execute(ctx, opts.Options, job{
		name:    "publish",
		surface: login.SurfaceCreator,
		prepare: func(ctx context.Context, rn *run) error {
			req := opts.Request
			if req == nil {
				return fault.New(fault.KindValidation, "validate", "no publish request")
			}
			if err := req.Validate(); err != nil {
				return err
			}
			if err := req.CheckFiles(); err != nil {
				return err
			}
			data.Kind, data.Title, data.Tags, data.Media = req.Kind(), req.Title, req.Tags, len(req.MediaPaths())
			data.Digest = journal.Digest(rn.acct.ID, req)
			if r.journal == nil {
				return nil
			}
			e, err := r.journal.Begin(rn.acct.ID, req, opts.Force)
			if err != nil {
				return err
			}
			entry, data.JournalID = e, e.ID
			return nil
		},
		failed: func(rn *run, err error) {
			if entry != nil {
				if merr := r.journal.Mark(entry.ID, journal.StateFailed, "", err.Error()); merr != nil {
					rn.log.Warn("journal: %v", merr)
				}
			}
		},
		body: func(ctx context.Context, rn *run) (string, interface{}, error) {
			rn.log.Info("publish %s", opts.Request.Summary())
			if err := rn.fillComposer(ctx, opts.Request); err != nil {
				return "", data, err
			}
			if !opts.AutoPublish || opts.Preview {
				if entry != nil {
					if err := r.journal.Mark(entry.ID, journal.StateFilled, "", ""); err != nil {
						rn.log.Warn("journal: %v", err)
					}
				}
				logging.Workflow("composer filled; confirm the publish in the browser")
				return MarkerPendingConfirm, data, nil
			}

			noteURL, err := rn.publishAndVerify(ctx)
			if err != nil {
				return "", data, err
			}
			data.NoteURL = noteURL
			if entry != nil {
				if err := r.journal.Mark(entry.ID, journal.StatePublished, noteURL, ""); err != nil {
					rn.log.Warn("journal: %v", err)
				}
			}
			rn.audit.Publish(data.Digest, noteURL, true)
			if opts.LikeCollect {
				data.Liked, data.Collected = rn.likeAndCollect(ctx, noteURL)
			}
			return MarkerPublished, data, nil
		},
	})
}

// ClickPublishOptions configures a click-publish run.
type ClickPublishOptions struct {
	Options
	LikeCollect bool
}

// ClickPublish publishes a composer that an earlier fill-only run left
// open. It attaches to that tab and never opens a new one. A verified
// publish completes the account's latest filled journal entry, so the
// same request is refused as a duplicate afterwards.
func (r *Runner) ClickPublish(ctx context.Context, opts ClickPublishOptions) *Result {
	return r.execute(ctx, opts.Options, job{
		name: "click-publish",
		attach: func(a *cdp.AttachOptions) {
			a.RequireExisting = true
			a.Prefixes = []string{r.cat.URLs.CreatorPublish}
		},
		body: func(ctx context.Context, rn *run) (string, interface{}, error) {
			data := &PublishData{}
			noteURL, err := rn.publishAndVerify(ctx)
			if err != nil {
				return "", data, err
			}
			data.NoteURL = noteURL
			rn.completeFilled(data)
			rn.audit.Publish(data.Digest, noteURL, true)
			if opts.LikeCollect {
				data.Liked, data.Collected = rn.likeAndCollect(ctx, noteURL)
			}
			return MarkerPublished, data, nil
		},
	})
}

// completeFilled marks the journal entry of the fill-only run being
// published. Journal errors are logged; the note is already live.
func (rn *run) completeFilled(data *PublishData) {
	j := rn.r.journal
	if j == nil {
		return
	}
	entry, err := j.LatestFilled(rn.acct.ID)
	if err != nil {
		rn.log.Warn("journal: %v", err)
		return
	}
	if entry == nil {
		rn.log.Info("no filled journal entry for %s; published composer was not filled by xhspilot", rn.acct.ID)
		return
	}
	if err := j.Mark(entry.ID, journal.StatePublished, data.NoteURL, ""); err != nil {
		rn.log.Warn("journal: %v", err)
		return
	}
	data.JournalID, data.Digest, data.Title = entry.ID, entry.Digest, entry.Title
}

func (rn *run) fillComposer(ctx context.Context, req *post.Request) error {
	eng, cat := rn.eng, rn.r.cat
	t := eng.Timings()

	if err := rn.step(ctx, "open_composer", cat.URLs.CreatorPublish, func(ctx context.Context) error {
		return eng.Navigate(ctx, cat.URLs.CreatorPublish)
	}); err != nil {
		return err
	}
	if err := rn.step(ctx, "select_tab", string(req.Kind()), func(ctx context.Context) error {
		return rn.selectTab(ctx, req.Kind())
	}); err != nil {
		return err
	}
	if err := rn.step(ctx, "upload", cat.Step(selectors.UploadInput).Selector, func(ctx context.Context) error {
		if err := eng.UploadFiles(ctx, cat.Step(selectors.UploadInput), req.MediaPaths()); err != nil {
			return err
		}
		return eng.Pacer().Sleep(ctx, t.Upload, 2*time.Second)
	}); err != nil {
		return err
	}
	if req.Kind() == post.MediaVideo {
		if err := rn.step(ctx, "video_processing", "", rn.waitVideo); err != nil {
			return err
		}
	}
	title := cat.Step(selectors.TitleInput)
	if err := rn.step(ctx, "fill_title", title.Selector, func(ctx context.Context) error {
		if _, err := eng.WaitFor(ctx, title, 0); err != nil {
			return err
		}
		return eng.TypeText(ctx, title, req.Title)
	}); err != nil {
		return err
	}
	editor := cat.Step(selectors.ContentEditor)
	if err := rn.step(ctx, "fill_body", editor.Selector, func(ctx context.Context) error {
		return rn.fillBody(ctx, editor, req.Body)
	}); err != nil {
		return err
	}
	if len(req.Tags) > 0 {
		if err := rn.step(ctx, "input_tags", strings.Join(req.Tags, " "), func(ctx context.Context) error {
			return eng.InputTags(ctx, editor, req.Tags)
		}); err != nil {
			return err
		}
	}
	return nil
}

const presentJS = `(s) => !!document.querySelector(s)`

// selectTab picks the image or video composer. A missing image tab is
// tolerated when the upload input is already on the page.
func (rn *run) selectTab(ctx context.Context, kind post.MediaKind) error {
	eng, cat := rn.eng, rn.r.cat
	name := selectors.ImageTab
	if kind == post.MediaVideo {
		name = selectors.VideoTab
	}
	err := eng.Click(ctx, cat.Step(name))
	if err == nil {
		return eng.Pacer().Sleep(ctx, eng.Timings().TabClick, 500*time.Millisecond)
	}
	if kind == post.MediaImages && fault.KindOf(err) == fault.KindSelectorTimeout {
		for _, sel := range cat.Step(selectors.UploadInput).Candidates() {
			if ok, _ := automation.EvalBool(ctx, eng.Page(), presentJS, sel); ok {
				logging.AutomationWarn("image tab not found; upload input %s already present, continuing", sel)
				return nil
			}
		}
	}
	return err
}

const uploadProgressJS = `(selectors) => {
	for (const s of selectors) {
		for (const el of document.querySelectorAll(s)) {
			const m = (el.innerText || "").match(/(\d{1,3})\s*%/);
			if (m) return m[1];
		}
	}
	return "";
}`

// waitVideo polls until the title input appears, which happens once the
// uploaded video has been processed.
func (rn *run) waitVideo(ctx context.Context) error {
	eng, cat := rn.eng, rn.r.cat
	t := eng.Timings()
	title := cat.Step(selectors.TitleInput)
	progress := cat.Step(selectors.VideoProgress).Candidates()

	last := ""
	ok, err := eng.Poll(ctx, t.VideoTimeout, t.VideoPoll, func(ctx context.Context) (bool, error) {
		for _, sel := range title.Candidates() {
			if visible, err := eng.Page().Has(ctx, sel); err == nil && visible {
				return true, nil
			}
		}
		var pct string
		if err := automation.EvalInto(ctx, eng.Page(), &pct, uploadProgressJS, progress); err == nil && pct != "" && pct != last {
			last = pct
			logging.Automation("video upload %s%%", pct)
		}
		return false, nil
	})
	if err != nil {
		return err
	}
	if !ok {
		return &fault.Error{
			Kind:   fault.KindSelectorTimeout,
			Step:   "video_processing",
			Target: title.Selector,
			Err:    fmt.Errorf("video not processed within %v (last progress %q)", t.VideoTimeout, last),
		}
	}
	logging.Automation("video processed")
	return nil
}

const fillBodyJS = `(selectors, html) => {
	for (const s of selectors) {
		const el = document.querySelector(s);
		if (!el) continue;
		el.focus();
		el.innerHTML = html;
		el.dispatchEvent(new Event("input", { bubbles: true }));
		return true;
	}
	return false;
}`

// BodyHTML renders body for the rich-text editor: one paragraph per
// non-blank line, separated by empty paragraphs.
func BodyHTML(body string) string {
	var paras []string
	for _, line := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		paras = append(paras, "<p>"+html.EscapeString(line)+"</p>")
	}
	return strings.Join(paras, "<p><br></p>")
}

func (rn *run) fillBody(ctx context.Context, editor automation.Step, body string) error {
	eng := rn.eng
	if _, err := eng.WaitFor(ctx, editor, 0); err != nil {
		return err
	}
	if err := eng.Settle(ctx); err != nil {
		return err
	}
	ok, err := automation.EvalBool(ctx, eng.Page(), fillBodyJS, editor.Candidates(), BodyHTML(body))
	if err != nil {
		return fault.Wrap(fault.KindInternal, editor.Name, err)
	}
	if !ok {
		return &fault.Error{Kind: fault.KindSelectorTimeout, Step: editor.Name, Target: editor.Selector, Err: fmt.Errorf("editor not found")}
	}
	return nil
}

const readBackJS = `(keywords) => {
	const text = (document.body && document.body.innerText) || "";
	const success = keywords.some((k) => text.includes(k));
	const a = document.querySelector('a[href*="xiaohongshu.com/explore"]');
	if (a) return { success, link: a.href, note_id: "" };
	const m = text.match(/\b[0-9a-fA-F]{24}\b/);
	return { success, link: "", note_id: m ? m[0] : "" };
}`

type readBack struct {
	Success bool   `json:"success"`
	Link    string `json:"link"`
	NoteID  string `json:"note_id"`
}

// publishAndVerify clicks publish while capturing the note service's
// answer, then reads the page back. Success is declared only when the
// service accepted the note or the page shows the new note.
func (rn *run) publishAndVerify(ctx context.Context) (string, error) {
	eng, cat := rn.eng, rn.r.cat
	button := cat.Step(selectors.PublishButton)

	var res *capture.Result
	err := rn.step(ctx, "click_publish", button.Text, func(ctx context.Context) error {
		var err error
		res, err = capture.Capture(ctx, rn.page(), capture.Options{
			Patterns: []string{cat.APIs.NotePost},
			Timeout:  rn.r.cfg.CaptureTimeout(),
		}, func(ctx context.Context) error {
			return eng.ClickOnce(ctx, button)
		})
		return err
	})
	if err != nil {
		return "", err
	}

	var noteID string
	if p, ok := res.First(); ok {
		body, err := p.JSON()
		if err == nil {
			if pr, err := extract.Post(ctx, body); err == nil {
				if !pr.OK {
					return "", &fault.Error{Kind: fault.KindUnverified, Step: "verify_publish", Target: p.URL,
						Err: fmt.Errorf("note service rejected the publish: %s", pr.Message)}
				}
				noteID = pr.ID
			}
		}
	} else {
		rn.audit.CaptureTimeout(cat.APIs.NotePost, res.Waited)
	}

	if err := eng.Pacer().Sleep(ctx, eng.Timings().PublishSettle, 2*time.Second); err != nil {
		return "", err
	}
	var rb readBack
	if err := automation.EvalInto(ctx, eng.Page(), &rb, readBackJS, cat.Keywords.PublishSuccess); err != nil {
		logging.AutomationWarn("publish read-back failed: %v", err)
	}

	switch {
	case rb.Link != "":
		return rb.Link, nil
	case noteID != "":
		return cat.NoteURL(noteID), nil
	case rb.NoteID != "":
		return cat.NoteURL(rb.NoteID), nil
	case rb.Success:
		return "", nil
	}
	return "", &fault.Error{
		Kind:   fault.KindUnverified,
		Step:   "verify_publish",
		Target: cat.APIs.NotePost,
		Err:    fmt.Errorf("publish clicked but neither the note service nor the page confirmed it"),
	}
}

// likeAndCollect opens the new note and likes and collects it. Failures
// are logged only; the publish itself is already confirmed.
func (rn *run) likeAndCollect(ctx context.Context, noteURL string) (liked, collected bool) {
	if noteURL == "" {
		logging.AutomationWarn("no note link after publish; skipping like and collect")
		return false, false
	}
	eng, cat := rn.eng, rn.r.cat
	if err := eng.Navigate(ctx, noteURL); err != nil {
		logging.AutomationWarn("open note for like/collect: %v", err)
		return false, false
	}
	if _, err := eng.WaitFor(ctx, cat.Step(selectors.NoteContainer), 0); err != nil {
		logging.AutomationWarn("note page not ready: %v", err)
		return false, false
	}
	if err := eng.Click(ctx, cat.Step(selectors.LikeButton)); err != nil {
		logging.AutomationWarn("like: %v", err)
	} else {
		liked = true
	}
	if err := eng.Click(ctx, cat.Step(selectors.CollectButton)); err != nil {
		logging.AutomationWarn("collect: %v", err)
	} else {
		collected = true
	}
	return liked, collected
}
