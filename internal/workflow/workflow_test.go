package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xhspilot/internal/account"
	"xhspilot/internal/automation"
	"xhspilot/internal/browser"
	"xhspilot/internal/cdp"
	"xhspilot/internal/config"
	"xhspilot/internal/extract"
	"xhspilot/internal/fault"
	"xhspilot/internal/journal"
	"xhspilot/internal/login"
	"xhspilot/internal/post"
	"xhspilot/internal/selectors"
	"xhspilot/internal/testing/harness"
)

type fakeBrowsers struct {
	mu        sync.Mutex
	remote    bool
	ensured   []browser.Spec
	restarted []browser.Spec
}

func (f *fakeBrowsers) instance(spec browser.Spec) *browser.Instance {
	if f.remote {
		return &browser.Instance{Host: spec.Host, Port: spec.Port, ProfilePath: spec.ProfilePath, Headless: spec.Headless, Remote: true}
	}
	return &browser.Instance{Host: spec.Host, Port: spec.Port, ProfilePath: spec.ProfilePath, Headless: spec.Headless, PID: 4242, Launched: true}
}

func (f *fakeBrowsers) EnsureRunning(ctx context.Context, spec browser.Spec) (*browser.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, spec)
	return f.instance(spec), nil
}

func (f *fakeBrowsers) Restart(ctx context.Context, spec browser.Spec) (*browser.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarted = append(f.restarted, spec)
	return f.instance(spec), nil
}

func (f *fakeBrowsers) restarts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.restarted)
}

type fakeDialer struct {
	mu      sync.Mutex
	page    *harness.FakePage
	targets []cdp.Target
	dials   int
}

func (d *fakeDialer) Dial(ctx context.Context, host string, port int) (cdp.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	return fakeConn{d}, nil
}

type fakeConn struct{ d *fakeDialer }

func (c fakeConn) Targets(ctx context.Context) ([]cdp.Target, error) { return c.d.targets, nil }
func (c fakeConn) Open(ctx context.Context, id string) (cdp.Page, error) {
	return c.d.page, nil
}
func (c fakeConn) Create(ctx context.Context, url string) (cdp.Page, string, error) {
	return c.d.page, "target-1", nil
}
func (c fakeConn) Close() error { return nil }

type env struct {
	t        *testing.T
	cfg      *config.Config
	cat      *selectors.Catalog
	page     *harness.FakePage
	browsers *fakeBrowsers
	dialer   *fakeDialer
	sessions *cdp.Manager
	locks    *browser.PortLocks
	journal  *journal.Journal
	runner   *Runner

	mu     sync.Mutex
	looked []string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Capture.Timeout = "150ms"
	cfg.Capture.Settle = "20ms"

	store, err := account.NewStore(cfg.AccountsFile(), cfg.ProfilesDir())
	require.NoError(t, err)
	j, err := journal.Open(cfg.JournalPath())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	e := &env{
		t:        t,
		cfg:      cfg,
		cat:      selectors.Default(),
		page:     harness.NewFakePage(),
		browsers: &fakeBrowsers{},
		locks:    browser.NewPortLocks(cfg.RunDir()),
		journal:  j,
	}
	e.dialer = &fakeDialer{page: e.page}
	e.sessions = cdp.NewManager(e.dialer)

	eo := automation.DefaultOptions()
	eo.Clock = harness.NewFakeClock()
	eo.Rand = harness.FixedRand(0.5)
	e.runner = New(Deps{
		Config:   cfg,
		Catalog:  e.cat,
		Accounts: store,
		Browsers: e.browsers,
		Locks:    e.locks,
		Sessions: e.sessions,
		Journal:  j,
		Engine:   &eo,
	})
	return e
}

// textRects answers text lookups for click-by-text steps and records every
// text asked for.
func (e *env) textRects(byText map[string]automation.Rect) {
	e.page.Handle(func(js string, args []interface{}) (interface{}, bool, error) {
		if !strings.Contains(js, "exact ? t !== text") || len(args) != 3 {
			return nil, false, nil
		}
		text, _ := args[1].(string)
		e.mu.Lock()
		e.looked = append(e.looked, text)
		e.mu.Unlock()
		if r, ok := byText[text]; ok {
			return r, true, nil
		}
		return nil, true, nil
	})
}

func (e *env) lookedUp(text string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, l := range e.looked {
		if l == text {
			return true
		}
	}
	return false
}

// homePrompt shows the home login prompt while cond holds.
func (e *env) homePrompt(cond func() bool) {
	e.page.Handle(func(js string, _ []interface{}) (interface{}, bool, error) {
		if !strings.Contains(js, "[class*='modal']") {
			return nil, false, nil
		}
		return cond(), true, nil
	})
}

func (e *env) creatorAnonymous() {
	login := e.cat.URLs.CreatorLogin
	e.page.OnNavigate = func(p *harness.FakePage, url string) {
		if strings.HasPrefix(url, e.cat.URLs.CreatorHome) {
			p.SetURL(login + "?redirectReason=401")
		}
	}
}

func (e *env) assertReleased() {
	e.t.Helper()
	assert.False(e.t, e.sessions.Active(e.cfg.CDP.Port), "session must be released")
	assert.Equal(e.t, 0, e.page.Subscribers(), "capture subscriptions must be closed")
	lease, err := e.locks.Acquire(e.cfg.CDP.Port)
	require.NoError(e.t, err, "port lease must be released")
	lease.Release()
}

func noEscalate() Options { return Options{NoEscalate: true} }

func TestSearch_AnonymousReturnsAuthRequiredWithoutCapture(t *testing.T) {
	e := newEnv(t)
	e.homePrompt(func() bool { return true })

	res := e.runner.Search(context.Background(), SearchOptions{Options: noEscalate(), Keyword: "春招"})

	assert.Equal(t, StatusFailure, res.Status)
	assert.Equal(t, fault.KindAuthRequired, res.ErrorKind)
	assert.Equal(t, 1, fault.ExitCode(res.Err()))
	assert.Equal(t, 0, e.page.Count("subscribe:"), "no capture may start before the login gate passes")
	assert.Equal(t, 0, e.page.Count("navigate:"+e.cat.SearchURL("春招")))
	e.assertReleased()
}

func TestSearch_WindowedAnonymousFailsFast(t *testing.T) {
	e := newEnv(t)
	e.homePrompt(func() bool { return true })
	headless := false

	res := e.runner.Search(context.Background(), SearchOptions{Options: Options{Headless: &headless}, Keyword: "春招"})

	assert.Equal(t, fault.KindAuthRequired, res.ErrorKind)
	assert.Zero(t, e.browsers.restarts())
}

func TestSearch_EscalatesToWindowedLogin(t *testing.T) {
	e := newEnv(t)
	e.homePrompt(func() bool { return e.browsers.restarts() == 0 })
	e.page.RespondOn("navigate", e.cat.SearchURL("春招"), harness.FakeResponse{
		URL:  "https://edith.xiaohongshu.com/api/sns/web/v1/search/notes",
		Body: `{"data":{"items":[{"id":"n1","xsec_token":"t1","model_type":"note","note_card":{"display_title":"春招"}}]}}`,
	})

	res := e.runner.Search(context.Background(), SearchOptions{Keyword: "春招"})

	require.Equal(t, StatusSuccess, res.Status, res.Error)
	require.Len(t, e.browsers.restarted, 1)
	assert.False(t, e.browsers.restarted[0].Headless)
	assert.True(t, e.browsers.ensured[0].Headless)
	assert.Equal(t, 2, e.dialer.dials, "session re-attached after the restart")

	data := res.Data.(*SearchData)
	assert.Equal(t, "capture", data.Source)
	require.Len(t, data.Feeds, 1)
	assert.Equal(t, "t1", data.Feeds[0].XsecToken)
	e.assertReleased()
}

func TestSearch_RemoteBrowserNeverEscalates(t *testing.T) {
	e := newEnv(t)
	e.browsers.remote = true
	e.homePrompt(func() bool { return true })

	res := e.runner.Search(context.Background(), SearchOptions{Keyword: "春招"})

	assert.Equal(t, fault.KindAuthRequired, res.ErrorKind)
	assert.Zero(t, e.browsers.restarts())
	e.assertReleased()
}

func TestSearch_FallsBackToInitialState(t *testing.T) {
	e := newEnv(t)
	e.homePrompt(func() bool { return false })
	e.page.HandleContains(searchStateJS, []interface{}{
		map[string]interface{}{"id": "a", "xsecToken": "x", "modelType": "note", "noteCard": map[string]interface{}{"displayTitle": "T"}},
	})

	res := e.runner.Search(context.Background(), SearchOptions{Options: noEscalate(), Keyword: "春招"})

	require.Equal(t, StatusSuccess, res.Status, res.Error)
	data := res.Data.(*SearchData)
	assert.Equal(t, "initial_state", data.Source)
	assert.Equal(t, 1, data.Count)
	assert.Equal(t, "", res.Marker)
}

func TestSearch_ExpiredSessionIsAuthRequired(t *testing.T) {
	e := newEnv(t)
	e.homePrompt(func() bool { return false })
	e.page.HandleContains(searchStateJS, []interface{}{
		map[string]interface{}{"id": "stale", "xsecToken": "x", "modelType": "note", "noteCard": map[string]interface{}{}},
	})
	e.page.RespondOn("navigate", e.cat.SearchURL("春招"), harness.FakeResponse{
		URL:  "https://edith.xiaohongshu.com/api/sns/web/v1/search/notes",
		Body: `{"code":-100,"success":false,"msg":"登录已过期"}`,
	})

	res := e.runner.Search(context.Background(), SearchOptions{Options: noEscalate(), Keyword: "春招"})

	assert.Equal(t, fault.KindAuthRequired, res.ErrorKind, res.Error)
	assert.Equal(t, "search", res.Step)
	e.assertReleased()
}

func TestSearch_InvalidInputTouchesNoBrowser(t *testing.T) {
	e := newEnv(t)

	res := e.runner.Search(context.Background(), SearchOptions{Keyword: "春招", Filters: Filters{SortBy: "随便"}})
	assert.Equal(t, fault.KindValidation, res.ErrorKind)

	res = e.runner.Search(context.Background(), SearchOptions{Keyword: "  "})
	assert.Equal(t, fault.KindValidation, res.ErrorKind)

	assert.Empty(t, e.browsers.ensured)
	assert.Empty(t, e.page.Entries())
}

func TestSearch_AppliesFiltersInPanelOrder(t *testing.T) {
	e := newEnv(t)
	e.homePrompt(func() bool { return false })
	e.page.HandleContains(searchStateJS, []interface{}{})
	e.textRects(map[string]automation.Rect{"": {X: 900, Y: 80, Width: 60, Height: 30}})
	e.page.HandleContains(filterPanelJS, automation.Rect{X: 700, Y: 120, Width: 300, Height: 240})

	var mu sync.Mutex
	var clicked []string
	e.page.Handle(func(js string, args []interface{}) (interface{}, bool, error) {
		if js != filterOptionJS {
			return nil, false, nil
		}
		v, _ := args[1].(string)
		mu.Lock()
		clicked = append(clicked, v)
		mu.Unlock()
		return automation.Rect{X: 720, Y: 150, Width: 48, Height: 24}, true, nil
	})
	e.page.RespondOn("mouse", "", harness.FakeResponse{
		URL:  "https://edith.xiaohongshu.com/api/sns/web/v1/search/notes",
		Body: `{"data":{"items":[{"id":"n2","xsec_token":"t2","model_type":"note","note_card":{"type":"video"}}]}}`,
	})

	res := e.runner.Search(context.Background(), SearchOptions{
		Options: noEscalate(),
		Keyword: "春招",
		Filters: Filters{Location: "同城", SortBy: "最新", NoteType: "视频"},
	})

	require.Equal(t, StatusSuccess, res.Status, res.Error)
	assert.Equal(t, []string{"最新", "视频", "同城"}, clicked)
	assert.Equal(t, 3, e.page.Count("mouse:"))
	data := res.Data.(*SearchData)
	assert.Equal(t, "capture", data.Source)
	assert.Equal(t, "n2", data.Feeds[0].ID)
}

func TestSearch_FilteredResultsComeFromLastFilter(t *testing.T) {
	e := newEnv(t)
	e.homePrompt(func() bool { return false })
	e.page.HandleContains(searchStateJS, []interface{}{})
	e.textRects(map[string]automation.Rect{"": {X: 900, Y: 80, Width: 60, Height: 30}})
	e.page.HandleContains(filterPanelJS, automation.Rect{X: 700, Y: 120, Width: 300, Height: 240})
	e.page.HandleContains(filterOptionJS, automation.Rect{X: 720, Y: 150, Width: 48, Height: 24})
	e.page.RespondEach("mouse", "", func(n int) harness.FakeResponse {
		return harness.FakeResponse{
			URL:  "https://edith.xiaohongshu.com/api/sns/web/v1/search/notes",
			Body: fmt.Sprintf(`{"data":{"items":[{"id":"after-%d-filters","xsec_token":"t","model_type":"note","note_card":{}}]}}`, n),
		}
	})

	res := e.runner.Search(context.Background(), SearchOptions{
		Options: noEscalate(),
		Keyword: "春招",
		Filters: Filters{SortBy: "最新", NoteType: "视频", PublishTime: "一周内"},
	})

	require.Equal(t, StatusSuccess, res.Status, res.Error)
	data := res.Data.(*SearchData)
	require.Len(t, data.Feeds, 1)
	assert.Equal(t, "after-3-filters", data.Feeds[0].ID)
	e.assertReleased()
}

func TestFilters_Validate(t *testing.T) {
	assert.NoError(t, Filters{}.Validate())
	assert.NoError(t, Filters{SortBy: "最多收藏", PublishTime: "半年内", SearchScope: "已关注"}.Validate())
	err := Filters{PublishTime: "一年内"}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish_time")
	assert.Equal(t, []string{"不限", "同城", "附近"}, FilterOptions("location"))
	assert.Nil(t, FilterOptions("colour"))
}

func writeImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cover.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpg"), 0o644))
	return path
}

func (e *env) composer() {
	e.page.Show(
		e.cat.Step(selectors.UploadInput).Selector,
		e.cat.Step(selectors.TitleInput).Selector,
		e.cat.Step(selectors.ContentEditor).Selector,
	)
	e.page.HandleContains(fillBodyJS, true)
	e.page.HandleContains("range.collapse(false)", true)
}

func (e *env) request(t *testing.T) *post.Request {
	t.Helper()
	req, err := post.New("春日穿搭", "第一行 <b>\n\n第二行\n#穿搭 #春天", []string{writeImage(t)}, "")
	require.NoError(t, err)
	return req
}

func (e *env) bodyHTML() *string {
	var got string
	e.page.Handle(func(js string, args []interface{}) (interface{}, bool, error) {
		if js != fillBodyJS {
			return nil, false, nil
		}
		got, _ = args[1].(string)
		return true, true, nil
	})
	return &got
}

var noteResponse = harness.FakeResponse{
	URL:  "https://edith.xiaohongshu.com/web_api/sns/v2/note",
	Body: `{"success":true,"code":0,"data":{"id":"65f0c0ffee0000000000abcd"}}`,
}

func TestPublish_FillOnlyLeavesComposerForConfirm(t *testing.T) {
	e := newEnv(t)
	e.composer()
	body := e.bodyHTML()
	e.textRects(map[string]automation.Rect{"上传图文": {X: 10, Y: 10, Width: 80, Height: 30}})

	res := e.runner.Publish(context.Background(), PublishOptions{Options: noEscalate(), Request: e.request(t)})

	require.Equal(t, StatusSuccess, res.Status, res.Error)
	assert.Equal(t, MarkerPendingConfirm, res.Marker)
	data := res.Data.(*PublishData)
	assert.Equal(t, []string{"#穿搭", "#春天"}, data.Tags)
	assert.Equal(t, "<p>第一行 &lt;b&gt;</p><p><br></p><p>第二行</p>", *body)
	assert.Equal(t, "春日穿搭", e.page.Inputs[e.cat.Step(selectors.TitleInput).Selector])
	assert.Len(t, e.page.Files[e.cat.Step(selectors.UploadInput).Selector], 1)

	assert.False(t, e.lookedUp("发布"), "fill-only must never look for the publish button")
	assert.Zero(t, e.page.Count("subscribe:"))

	entry, err := e.journal.Get(data.JournalID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, journal.StateFilled, entry.State)
	e.assertReleased()
}

func TestPublish_AnonymousCreatorFailsBeforeComposer(t *testing.T) {
	e := newEnv(t)
	e.creatorAnonymous()

	res := e.runner.Publish(context.Background(), PublishOptions{Options: noEscalate(), Request: e.request(t), AutoPublish: true})

	assert.Equal(t, fault.KindAuthRequired, res.ErrorKind)
	assert.Zero(t, e.page.Count("navigate:"+e.cat.URLs.CreatorPublish))
	entries, err := e.journal.Recent(res.Account, 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, journal.StateFailed, entries[0].State)
}

func TestPublish_AutoPublishVerifiedThenDuplicateRefused(t *testing.T) {
	e := newEnv(t)
	e.composer()
	e.textRects(map[string]automation.Rect{
		"上传图文": {X: 10, Y: 10, Width: 80, Height: 30},
		"发布":   {X: 600, Y: 700, Width: 90, Height: 36},
	})
	e.page.RespondOn("mouse", "", noteResponse)

	res := e.runner.Publish(context.Background(), PublishOptions{Options: noEscalate(), Request: e.request(t), AutoPublish: true})

	require.Equal(t, StatusSuccess, res.Status, res.Error)
	assert.Equal(t, MarkerPublished, res.Marker)
	data := res.Data.(*PublishData)
	want := e.cat.NoteURL("65f0c0ffee0000000000abcd")
	assert.Equal(t, want, data.NoteURL)

	entry, err := e.journal.Get(data.JournalID)
	require.NoError(t, err)
	assert.Equal(t, journal.StatePublished, entry.State)
	assert.Equal(t, want, entry.NoteURL)
	e.assertReleased()

	navigations := e.page.Count("navigate:")
	again := e.runner.Publish(context.Background(), PublishOptions{Options: noEscalate(), Request: e.request(t), AutoPublish: true})
	assert.Equal(t, fault.KindDuplicate, again.ErrorKind)
	assert.Equal(t, navigations, e.page.Count("navigate:"), "a duplicate is refused before the browser is touched")
	assert.Len(t, e.browsers.ensured, 1)
}

func TestPublish_RejectedIsUnverified(t *testing.T) {
	e := newEnv(t)
	e.composer()
	e.textRects(map[string]automation.Rect{
		"上传图文": {X: 10, Y: 10, Width: 80, Height: 30},
		"发布":   {X: 600, Y: 700, Width: 90, Height: 36},
	})
	e.page.RespondOn("mouse", "", harness.FakeResponse{
		URL:  noteResponse.URL,
		Body: `{"success":false,"code":-9012,"msg":"内容违规"}`,
	})

	res := e.runner.Publish(context.Background(), PublishOptions{Options: noEscalate(), Request: e.request(t), AutoPublish: true})

	assert.Equal(t, fault.KindUnverified, res.ErrorKind)
	assert.Equal(t, "verify_publish", res.Step)
	entries, err := e.journal.Recent(res.Account, 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, journal.StateFailed, entries[0].State)
	assert.Contains(t, entries[0].Error, "内容违规")
	e.assertReleased()
}

func TestPublish_NoConfirmationIsUnverified(t *testing.T) {
	e := newEnv(t)
	e.composer()
	e.textRects(map[string]automation.Rect{
		"上传图文": {X: 10, Y: 10, Width: 80, Height: 30},
		"发布":   {X: 600, Y: 700, Width: 90, Height: 36},
	})

	res := e.runner.Publish(context.Background(), PublishOptions{Options: noEscalate(), Request: e.request(t), AutoPublish: true})

	assert.Equal(t, fault.KindUnverified, res.ErrorKind)
}

func (e *env) videoRequest(t *testing.T) *post.Request {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("mp4"), 0o644))
	req, err := post.New("周末去海边", "海风很舒服\n#旅行", nil, path)
	require.NoError(t, err)
	return req
}

// videoComposer shows everything but the title input, which appears once
// the title selector has been polled ready times. ready 0 never shows it.
func (e *env) videoComposer(ready int) {
	title := e.cat.Step(selectors.TitleInput).Selector
	e.page.Show(
		e.cat.Step(selectors.UploadInput).Selector,
		e.cat.Step(selectors.ContentEditor).Selector,
	)
	e.page.HandleContains(fillBodyJS, true)
	e.page.HandleContains("range.collapse(false)", true)
	e.page.HandleContains(`\s*%/`, "42")
	polls := 0
	e.page.OnHas = func(p *harness.FakePage, selector string) {
		if selector != title {
			return
		}
		polls++
		if ready > 0 && polls == ready {
			p.Show(title)
		}
	}
	e.textRects(map[string]automation.Rect{"上传视频": {X: 120, Y: 10, Width: 80, Height: 30}})
}

func TestPublish_VideoWaitsForProcessing(t *testing.T) {
	e := newEnv(t)
	e.videoComposer(3)
	req := e.videoRequest(t)

	res := e.runner.Publish(context.Background(), PublishOptions{Options: noEscalate(), Request: req})

	require.Equal(t, StatusSuccess, res.Status, res.Error)
	assert.Equal(t, MarkerPendingConfirm, res.Marker)
	data := res.Data.(*PublishData)
	assert.Equal(t, post.MediaVideo, data.Kind)
	assert.Equal(t, 1, data.Media)

	assert.True(t, e.lookedUp("上传视频"))
	assert.False(t, e.lookedUp("上传图文"))
	files := e.page.Files[e.cat.Step(selectors.UploadInput).Selector]
	require.Len(t, files, 1)
	assert.True(t, strings.HasSuffix(files[0], "/trip.mp4"))
	assert.Equal(t, "周末去海边", e.page.Inputs[e.cat.Step(selectors.TitleInput).Selector])

	entries := e.page.Entries()
	upload, typed := -1, -1
	for i, entry := range entries {
		if strings.HasPrefix(entry, "files:") && upload < 0 {
			upload = i
		}
		if strings.HasPrefix(entry, "input:") && typed < 0 {
			typed = i
		}
	}
	require.GreaterOrEqual(t, upload, 0)
	assert.Greater(t, typed, upload, "the title is typed only after the upload")
	e.assertReleased()
}

func TestPublish_VideoProcessingTimeout(t *testing.T) {
	e := newEnv(t)
	e.videoComposer(0)

	res := e.runner.Publish(context.Background(), PublishOptions{Options: noEscalate(), Request: e.videoRequest(t), AutoPublish: true})

	require.Equal(t, StatusFailure, res.Status)
	assert.Equal(t, fault.KindSelectorTimeout, res.ErrorKind, res.Error)
	assert.Equal(t, "video_processing", res.Step)
	assert.Contains(t, res.Error, `last progress "42"`)
	assert.Zero(t, e.page.Count("input:"), "nothing is typed into an unprocessed composer")
	assert.False(t, e.lookedUp("发布"))

	entries, err := e.journal.Recent(res.Account, 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, journal.StateFailed, entries[0].State)
	e.assertReleased()
}

func TestPublish_PreviewOverridesAutoPublish(t *testing.T) {
	e := newEnv(t)
	e.composer()
	e.textRects(map[string]automation.Rect{"上传图文": {X: 10, Y: 10, Width: 80, Height: 30}})

	res := e.runner.Publish(context.Background(), PublishOptions{Options: noEscalate(), Request: e.request(t), AutoPublish: true, Preview: true})

	require.Equal(t, StatusSuccess, res.Status, res.Error)
	assert.Equal(t, MarkerPendingConfirm, res.Marker)
	assert.False(t, e.lookedUp("发布"))
}

func TestPublish_ValidationTouchesNoBrowser(t *testing.T) {
	e := newEnv(t)

	res := e.runner.Publish(context.Background(), PublishOptions{})
	assert.Equal(t, fault.KindValidation, res.ErrorKind)

	req := &post.Request{Title: "t", Body: "b", Images: []string{filepath.Join(t.TempDir(), "missing.jpg")}}
	res = e.runner.Publish(context.Background(), PublishOptions{Request: req})
	assert.Equal(t, fault.KindValidation, res.ErrorKind)
	assert.Equal(t, 2, fault.ExitCode(res.Err()))

	assert.Empty(t, e.browsers.ensured)
}

func TestClickPublish_RequiresOpenComposer(t *testing.T) {
	e := newEnv(t)

	res := e.runner.ClickPublish(context.Background(), ClickPublishOptions{Options: noEscalate()})
	assert.Equal(t, fault.KindValidation, res.ErrorKind)
	e.assertReleased()

	e.dialer.targets = []cdp.Target{{ID: "tab-7", Type: "page", URL: e.cat.URLs.CreatorPublish + "?from=menu"}}
	e.textRects(map[string]automation.Rect{"发布": {X: 600, Y: 700, Width: 90, Height: 36}})
	e.page.RespondOn("mouse", "", noteResponse)

	res = e.runner.ClickPublish(context.Background(), ClickPublishOptions{Options: noEscalate()})
	require.Equal(t, StatusSuccess, res.Status, res.Error)
	assert.Equal(t, MarkerPublished, res.Marker)
	assert.Zero(t, e.page.Count("navigate:"), "the filled composer must not be navigated away")
}

func TestClickPublish_CompletesFilledJournalEntry(t *testing.T) {
	e := newEnv(t)
	e.composer()
	e.textRects(map[string]automation.Rect{
		"上传图文": {X: 10, Y: 10, Width: 80, Height: 30},
		"发布":   {X: 600, Y: 700, Width: 90, Height: 36},
	})

	filled := e.runner.Publish(context.Background(), PublishOptions{Options: noEscalate(), Request: e.request(t)})
	require.Equal(t, StatusSuccess, filled.Status, filled.Error)
	require.Equal(t, MarkerPendingConfirm, filled.Marker)
	fillData := filled.Data.(*PublishData)

	e.dialer.targets = []cdp.Target{{ID: "tab-3", Type: "page", URL: e.cat.URLs.CreatorPublish}}
	e.page.RespondOn("mouse", "", noteResponse)
	clicked := e.runner.ClickPublish(context.Background(), ClickPublishOptions{Options: noEscalate()})
	require.Equal(t, StatusSuccess, clicked.Status, clicked.Error)
	clickData := clicked.Data.(*PublishData)
	want := e.cat.NoteURL("65f0c0ffee0000000000abcd")
	assert.Equal(t, fillData.JournalID, clickData.JournalID)
	assert.Equal(t, fillData.Digest, clickData.Digest)

	entry, err := e.journal.Get(fillData.JournalID)
	require.NoError(t, err)
	assert.Equal(t, journal.StatePublished, entry.State)
	assert.Equal(t, want, entry.NoteURL)

	again := e.runner.Publish(context.Background(), PublishOptions{Options: noEscalate(), Request: e.request(t), AutoPublish: true})
	assert.Equal(t, fault.KindDuplicate, again.ErrorKind, again.Error)
	e.assertReleased()
}

func TestBodyHTML(t *testing.T) {
	assert.Equal(t, "", BodyHTML("  \n\n"))
	assert.Equal(t, "<p>a</p>", BodyHTML("a"))
	assert.Equal(t, "<p>a</p><p><br></p><p>b &amp; c</p>", BodyHTML("a\r\n\r\n\r\nb & c\n"))
}

func TestPostComment_UnavailableNoteTypesNothing(t *testing.T) {
	e := newEnv(t)
	e.homePrompt(func() bool { return false })
	e.page.HandleContains("for (const k of keywords)", "笔记不存在")

	res := e.runner.PostComment(context.Background(), CommentOptions{
		Options: noEscalate(),
		FeedRef: FeedRef{FeedID: "n1", XsecToken: "tok"},
		Text:    "好看",
	})

	assert.Equal(t, fault.KindContentUnavailable, res.ErrorKind)
	assert.Zero(t, e.page.Count("input:"))
	assert.Zero(t, e.page.Count("mouse:"))
	e.assertReleased()
}

func TestPostComment_Confirmed(t *testing.T) {
	e := newEnv(t)
	e.homePrompt(func() bool { return false })
	e.page.Show(
		e.cat.Step(selectors.NoteContainer).Selector,
		e.cat.Step(selectors.CommentTrigger).Selector,
		e.cat.Step(selectors.CommentInput).Selector,
	)
	e.textRects(map[string]automation.Rect{"发送": {X: 900, Y: 800, Width: 50, Height: 28}})
	e.page.RespondOn("mouse", "", harness.FakeResponse{
		URL:  "https://edith.xiaohongshu.com/api/sns/web/v1/comment/post",
		Body: `{"success":true,"code":0,"data":{"comment":{"id":"c-77"}}}`,
	})

	res := e.runner.PostComment(context.Background(), CommentOptions{
		Options: noEscalate(),
		FeedRef: FeedRef{FeedID: "n1", XsecToken: "tok"},
		Text:    "  好看  ",
	})

	require.Equal(t, StatusSuccess, res.Status, res.Error)
	data := res.Data.(*CommentData)
	assert.True(t, data.Confirmed)
	assert.Equal(t, "c-77", data.CommentID)
	assert.Equal(t, "好看", e.page.Inputs[e.cat.Step(selectors.CommentInput).Selector])
	assert.Equal(t, 1, e.page.Count("navigate:"+e.cat.FeedDetailURL("n1", "tok")))
}

func TestPostComment_Validation(t *testing.T) {
	e := newEnv(t)
	long := strings.Repeat("好", MaxCommentRunes+1)
	for _, opts := range []CommentOptions{
		{FeedRef: FeedRef{FeedID: "n1"}, Text: "x"},
		{FeedRef: FeedRef{FeedID: "n1", XsecToken: "t"}, Text: " "},
		{FeedRef: FeedRef{FeedID: "n1", XsecToken: "t"}, Text: long},
	} {
		res := e.runner.PostComment(context.Background(), opts)
		assert.Equal(t, fault.KindValidation, res.ErrorKind, res.Error)
	}
	assert.Empty(t, e.browsers.ensured)
}

func TestFeedDetail_WithComments(t *testing.T) {
	e := newEnv(t)
	e.homePrompt(func() bool { return false })
	url := e.cat.FeedDetailURL("n1", "tok")
	e.page.RespondOn("navigate", url, harness.FakeResponse{
		URL:  "https://edith.xiaohongshu.com/api/sns/web/v2/comment/page?note_id=n1",
		Body: `{"data":{"comments":[{"id":"c1","content":"好看","user_info":{"nickname":"阿青"}}]}}`,
	})
	e.page.HandleContains("noteDetailMap", map[string]interface{}{
		"note": map[string]interface{}{
			"noteId":       "n1",
			"title":        "春日穿搭",
			"interactInfo": map[string]interface{}{"likedCount": "12"},
		},
	})

	res := e.runner.FeedDetail(context.Background(), DetailOptions{
		Options:  noEscalate(),
		FeedRef:  FeedRef{FeedID: "n1", XsecToken: "tok"},
		Comments: true,
	})

	require.Equal(t, StatusSuccess, res.Status, res.Error)
	assert.Empty(t, res.Marker)
	data := res.Data.(*DetailData)
	require.NotNil(t, data.Note)
	assert.Equal(t, "春日穿搭", data.Note.Title)
	require.Len(t, data.Comments, 1)
	assert.Equal(t, "好看", data.Comments[0].Content)
	e.assertReleased()
}

func TestFeedDetail_MissingTokenIsValidation(t *testing.T) {
	e := newEnv(t)
	res := e.runner.FeedDetail(context.Background(), DetailOptions{FeedRef: FeedRef{FeedID: "n1"}})
	assert.Equal(t, fault.KindValidation, res.ErrorKind)
	assert.Empty(t, e.browsers.ensured)
}

func TestNotifications(t *testing.T) {
	t.Run("capture timeout is an empty success", func(t *testing.T) {
		e := newEnv(t)
		e.homePrompt(func() bool { return false })

		res := e.runner.Notifications(context.Background(), noEscalate())

		require.Equal(t, StatusSuccess, res.Status, res.Error)
		assert.Equal(t, MarkerCaptureTimeout, res.Marker)
		data := res.Data.(*NotificationsData)
		assert.NotNil(t, data.Mentions)
		assert.Empty(t, data.Mentions)
		e.assertReleased()
	})

	t.Run("captured", func(t *testing.T) {
		e := newEnv(t)
		e.homePrompt(func() bool { return false })
		e.page.RespondOn("navigate", e.cat.URLs.Notifications, harness.FakeResponse{
			URL:  "https://edith.xiaohongshu.com/api/sns/web/v1/you/mentions?num=20",
			Body: `{"data":{"message_list":[{"id":"m1","type":"mention/comment","comment_info":{"content":"@我 看看"},"user_info":{"nickname":"小王"},"item_info":{"id":"n9","xsec_token":"x9"}}]}}`,
		})

		res := e.runner.Notifications(context.Background(), noEscalate())

		require.Equal(t, StatusSuccess, res.Status, res.Error)
		assert.Empty(t, res.Marker)
		data := res.Data.(*NotificationsData)
		require.Equal(t, 1, data.Count)
		assert.Equal(t, "@我 看看", data.Mentions[0].Content)
		assert.Equal(t, "n9", data.Mentions[0].NoteID)
	})
}

func TestNotifications_UnreadableResponse(t *testing.T) {
	tests := []struct {
		name     string
		resp     harness.FakeResponse
		wantKind fault.Kind
	}{
		{"not JSON", harness.FakeResponse{Body: `<html>访问频繁</html>`}, fault.KindInternal},
		{"non-200", harness.FakeResponse{Status: 500, Body: `{"data":{}}`}, fault.KindInternal},
		{"login expired", harness.FakeResponse{Body: `{"code":-100,"success":false,"msg":"登录已过期"}`}, fault.KindAuthRequired},
		{"other failure code", harness.FakeResponse{Body: `{"code":300013,"success":false,"msg":"访问频次异常"}`}, fault.KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.homePrompt(func() bool { return false })
			tt.resp.URL = "https://edith.xiaohongshu.com/api/sns/web/v1/you/mentions?num=20"
			e.page.RespondOn("navigate", e.cat.URLs.Notifications, tt.resp)

			res := e.runner.Notifications(context.Background(), noEscalate())

			require.Equal(t, StatusFailure, res.Status)
			assert.Equal(t, tt.wantKind, res.ErrorKind, res.Error)
			assert.Equal(t, "notifications", res.Step)
			assert.Equal(t, tt.wantKind == fault.KindAuthRequired, fault.ExitCode(res.Err()) == 1)
			e.assertReleased()
		})
	}
}

func TestFeedDetail_UnreadableComments(t *testing.T) {
	tests := []struct {
		name       string
		resp       harness.FakeResponse
		wantStatus Status
		wantKind   fault.Kind
	}{
		{"not JSON", harness.FakeResponse{Body: `not json`}, StatusSuccess, ""},
		{"non-200", harness.FakeResponse{Status: 461, Body: `{}`}, StatusSuccess, ""},
		{"login expired", harness.FakeResponse{Body: `{"code":-100,"success":false}`}, StatusFailure, fault.KindAuthRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.homePrompt(func() bool { return false })
			url := e.cat.FeedDetailURL("n1", "tok")
			tt.resp.URL = "https://edith.xiaohongshu.com/api/sns/web/v2/comment/page?note_id=n1"
			e.page.RespondOn("navigate", url, tt.resp)
			e.page.HandleContains("noteDetailMap", map[string]interface{}{
				"note": map[string]interface{}{"noteId": "n1", "title": "春日穿搭"},
			})

			res := e.runner.FeedDetail(context.Background(), DetailOptions{
				Options:  noEscalate(),
				FeedRef:  FeedRef{FeedID: "n1", XsecToken: "tok"},
				Comments: true,
			})

			require.Equal(t, tt.wantStatus, res.Status, res.Error)
			assert.Equal(t, tt.wantKind, res.ErrorKind)
			if tt.wantStatus == StatusSuccess {
				assert.Equal(t, MarkerCommentsUnreadable, res.Marker)
				data := res.Data.(*DetailData)
				require.NotNil(t, data.Note)
				assert.Equal(t, "春日穿搭", data.Note.Title)
				assert.Empty(t, data.Comments)
			}
			e.assertReleased()
		})
	}
}

const contentBody = `{"code":0,"data":{"total":23,"note_infos":[{"id":"n1","title":"春","post_time":1700000000000,"imp_count":1200,"read_count":300,"coverClickRate":0.1234,"like_count":5,"comment_count":0,"fav_count":2,"increase_fans_count":1,"share_count":0,"view_time_avg":17}]}}`

func TestContentData_ReportsLoadedPagingAndWritesCSV(t *testing.T) {
	e := newEnv(t)
	e.page.RespondOn("navigate", e.cat.URLs.ContentData, harness.FakeResponse{
		URL:  "https://creator.xiaohongshu.com/api/galaxy/creator/datacenter/note/analyze/list?type=0&page_size=10&page_num=2",
		Body: contentBody,
	})
	csvPath := filepath.Join(t.TempDir(), "out", "content.csv")

	res := e.runner.ContentDataReport(context.Background(), ContentOptions{Options: noEscalate(), CSVFile: csvPath})

	require.Equal(t, StatusSuccess, res.Status, res.Error)
	data := res.Data.(*ContentData)
	assert.Equal(t, 1, data.RequestedPageNum)
	assert.Equal(t, 2, data.ResolvedPageNum)
	assert.Equal(t, 10, data.ResolvedPageSize)
	assert.EqualValues(t, 23, data.Total)
	require.Equal(t, 1, data.CountReturned)

	row := data.Rows[0]
	assert.Equal(t, "2023-11-15 06:13", row.PostTime)
	assert.Equal(t, "1200", row.Impressions)
	assert.Equal(t, "12.34%", row.CoverCTR)
	assert.Equal(t, "17s", row.AvgWatch)
	assert.Equal(t, "-", row.Danmaku)
	assert.Equal(t, "n1", row.ID)

	raw, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "\ufeff标题,发布时间,曝光"))
	assert.Contains(t, string(raw), "春,2023-11-15 06:13,1200,300,12.34%")
	assert.Equal(t, data.CSVFile, csvPath)
}

func TestContentData_Failures(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		e := newEnv(t)
		res := e.runner.ContentDataReport(context.Background(), ContentOptions{Options: noEscalate()})
		assert.Equal(t, fault.KindCaptureTimeout, res.ErrorKind)
		assert.Equal(t, MarkerCaptureTimeout, res.Marker)
		e.assertReleased()
	})
	t.Run("non-200", func(t *testing.T) {
		e := newEnv(t)
		e.page.RespondOn("navigate", e.cat.URLs.ContentData, harness.FakeResponse{
			URL:    "https://creator.xiaohongshu.com/api/galaxy/creator/datacenter/note/analyze/list",
			Status: 403,
			Body:   `{"code":-1}`,
		})
		res := e.runner.ContentDataReport(context.Background(), ContentOptions{Options: noEscalate()})
		assert.Equal(t, fault.KindInternal, res.ErrorKind)
	})
	t.Run("validation", func(t *testing.T) {
		e := newEnv(t)
		res := e.runner.ContentDataReport(context.Background(), ContentOptions{PageNum: -1})
		assert.Equal(t, fault.KindValidation, res.ErrorKind)
		assert.Empty(t, e.browsers.ensured)
	})
}

func TestContentRows_Formatting(t *testing.T) {
	rows := ContentRows([]extract.NoteMetrics{{
		CoverClickRate: 12.5,
		Likes:          "1.2万",
		ViewTimeAvg:    "9.8",
		Shares:         2.5,
	}})
	require.Len(t, rows, 1)
	r := rows[0]
	assert.Equal(t, "-", r.Title)
	assert.Equal(t, "-", r.PostTime)
	assert.Equal(t, "12.50%", r.CoverCTR)
	assert.Equal(t, "1.2万", r.Likes)
	assert.Equal(t, "9s", r.AvgWatch)
	assert.Equal(t, "2.5", r.Shares)
	assert.Equal(t, "-", r.Impressions)
	assert.Equal(t, "详情数据", r.Action)
}

func TestCheckLogin(t *testing.T) {
	e := newEnv(t)
	first := e.runner.CheckLogin(context.Background(), noEscalate(), login.SurfaceCreator)
	second := e.runner.CheckLogin(context.Background(), noEscalate(), login.SurfaceCreator)
	assert.Equal(t, MarkerLoggedIn, first.Marker)
	assert.Equal(t, first.Marker, second.Marker)
	assert.Equal(t, first.Data, second.Data)

	e.creatorAnonymous()
	res := e.runner.CheckLogin(context.Background(), Options{}, login.SurfaceCreator)
	assert.Equal(t, MarkerNotLoggedIn, res.Marker)
	assert.Equal(t, fault.KindAuthRequired, res.ErrorKind)
	assert.Zero(t, e.browsers.restarts(), "check-login never escalates")
}

func TestReLogin_ClearsBothSurfacesWindowed(t *testing.T) {
	e := newEnv(t)
	e.creatorAnonymous()

	res := e.runner.ReLogin(context.Background(), LoginOptions{})

	require.Equal(t, StatusSuccess, res.Status, res.Error)
	assert.Equal(t, MarkerLoginPageOpened, res.Marker)
	require.Len(t, e.browsers.ensured, 1)
	assert.False(t, e.browsers.ensured[0].Headless)
	assert.Equal(t, 1, e.page.Count("clear:https://creator.xiaohongshu.com,https://www.xiaohongshu.com"))
	data := res.Data.(*LoginData)
	assert.Equal(t, login.Anonymous, data.State)
	assert.Contains(t, data.LoginURL, "/login")
	e.assertReleased()
}

func TestSwitchAccount_RequiresAccount(t *testing.T) {
	e := newEnv(t)
	res := e.runner.SwitchAccount(context.Background(), LoginOptions{})
	assert.Equal(t, fault.KindValidation, res.ErrorKind)
	assert.Empty(t, e.browsers.ensured)
}

func TestRun_PortLeaseHeldIsInstanceBusy(t *testing.T) {
	e := newEnv(t)
	lease, err := e.locks.Acquire(e.cfg.CDP.Port)
	require.NoError(t, err)
	defer lease.Release()

	res := e.runner.Notifications(context.Background(), noEscalate())

	assert.Equal(t, fault.KindInstanceBusy, res.ErrorKind)
	assert.Empty(t, e.browsers.ensured)
	assert.False(t, e.sessions.Active(e.cfg.CDP.Port))
}
