package workflow

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"xhspilot/internal/capture"
	"xhspilot/internal/extract"
	"xhspilot/internal/fault"
	"xhspilot/internal/logging"
	"xhspilot/internal/login"
)

// ContentOptions configures a content-data run.
type ContentOptions struct {
	Options
	PageNum  int
	PageSize int
	Type     int
	// CSVFile, when set, receives the rows as UTF-8 CSV with a BOM.
	CSVFile string
}

// ContentRow is one dashboard row rendered for display.
type ContentRow struct {
	Title        string `json:"标题"`
	PostTime     string `json:"发布时间"`
	Impressions  string `json:"曝光"`
	Views        string `json:"观看"`
	CoverCTR     string `json:"封面点击率"`
	Likes        string `json:"点赞"`
	Comments     string `json:"评论"`
	Favorites    string `json:"收藏"`
	NewFollowers string `json:"涨粉"`
	Shares       string `json:"分享"`
	AvgWatch     string `json:"人均观看时长"`
	Danmaku      string `json:"弹幕"`
	Action       string `json:"操作"`
	ID           string `json:"_id"`
}

// ContentColumns is the CSV header, in row field order.
var ContentColumns = []string{
	"标题", "发布时间", "曝光", "观看", "封面点击率", "点赞", "评论",
	"收藏", "涨粉", "分享", "人均观看时长", "弹幕", "操作", "_id",
}

func (r ContentRow) record() []string {
	return []string{
		r.Title, r.PostTime, r.Impressions, r.Views, r.CoverCTR, r.Likes, r.Comments,
		r.Favorites, r.NewFollowers, r.Shares, r.AvgWatch, r.Danmaku, r.Action, r.ID,
	}
}

// ContentData is the data of a content-data result.
type ContentData struct {
	RequestURL        string       `json:"request_url"`
	RequestedPageNum  int          `json:"requested_page_num"`
	RequestedPageSize int          `json:"requested_page_size"`
	RequestedType     int          `json:"requested_type"`
	ResolvedPageNum   int          `json:"resolved_page_num"`
	ResolvedPageSize  int          `json:"resolved_page_size"`
	ResolvedType      int          `json:"resolved_type"`
	Total             interface{}  `json:"total"`
	CountReturned     int          `json:"count_returned"`
	Rows              []ContentRow `json:"rows"`
	CSVFile           string       `json:"csv_file,omitempty"`
}

// ContentDataReport reads the creator dashboard's note metrics. The API
// rejects direct calls, so the page's own request is captured instead and
// the paging it used is reported next to the paging asked for.
func (r *Runner) ContentDataReport(ctx context.Context, opts ContentOptions) *Result {
	if opts.PageNum == 0 {
		opts.PageNum = 1
	}
	if opts.PageSize == 0 {
		opts.PageSize = 10
	}
	return r.execute(ctx, opts.Options, job{
		name:    "content-data",
		surface: login.SurfaceCreator,
		prepare: func(ctx context.Context, rn *run) error {
			if opts.PageNum < 1 {
				return fault.New(fault.KindValidation, "validate", "page number must be >= 1")
			}
			if opts.PageSize < 1 {
				return fault.New(fault.KindValidation, "validate", "page size must be >= 1")
			}
			if opts.Type < 0 {
				return fault.New(fault.KindValidation, "validate", "type must be >= 0")
			}
			return nil
		},
		body: func(ctx context.Context, rn *run) (string, interface{}, error) {
			eng, cat := rn.eng, rn.r.cat
			data := &ContentData{
				RequestedPageNum:  opts.PageNum,
				RequestedPageSize: opts.PageSize,
				RequestedType:     opts.Type,
				Rows:              []ContentRow{},
			}
			res, err := capture.Capture(ctx, rn.page(), capture.Options{
				Patterns: []string{cat.APIs.ContentData},
				Timeout:  rn.r.cfg.CaptureTimeout(),
			}, func(ctx context.Context) error { return eng.Navigate(ctx, cat.URLs.ContentData) })
			if err != nil {
				return "", data, err
			}
			if err := res.Err(); err != nil {
				rn.audit.CaptureTimeout(cat.APIs.ContentData, res.Waited)
				return MarkerCaptureTimeout, data, fault.Wrap(fault.KindCaptureTimeout, "content_data", err)
			}
			p, _ := res.First()
			body, err := apiBody(ctx, "content_data", p)
			if err != nil {
				return "", data, err
			}
			page, err := extract.Content(ctx, body)
			if err != nil {
				return "", data, fault.Wrap(fault.KindInternal, "content_data", err)
			}

			data.RequestURL = p.URL
			data.ResolvedPageNum, data.ResolvedPageSize, data.ResolvedType = resolvedPaging(p.URL)
			if data.ResolvedPageNum != opts.PageNum || data.ResolvedPageSize != opts.PageSize || data.ResolvedType != opts.Type {
				logging.Workflow("requested page %d/%d type %d, page loaded %d/%d type %d; returning the loaded page",
					opts.PageNum, opts.PageSize, opts.Type, data.ResolvedPageNum, data.ResolvedPageSize, data.ResolvedType)
			}
			data.Total = page.Total
			data.Rows = ContentRows(page.Notes)
			data.CountReturned = len(data.Rows)

			if opts.CSVFile != "" {
				path, err := WriteContentCSV(opts.CSVFile, data.Rows)
				if err != nil {
					return "", data, fault.Wrap(fault.KindInternal, "write_csv", err)
				}
				data.CSVFile = path
			}
			return "", data, nil
		},
	})
}

func resolvedPaging(raw string) (pageNum, pageSize, typ int) {
	pageNum, pageSize, typ = 1, 10, 0
	u, err := url.Parse(raw)
	if err != nil {
		return
	}
	q := u.Query()
	atoi := func(key string, def int) int {
		if v, err := strconv.Atoi(q.Get(key)); err == nil {
			return v
		}
		return def
	}
	return atoi("page_num", 1), atoi("page_size", 10), atoi("type", 0)
}

// ContentRows renders dashboard metrics for display. Missing values
// become "-".
func ContentRows(notes []extract.NoteMetrics) []ContentRow {
	rows := make([]ContentRow, 0, len(notes))
	for _, n := range notes {
		title := n.Title
		if title == "" {
			title = "-"
		}
		rows = append(rows, ContentRow{
			Title:        title,
			PostTime:     formatPostTime(n.PostTime),
			Impressions:  metric(n.Impressions),
			Views:        metric(n.Views),
			CoverCTR:     formatRate(n.CoverClickRate),
			Likes:        metric(n.Likes),
			Comments:     metric(n.Comments),
			Favorites:    metric(n.Favorites),
			NewFollowers: metric(n.NewFollowers),
			Shares:       metric(n.Shares),
			AvgWatch:     formatSeconds(n.ViewTimeAvg),
			Danmaku:      metric(n.Danmaku),
			Action:       "详情数据",
			ID:           n.ID,
		})
	}
	return rows
}

var shanghai = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		return time.FixedZone("CST", 8*3600)
	}
	return loc
}()

func formatPostTime(ms *float64) string {
	if ms == nil || *ms <= 0 {
		return "-"
	}
	return time.UnixMilli(int64(*ms)).In(shanghai).Format("2006-01-02 15:04")
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func metric(v interface{}) string {
	switch n := v.(type) {
	case nil:
		return "-"
	case float64:
		if n == math.Trunc(n) {
			return strconv.FormatInt(int64(n), 10)
		}
		return strconv.FormatFloat(n, 'f', -1, 64)
	case string:
		if n == "" {
			return "-"
		}
		return n
	default:
		return fmt.Sprint(n)
	}
}

// formatRate renders a click-through rate; ratios in [0,1] are scaled to
// percent.
func formatRate(v interface{}) string {
	f, ok := number(v)
	if !ok {
		return "-"
	}
	if f >= 0 && f <= 1 {
		f *= 100
	}
	return fmt.Sprintf("%.2f%%", f)
}

func formatSeconds(v interface{}) string {
	f, ok := number(v)
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%ds", int64(f))
}

// WriteContentCSV writes rows to path as UTF-8 CSV with a byte order mark
// and returns the absolute path.
func WriteContentCSV(path string, rows []ContentRow) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return "", fmt.Errorf("failed to create csv directory: %w", err)
	}
	f, err := os.Create(abs)
	if err != nil {
		return "", fmt.Errorf("failed to create csv: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString("\ufeff"); err != nil {
		return "", err
	}
	w := csv.NewWriter(f)
	if err := w.Write(ContentColumns); err != nil {
		return "", err
	}
	for _, r := range rows {
		if err := w.Write(r.record()); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return abs, f.Close()
}
