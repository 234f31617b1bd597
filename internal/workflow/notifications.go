package workflow

import (
	"context"

	"xhspilot/internal/capture"
	"xhspilot/internal/extract"
	"xhspilot/internal/fault"
	"xhspilot/internal/logging"
	"xhspilot/internal/login"
	"xhspilot/internal/selectors"
)

// NotificationsData is the data of a notifications result.
type NotificationsData struct {
	Count    int               `json:"count"`
	Mentions []extract.Mention `json:"mentions"`
}

// Notifications returns the comments-and-mentions feed. A capture that
// times out yields an empty list with the capture_timeout marker; a
// response that cannot be read is a failure.
func (r *Runner) Notifications(ctx context.Context, opts Options) *Result {
	return r.execute(ctx, opts, job{
		name:    "notifications",
		surface: login.SurfaceHome,
		body: func(ctx context.Context, rn *run) (string, interface{}, error) {
			eng, cat := rn.eng, rn.r.cat
			data := &NotificationsData{Mentions: []extract.Mention{}}

			res, err := capture.Capture(ctx, rn.page(), capture.Options{
				Patterns: []string{cat.APIs.Mentions},
				Timeout:  rn.r.cfg.CaptureTimeout(),
			}, func(ctx context.Context) error {
				if err := eng.Navigate(ctx, cat.URLs.Notifications); err != nil {
					return err
				}
				// The mentions tab is usually selected already; clicking it
				// refetches when it is not.
				if err := eng.Click(ctx, cat.Step(selectors.MentionsTab)); err != nil {
					logging.AutomationWarn("mentions tab: %v", err)
				}
				return nil
			})
			if err != nil {
				return "", data, err
			}
			p, ok := res.First()
			if !ok {
				rn.audit.CaptureTimeout(cat.APIs.Mentions, res.Waited)
				return MarkerCaptureTimeout, data, nil
			}
			body, err := apiBody(ctx, "notifications", p)
			if err != nil {
				return "", data, err
			}
			ms, err := extract.Mentions(ctx, body)
			if err != nil {
				return "", data, fault.Wrap(fault.KindInternal, "notifications", err)
			}
			data.Mentions, data.Count = ms, len(ms)
			return "", data, nil
		},
	})
}
