package workflow

import (
	"context"
	"fmt"

	"xhspilot/internal/capture"
	"xhspilot/internal/extract"
	"xhspilot/internal/fault"
)

// Codes the web API returns when the session cookie is missing or expired.
var authCodes = map[int]bool{-100: true, -101: true, -104: true}

// apiBody decodes a captured API response and checks its envelope. An
// expired session is AuthRequired; a non-200 status, a body that is not
// JSON, or any other failure code is Internal.
func apiBody(ctx context.Context, step string, p capture.Payload) (interface{}, error) {
	body, jsonErr := p.JSON()
	var st *extract.APIStatus
	if jsonErr == nil {
		var err error
		if st, err = extract.Status(ctx, body); err != nil {
			return nil, fault.Wrap(fault.KindInternal, step, err)
		}
		if authCodes[st.Code] {
			return nil, &fault.Error{Kind: fault.KindAuthRequired, Step: step, Target: p.URL,
				Err: fmt.Errorf("session expired (code %d): %s", st.Code, st.Message)}
		}
	}
	switch {
	case p.Status != 0 && p.Status != 200:
		return nil, &fault.Error{Kind: fault.KindInternal, Step: step, Target: p.URL,
			Err: fmt.Errorf("API responded with status %d", p.Status)}
	case jsonErr != nil:
		return nil, &fault.Error{Kind: fault.KindInternal, Step: step, Target: p.URL, Err: jsonErr}
	case !st.OK:
		return nil, &fault.Error{Kind: fault.KindInternal, Step: step, Target: p.URL,
			Err: fmt.Errorf("API failed (code %d): %s", st.Code, st.Message)}
	}
	return body, nil
}
