package portal

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
)

type Reason string

const (
	ReasonSessionInvalid     Reason = "session_invalid"
	ReasonPortalUnavailable  Reason = "portal_unavailable"
	ReasonUnparsableResponse Reason = "unparsable_response"
)

type FetchError struct {
	Reason Reason
	Cause  error
}

func (e *FetchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fetch failed (%s): %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("fetch failed (%s)", e.Reason)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

func IsSessionInvalid(err error) bool {
	fe, ok := err.(*FetchError)
	return ok && fe.Reason == ReasonSessionInvalid
}

// classify maps a portal response onto the failure taxonomy. the exact
// signal separating "session expired" from "portal is having a bad day"
// is an undocumented contract derived empirically, so all of it lives
// here and nowhere else:
//   - a redirect whose target mentions the login flow means the portal
//     bounced an unauthenticated request
//   - 401/403 likewise
//   - other redirects, 5xx and transport-level failures are treated as
//     the portal being unavailable
func classify(res *resty.Response) error {
	code := res.StatusCode()
	switch {
	case code == 200:
		return nil
	case code >= 300 && code < 400:
		location := strings.ToLower(res.Header().Get("Location"))
		if strings.Contains(location, "login") || strings.Contains(location, "/s/") {
			return &FetchError{
				Reason: ReasonSessionInvalid,
				Cause:  fmt.Errorf("redirected to %q", location),
			}
		}
		return &FetchError{
			Reason: ReasonPortalUnavailable,
			Cause:  fmt.Errorf("unexpected redirect to %q", location),
		}
	case code == 401 || code == 403:
		return &FetchError{
			Reason: ReasonSessionInvalid,
			Cause:  fmt.Errorf("status %d", code),
		}
	default:
		return &FetchError{
			Reason: ReasonPortalUnavailable,
			Cause:  fmt.Errorf("status %d", code),
		}
	}
}

// classifyBody catches the portal's habit of serving the login page
// with a 200 where JSON was expected.
func classifyBody(body []byte) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '<' {
		return nil
	}
	lowered := strings.ToLower(string(trimmed))
	if strings.Contains(lowered, "login") || strings.Contains(lowered, "type=\"password\"") {
		return &FetchError{
			Reason: ReasonSessionInvalid,
			Cause:  fmt.Errorf("data endpoint served the login page"),
		}
	}
	return &FetchError{
		Reason: ReasonUnparsableResponse,
		Cause:  fmt.Errorf("data endpoint served html instead of json"),
	}
}
