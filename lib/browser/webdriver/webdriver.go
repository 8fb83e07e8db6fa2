// Package webdriver implements browser.Driver against a W3C WebDriver
// remote (chromedriver, geckodriver or a selenium grid). the daemon
// runs one of those as a sidecar, this client only speaks the handful
// of endpoints the login flow needs.
package webdriver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"gridharvest/lib/browser"
	"gridharvest/lib/telemetry"

	"github.com/go-resty/resty/v2"
)

// the W3C spec's magic key identifying element references in payloads
const elementKey = "element-6066-11e4-a52e-4f735466cecf"

type Options struct {
	// RemoteUrl points at the WebDriver remote, e.g.
	// http://127.0.0.1:9515
	RemoteUrl string
	// Capabilities are merged into the session request's alwaysMatch
	// object, empty requests a default browser
	Capabilities map[string]any
}

type Client struct {
	http *resty.Client
	opts Options

	mu        sync.Mutex
	sessionID string
}

var _ browser.Driver = (*Client)(nil)

func New(opts Options) *Client {
	client := resty.New().
		SetBaseURL(opts.RemoteUrl).
		SetHeader("Content-Type", "application/json").
		SetTimeout(time.Minute)
	telemetry.InstrumentResty(client, "webdriver")

	return &Client{http: client, opts: opts}
}

// envelope is the uniform WebDriver response wrapper
type envelope struct {
	Value json.RawMessage `json:"value"`
}

type wireError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// do issues a WebDriver request and unmarshals the value field into
// out (when non-nil). protocol errors come back as *ProtocolError.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	} else if method == http.MethodPost {
		// chromedriver insists on a json body for every POST
		req.SetBody(map[string]any{})
	}

	res, err := req.Execute(method, path)
	if err != nil {
		return err
	}

	var env envelope
	err = json.Unmarshal(res.Body(), &env)
	if err != nil {
		return fmt.Errorf("malformed webdriver response: %w", err)
	}

	if res.StatusCode() != 200 {
		var we wireError
		err = json.Unmarshal(env.Value, &we)
		if err != nil {
			return fmt.Errorf("webdriver returned status %d", res.StatusCode())
		}
		if we.Error == "no such element" {
			return browser.ElementNotFound
		}
		return &ProtocolError{Code: we.Error, Message: we.Message}
	}

	if out != nil {
		return json.Unmarshal(env.Value, out)
	}
	return nil
}

type ProtocolError struct {
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("webdriver: %s: %s", e.Code, e.Message)
}

// ensureSession lazily creates the browser session on first use, a
// collection cycle that reuses a stored portal session never touches
// the browser at all.
func (c *Client) ensureSession(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID != "" {
		return c.sessionID, nil
	}

	body := map[string]any{
		"capabilities": map[string]any{
			"alwaysMatch": c.opts.Capabilities,
		},
	}
	var value struct {
		SessionID string `json:"sessionId"`
	}
	err := c.do(ctx, http.MethodPost, "/session", body, &value)
	if err != nil {
		return "", err
	}
	if value.SessionID == "" {
		return "", fmt.Errorf("webdriver session response carried no session id")
	}
	c.sessionID = value.SessionID
	return c.sessionID, nil
}

// Close tears down the browser session, if one was ever created.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID == "" {
		return nil
	}
	err := c.do(ctx, http.MethodDelete, "/session/"+c.sessionID, nil, nil)
	c.sessionID = ""
	return err
}

func (c *Client) Navigate(ctx context.Context, url string) error {
	sid, err := c.ensureSession(ctx)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/session/"+sid+"/url", map[string]any{"url": url}, nil)
}

func (c *Client) URL(ctx context.Context) (string, error) {
	sid, err := c.ensureSession(ctx)
	if err != nil {
		return "", err
	}
	var url string
	err = c.do(ctx, http.MethodGet, "/session/"+sid+"/url", nil, &url)
	return url, err
}

func (c *Client) Find(ctx context.Context, selector string) (browser.Element, error) {
	sid, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}
	var ref map[string]string
	err = c.do(ctx, http.MethodPost, "/session/"+sid+"/element", findBody(selector), &ref)
	if err != nil {
		return nil, err
	}
	id := ref[elementKey]
	if id == "" {
		return nil, browser.ElementNotFound
	}
	return &element{c: c, session: sid, id: id}, nil
}

func (c *Client) FindAll(ctx context.Context, selector string) ([]browser.Element, error) {
	sid, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}
	var refs []map[string]string
	err = c.do(ctx, http.MethodPost, "/session/"+sid+"/elements", findBody(selector), &refs)
	if err != nil {
		return nil, err
	}
	out := make([]browser.Element, 0, len(refs))
	for _, ref := range refs {
		id := ref[elementKey]
		if id == "" {
			continue
		}
		out = append(out, &element{c: c, session: sid, id: id})
	}
	return out, nil
}

func (c *Client) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	sid, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Name   string  `json:"name"`
		Value  string  `json:"value"`
		Domain string  `json:"domain"`
		Path   string  `json:"path"`
		Secure bool    `json:"secure"`
		Expiry float64 `json:"expiry"`
	}
	err = c.do(ctx, http.MethodGet, "/session/"+sid+"/cookie", nil, &raw)
	if err != nil {
		return nil, err
	}

	out := make([]*http.Cookie, len(raw))
	for i, rc := range raw {
		cookie := &http.Cookie{
			Name:   rc.Name,
			Value:  rc.Value,
			Domain: rc.Domain,
			Path:   rc.Path,
			Secure: rc.Secure,
		}
		if rc.Expiry > 0 {
			cookie.Expires = time.Unix(int64(rc.Expiry), 0)
		}
		out[i] = cookie
	}
	return out, nil
}

func findBody(selector string) map[string]string {
	return map[string]string{
		"using": "css selector",
		"value": selector,
	}
}

type element struct {
	c       *Client
	session string
	id      string
}

var _ browser.Element = (*element)(nil)

func (e *element) path(suffix string) string {
	return "/session/" + e.session + "/element/" + e.id + suffix
}

func (e *element) Click(ctx context.Context) error {
	return e.c.do(ctx, http.MethodPost, e.path("/click"), nil, nil)
}

func (e *element) Input(ctx context.Context, text string) error {
	return e.c.do(ctx, http.MethodPost, e.path("/value"), map[string]string{"text": text}, nil)
}

// Blur has no dedicated endpoint, it goes through script execution.
func (e *element) Blur(ctx context.Context) error {
	body := map[string]any{
		"script": "arguments[0].blur()",
		"args":   []any{map[string]string{elementKey: e.id}},
	}
	return e.c.do(ctx, http.MethodPost, "/session/"+e.session+"/execute/sync", body, nil)
}

func (e *element) Text(ctx context.Context) (string, error) {
	var text string
	err := e.c.do(ctx, http.MethodGet, e.path("/text"), nil, &text)
	return text, err
}

func (e *element) Attr(ctx context.Context, name string) (string, error) {
	var value *string
	err := e.c.do(ctx, http.MethodGet, e.path("/attribute/"+name), nil, &value)
	if err != nil {
		return "", err
	}
	if value == nil {
		return "", nil
	}
	return *value, nil
}
