// Package auth drives the portal login flow: submit credentials, solve
// the captcha when challenged, validate the resulting session and hand
// it to the session store. it owns no HTTP of its own, everything goes
// through the injected browser driver and validator.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gridharvest/lib/browser"
	"gridharvest/lib/captcha"
	"gridharvest/lib/session"
	"gridharvest/lib/timezone"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("auth")

type Stage string

const (
	StageCredentialsRejected Stage = "credentials_rejected"
	StageCaptchaExhausted    Stage = "captcha_exhausted"
	StagePostLoginValidation Stage = "post_login_validation_failed"
	StageNetwork             Stage = "network_error"
)

type Error struct {
	Stage Stage
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("authentication failed (%s): %v", e.Stage, e.Cause)
	}
	return fmt.Sprintf("authentication failed (%s)", e.Stage)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// StageOf extracts the failure stage, or "" for non-auth errors.
func StageOf(err error) Stage {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Stage
	}
	return ""
}

// Credentials are opaque and never logged.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Validator checks that a session actually grants portal access,
// implemented by the portal client.
type Validator interface {
	Validate(ctx context.Context, sess *session.Session) error
}

// login page selectors, derived from the portal's rendered DOM
const (
	selTextInputs    = "input[type=text], input[type=email]"
	selPasswordInput = "input[type=password]"
	selButtons       = "button"
	selLoginAlert    = "[role=alert]"
)

type Controller struct {
	Driver      browser.Driver
	Solver      captcha.Solver
	Challenges  captcha.ChallengeSource
	Store       session.FileStore
	Validator   Validator
	Credentials Credentials

	// LoginUrl is the portal's login page; LandingUrl is an
	// authenticated page on the data domain, visiting it after login
	// mints the cookies the fetcher needs
	LoginUrl   string
	LandingUrl string

	// Now is overridable for tests, defaults to timezone.Now
	Now func() time.Time
}

func (c Controller) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return timezone.Now()
}

// EnsureAuthenticated returns a session that passed a validation probe
// this call, reusing the stored session when it still works and logging
// in fresh otherwise. it never retries beyond the single captcha retry
// cycle: scheduling another attempt is the collection loop's job.
func (c Controller) EnsureAuthenticated(ctx context.Context, force bool) (*session.Session, error) {
	ctx, span := tracer.Start(ctx, "auth:EnsureAuthenticated")
	defer span.End()

	if !force {
		stored, err := c.Store.Load()
		if err != nil {
			return nil, err
		}
		if stored != nil {
			if c.Store.Fresh(stored, c.now()) {
				err := c.Validator.Validate(ctx, stored)
				if err == nil {
					slog.InfoContext(ctx, "reusing stored session")
					return stored, nil
				}
				slog.InfoContext(ctx, "stored session rejected by portal", "err", err)
			} else {
				slog.InfoContext(ctx, "stored session past its freshness window")
			}
		}
	}

	sess, err := c.login(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login failed")
		return nil, err
	}
	return sess, nil
}

// login runs the full login flow, allowing one extra captcha cycle when
// the portal rejects a solved challenge with a wrong-answer signal.
func (c Controller) login(ctx context.Context) (*session.Session, error) {
	for attempt := 0; attempt < 2; attempt++ {
		sess, retryCaptcha, err := c.loginOnce(ctx)
		if err != nil {
			return nil, err
		}
		if retryCaptcha {
			slog.WarnContext(ctx, "portal rejected the solved captcha, retrying with a fresh challenge")
			continue
		}
		return sess, nil
	}
	return nil, &Error{
		Stage: StageCaptchaExhausted,
		Cause: fmt.Errorf("portal rejected the solved captcha twice"),
	}
}

func (c Controller) loginOnce(ctx context.Context) (sess *session.Session, retryCaptcha bool, err error) {
	ctx, span := tracer.Start(ctx, "auth:loginOnce")
	defer span.End()

	err = c.Driver.Navigate(ctx, c.LoginUrl)
	if err != nil {
		return nil, false, &Error{Stage: StageNetwork, Cause: err}
	}

	// the captcha gates the login form; a portal that skips the
	// challenge shows no widget at all
	present, err := captcha.WidgetPresent(ctx, c.Driver)
	if err != nil {
		return nil, false, &Error{Stage: StageNetwork, Cause: err}
	}
	if present {
		_, err = c.Solver.Solve(ctx, c.Challenges)
		if err != nil {
			return nil, false, &Error{Stage: StageCaptchaExhausted, Cause: err}
		}
	} else {
		slog.DebugContext(ctx, "no captcha challenge on login page")
	}

	err = c.fillCredentials(ctx)
	if err != nil {
		return nil, false, err
	}
	err = c.submit(ctx)
	if err != nil {
		return nil, false, err
	}

	current, err := c.Driver.URL(ctx)
	if err != nil {
		return nil, false, &Error{Stage: StageNetwork, Cause: err}
	}
	if onLoginPage(current) {
		// still on the login page: either the portal disliked the
		// captcha answer (retryable once) or the credentials
		if c.captchaRejected(ctx) {
			return nil, true, nil
		}
		return nil, false, &Error{
			Stage: StageCredentialsRejected,
			Cause: fmt.Errorf("portal kept us on the login page"),
		}
	}

	return c.establishSession(ctx)
}

func (c Controller) fillCredentials(ctx context.Context) error {
	username, err := c.Driver.Find(ctx, selTextInputs)
	if err != nil {
		return &Error{Stage: StageNetwork, Cause: fmt.Errorf("username field: %w", err)}
	}
	err = username.Input(ctx, c.Credentials.Username)
	if err != nil {
		return &Error{Stage: StageNetwork, Cause: err}
	}

	password, err := c.Driver.Find(ctx, selPasswordInput)
	if err != nil {
		return &Error{Stage: StageNetwork, Cause: fmt.Errorf("password field: %w", err)}
	}
	err = password.Input(ctx, c.Credentials.Password)
	if err != nil {
		return &Error{Stage: StageNetwork, Cause: err}
	}
	// the form only enables its submit button once the password field
	// loses focus
	return password.Blur(ctx)
}

func (c Controller) submit(ctx context.Context) error {
	buttons, err := c.Driver.FindAll(ctx, selButtons)
	if err != nil {
		return &Error{Stage: StageNetwork, Cause: err}
	}
	for _, b := range buttons {
		text, err := b.Text(ctx)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) == "Login" {
			err := b.Click(ctx)
			if err != nil {
				return &Error{Stage: StageNetwork, Cause: err}
			}
			return nil
		}
	}
	return &Error{Stage: StageNetwork, Cause: fmt.Errorf("no Login button on login page")}
}

// captchaRejected reports whether the login page is flagging the
// captcha answer rather than the credentials. derived empirically: the
// portal surfaces a captcha complaint in its alert region.
func (c Controller) captchaRejected(ctx context.Context) bool {
	alert, err := c.Driver.Find(ctx, selLoginAlert)
	if err != nil {
		return false
	}
	text, err := alert.Text(ctx)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(text), "captcha")
}

func (c Controller) establishSession(ctx context.Context) (*session.Session, bool, error) {
	// visiting the data domain while logged in mints its cookies
	err := c.Driver.Navigate(ctx, c.LandingUrl)
	if err != nil {
		return nil, false, &Error{Stage: StageNetwork, Cause: err}
	}

	cookies, err := c.Driver.Cookies(ctx)
	if err != nil {
		return nil, false, &Error{Stage: StageNetwork, Cause: err}
	}
	sess := session.FromHTTPCookies(cookies, c.now())

	err = c.Validator.Validate(ctx, sess)
	if err != nil {
		return nil, false, &Error{Stage: StagePostLoginValidation, Cause: err}
	}

	err = c.Store.Save(sess)
	if err != nil {
		return nil, false, err
	}

	slog.InfoContext(ctx, "authenticated", "cookies", len(sess.Cookies))
	return sess, false, nil
}

func onLoginPage(url string) bool {
	return strings.Contains(strings.ToLower(url), "/login")
}
