package captcha

import (
	"context"
	"fmt"
	"strings"

	"gridharvest/lib/browser"
)

// selectors inside the recaptcha widget. these are an external,
// undocumented contract derived from the widget's rendered DOM.
const (
	selAnchor       = ".rc-anchor-content"
	selCheckmark    = ".recaptcha-checkbox-checkmark"
	selAudioButton  = "#recaptcha-audio-button"
	selAudioSource  = "#audio-source"
	selAudioAnswer  = "#audio-response"
	selVerifyButton = "#recaptcha-verify-button"
	selReloadButton = "#recaptcha-reload-button"
	selBotBlock     = ".rc-doscaptcha-header"
)

// RecaptchaFlow drives the recaptcha widget on the current page,
// implementing ChallengeSource over the injected browser driver.
type RecaptchaFlow struct {
	Driver browser.Driver
}

var _ ChallengeSource = RecaptchaFlow{}

// WidgetPresent reports whether the page is showing a recaptcha widget
// at all. the portal occasionally serves the login form without one.
func WidgetPresent(ctx context.Context, d browser.Driver) (bool, error) {
	_, err := d.Find(ctx, selAnchor)
	if err == browser.ElementNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (f RecaptchaFlow) Challenge(ctx context.Context) (Challenge, error) {
	anchor, err := f.Driver.Find(ctx, selAnchor)
	if err != nil {
		return Challenge{}, fmt.Errorf("captcha checkbox: %w", err)
	}
	err = anchor.Click(ctx)
	if err != nil {
		return Challenge{}, err
	}

	// the checkbox click alone sometimes satisfies the widget
	solved, err := f.solved(ctx)
	if err != nil {
		return Challenge{}, err
	}
	if solved {
		return Challenge{SolvedByCheckbox: true}, nil
	}
	blocked, err := f.blocked(ctx)
	if err != nil {
		return Challenge{}, err
	}
	if blocked {
		return Challenge{}, BotDetected
	}

	audioButton, err := f.Driver.Find(ctx, selAudioButton)
	if err != nil {
		return Challenge{}, fmt.Errorf("audio challenge button: %w", err)
	}
	err = audioButton.Click(ctx)
	if err != nil {
		return Challenge{}, err
	}

	blocked, err = f.blocked(ctx)
	if err != nil {
		return Challenge{}, err
	}
	if blocked {
		return Challenge{}, BotDetected
	}

	source, err := f.Driver.Find(ctx, selAudioSource)
	if err != nil {
		return Challenge{}, fmt.Errorf("audio source: %w", err)
	}
	src, err := source.Attr(ctx, "src")
	if err != nil {
		return Challenge{}, err
	}
	if src == "" {
		return Challenge{}, fmt.Errorf("audio source has no src attribute")
	}

	return Challenge{AudioURL: src}, nil
}

func (f RecaptchaFlow) Submit(ctx context.Context, answer string) (Verdict, error) {
	input, err := f.Driver.Find(ctx, selAudioAnswer)
	if err != nil {
		return 0, fmt.Errorf("answer input: %w", err)
	}
	err = input.Input(ctx, strings.ToLower(answer))
	if err != nil {
		return 0, err
	}

	verify, err := f.Driver.Find(ctx, selVerifyButton)
	if err != nil {
		return 0, fmt.Errorf("verify button: %w", err)
	}
	err = verify.Click(ctx)
	if err != nil {
		return 0, err
	}

	solved, err := f.solved(ctx)
	if err != nil {
		return 0, err
	}
	if solved {
		return VerdictAccepted, nil
	}
	blocked, err := f.blocked(ctx)
	if err != nil {
		return 0, err
	}
	if blocked {
		return VerdictBlocked, nil
	}
	return VerdictWrongAnswer, nil
}

func (f RecaptchaFlow) Reload(ctx context.Context) error {
	reload, err := f.Driver.Find(ctx, selReloadButton)
	if err != nil {
		return fmt.Errorf("reload button: %w", err)
	}
	return reload.Click(ctx)
}

// the checkmark element only gains an inline style once the widget
// considers itself solved
func (f RecaptchaFlow) solved(ctx context.Context) (bool, error) {
	checkmark, err := f.Driver.Find(ctx, selCheckmark)
	if err == browser.ElementNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	style, err := checkmark.Attr(ctx, "style")
	if err != nil {
		return false, err
	}
	return style != "", nil
}

// the widget swaps in a "Try again later" header when it decides the
// client is a bot
func (f RecaptchaFlow) blocked(ctx context.Context) (bool, error) {
	_, err := f.Driver.Find(ctx, selBotBlock)
	if err == browser.ElementNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
