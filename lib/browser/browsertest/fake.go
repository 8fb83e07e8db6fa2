// Package browsertest provides a scripted in-memory browser.Driver for
// exercising the login and captcha flows without a real browser.
package browsertest

import (
	"context"
	"net/http"

	"gridharvest/lib/browser"
)

type FakeElement struct {
	TextValue string
	Attrs     map[string]string

	// OnClick, if set, runs on every click. it usually mutates the
	// owning FakePage to simulate the portal reacting to the click.
	OnClick func(ctx context.Context) error

	Inputs []string
	Clicks int
	Blurs  int
}

var _ browser.Element = (*FakeElement)(nil)

func (e *FakeElement) Click(ctx context.Context) error {
	e.Clicks++
	if e.OnClick != nil {
		return e.OnClick(ctx)
	}
	return nil
}

func (e *FakeElement) Input(ctx context.Context, text string) error {
	e.Inputs = append(e.Inputs, text)
	return nil
}

func (e *FakeElement) Blur(ctx context.Context) error {
	e.Blurs++
	return nil
}

func (e *FakeElement) Text(ctx context.Context) (string, error) {
	return e.TextValue, nil
}

func (e *FakeElement) Attr(ctx context.Context, name string) (string, error) {
	return e.Attrs[name], nil
}

type FakePage struct {
	Location string
	// Elements maps a css selector to the elements it matches
	Elements  map[string][]*FakeElement
	CookieSet []*http.Cookie

	// OnNavigate, if set, runs on every Navigate before Location is
	// updated
	OnNavigate func(url string) error

	Navigations []string
}

var _ browser.Driver = (*FakePage)(nil)

func (p *FakePage) Navigate(ctx context.Context, url string) error {
	p.Navigations = append(p.Navigations, url)
	if p.OnNavigate != nil {
		err := p.OnNavigate(url)
		if err != nil {
			return err
		}
	}
	p.Location = url
	return nil
}

func (p *FakePage) URL(ctx context.Context) (string, error) {
	return p.Location, nil
}

func (p *FakePage) Find(ctx context.Context, selector string) (browser.Element, error) {
	matches := p.Elements[selector]
	if len(matches) == 0 {
		return nil, browser.ElementNotFound
	}
	return matches[0], nil
}

func (p *FakePage) FindAll(ctx context.Context, selector string) ([]browser.Element, error) {
	matches := p.Elements[selector]
	out := make([]browser.Element, len(matches))
	for i, m := range matches {
		out[i] = m
	}
	return out, nil
}

func (p *FakePage) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	return p.CookieSet, nil
}
