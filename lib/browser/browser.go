// Package browser defines the browser-driving capability the login flow
// depends on. the portal's login page is a javascript-heavy form behind
// bot protection, so authentication has to happen through a real
// browser; everything after login runs over plain HTTP with the
// extracted cookies.
//
// the concrete driver (chromium automation or otherwise) lives outside
// this module and is injected, tests use a scripted fake.
package browser

import (
	"context"
	"errors"
	"net/http"
)

var ElementNotFound = errors.New("element not found")

// Element is a handle to a live DOM element.
type Element interface {
	Click(ctx context.Context) error
	// Input types text into the element
	Input(ctx context.Context, text string) error
	// Blur removes focus from the element. the portal's login form
	// only enables its submit button once the password field loses
	// focus.
	Blur(ctx context.Context) error
	Text(ctx context.Context) (string, error)
	Attr(ctx context.Context, name string) (string, error)
}

// Driver drives a single browser page.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	// URL returns the page's current location, after any redirects
	URL(ctx context.Context) (string, error)
	// Find returns the first element matching the css selector, or
	// ElementNotFound
	Find(ctx context.Context, selector string) (Element, error)
	// FindAll returns every element matching the css selector, an
	// empty slice is not an error
	FindAll(ctx context.Context, selector string) ([]Element, error)
	// Cookies returns all cookies visible to the current page
	Cookies(ctx context.Context) ([]*http.Cookie, error)
}
