// Package dom wraps the HTML snapshots pushed by the page shim in a
// read-only, query-friendly form.
package dom

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// RawSnapshot is the wire form of a page capture
type RawSnapshot struct {
	URL     string            `json:"url"`
	Title   string            `json:"title"`
	HTML    string            `json:"html"`
	Cookies map[string]string `json:"cookies,omitempty"`
	Visible bool              `json:"visible"`
}

// Snapshot is a parsed, immutable view of the host page
type Snapshot struct {
	RawURL  string
	URL     *url.URL
	Title   string
	Cookies map[string]string
	Visible bool
	Doc     *goquery.Document
}

// Parse builds a Snapshot from its wire form
func Parse(raw RawSnapshot) (*Snapshot, error) {
	u, err := url.Parse(raw.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page url: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw.HTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page html: %w", err)
	}

	title := strings.TrimSpace(raw.Title)
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	cookies := raw.Cookies
	if cookies == nil {
		cookies = map[string]string{}
	}

	return &Snapshot{
		RawURL:  raw.URL,
		URL:     u,
		Title:   title,
		Cookies: cookies,
		Visible: raw.Visible,
		Doc:     doc,
	}, nil
}

// Find runs a CSS selector against the document. Selectors that fail to
// compile match nothing.
func (s *Snapshot) Find(selector string) *goquery.Selection {
	return s.Doc.Find(selector)
}

// Exists reports whether selector matches at least one element
func (s *Snapshot) Exists(selector string) bool {
	return s.Doc.Find(selector).Length() > 0
}

// Heading returns the trimmed text of the first h1
func (s *Snapshot) Heading() string {
	return strings.TrimSpace(s.Doc.Find("h1").First().Text())
}

// HasHeading reports whether any h1 contains substr
func (s *Snapshot) HasHeading(substr string) bool {
	found := false
	s.Doc.Find("h1").EachWithBreak(func(_ int, h *goquery.Selection) bool {
		found = strings.Contains(h.Text(), substr)
		return !found
	})
	return found
}

// PathSegments returns the non-empty path segments of the page URL
func (s *Snapshot) PathSegments() []string {
	var segs []string
	for _, p := range strings.Split(s.URL.Path, "/") {
		if p != "" {
			segs = append(segs, p)
		}
	}
	return segs
}

// LastSegment returns the final path segment, or ""
func (s *Snapshot) LastSegment() string {
	segs := s.PathSegments()
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

// BaseURL returns the page URL without its fragment
func (s *Snapshot) BaseURL() string {
	u := *s.URL
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// Cookie returns a URL-decoded cookie value, or ""
func (s *Snapshot) Cookie(name string) string {
	v, ok := s.Cookies[name]
	if !ok {
		return ""
	}
	if decoded, err := url.QueryUnescape(v); err == nil {
		v = decoded
	}
	return strings.TrimSpace(v)
}

// IsLoginPage reports whether the workspace sign-in screen is showing
func (s *Snapshot) IsLoginPage() bool {
	return s.HasHeading("Sign in to your workspace") ||
		s.Exists(`input[placeholder="your-workspace"]`)
}

// IsUnsupportedBrowser reports whether the host replaced the app with a
// browser-upgrade placeholder
func (s *Snapshot) IsUnsupportedBrowser() bool {
	return s.HasHeading("Please change browsers")
}

// AttrFirst returns the first non-empty value among attrs on sel
func AttrFirst(sel *goquery.Selection, attrs ...string) string {
	for _, a := range attrs {
		if v := strings.TrimSpace(sel.AttrOr(a, "")); v != "" {
			return v
		}
	}
	return ""
}

// Text returns the whitespace-collapsed text of sel
func Text(sel *goquery.Selection) string {
	return strings.Join(strings.Fields(sel.Text()), " ")
}
