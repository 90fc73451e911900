package fetcher

import (
	"mime"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// boilerplateSelector lists elements whose text is never page content.
const boilerplateSelector = "script, style, noscript, nav, footer, header, template, svg"

var metaCharsetRe = regexp.MustCompile(`(?i)<meta[^>]+charset=["']?([a-zA-Z0-9_\-:]+)`)

// DecodeBody converts body to UTF-8 using the charset from the Content-Type
// header, falling back to a <meta charset> declaration in the first 1 KiB.
func DecodeBody(body []byte, contentType string) (string, error) {
	charset := ""
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		charset = params["charset"]
	}
	if charset == "" {
		head := body
		if len(head) > 1024 {
			head = head[:1024]
		}
		if m := metaCharsetRe.FindSubmatch(head); m != nil {
			charset = string(m[1])
		}
	}

	charset = strings.ToLower(strings.TrimSpace(charset))
	if charset == "" || charset == "utf-8" || charset == "utf8" {
		return string(body), nil
	}

	enc, err := htmlindex.Get(charset)
	if err != nil {
		// Unknown labels are common in the wild; treat the body as UTF-8.
		return string(body), nil
	}
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: decode charset %q", charset)
	}
	return string(out), nil
}

// ExtractText returns the visible text of an HTML document with
// navigation chrome removed and whitespace collapsed.
func ExtractText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", eris.Wrap(err, "fetcher: parse html")
	}
	return DocumentText(doc), nil
}

// DocumentText returns the collapsed visible text of a parsed document.
// Boilerplate is removed from a clone so the caller's document is untouched.
func DocumentText(doc *goquery.Document) string {
	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	root = root.Clone()
	root.Find(boilerplateSelector).Remove()

	// Block elements are separated so adjacent cells do not run together.
	root.Find("p, div, li, td, th, h1, h2, h3, h4, h5, h6, br, section, article").
		Each(func(_ int, s *goquery.Selection) {
			s.AppendHtml(" ")
		})
	return CollapseSpace(root.Text())
}

// CollapseSpace joins all whitespace runs into single spaces.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
