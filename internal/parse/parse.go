// Package parse extracts structured signals from fetched HTML: title,
// normalised visible text, links, downloadable file candidates, threat
// keywords and PGP markers. Parsing is pure; no I/O happens here.
package parse

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/onionwatch/onionwatch/internal/models"
)

const maxLinks = 200

// Extensions that mark a link as a downloadable file candidate.
var downloadableExtensions = []string{
	".zip", ".rar", ".7z", ".tar", ".gz", ".bz2", ".xz",
	".exe", ".dll", ".msi", ".bin", ".apk", ".deb", ".rpm",
	".pdf", ".doc", ".docx", ".xls", ".xlsx",
	".iso", ".img", ".dmg", ".sh", ".bat", ".ps1",
}

// Elements that start a new text block. A separator is inserted at their
// boundaries before whitespace collapsing, otherwise adjacent block contents
// concatenate and indicator extraction fails on joined tokens.
var blockElements = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true,
	"br": true, "dd": true, "div": true, "dl": true, "dt": true,
	"fieldset": true, "figure": true, "footer": true, "form": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"header": true, "hr": true, "li": true, "main": true, "nav": true,
	"ol": true, "p": true, "pre": true, "section": true, "table": true,
	"td": true, "textarea": true, "th": true, "tr": true, "ul": true,
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	tokenRe      = regexp.MustCompile(`\b[a-z0-9]{3,}\b`)
	// Zero-width, directional and soft-hyphen characters break word
	// boundaries in downstream regexes.
	invisibleRe = regexp.MustCompile("[\u00AD\u200B-\u200F\u202A-\u202E\u2060-\u206F\uFEFF]")
)

// Result holds everything extracted from one page.
type Result struct {
	Title       string
	Text        string
	Links       []models.Link
	FileLinks   []models.FileLink
	Keywords    []string
	PGPDetected bool
}

// Parse extracts signals from an HTML document. baseURL resolves relative
// links; dictionary filters keyword candidates and may be nil.
func Parse(content, baseURL string, dictionary map[string]struct{}) Result {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		// html.Parse recovers from almost anything; treat the rest as
		// plain text.
		text := NormalizeText(content)
		return Result{
			Text:        text,
			Keywords:    extractKeywords(text, dictionary),
			PGPDetected: detectPGP(text),
		}
	}

	var (
		textBuilder strings.Builder
		title       string
		links       []models.Link
	)

	base, _ := url.Parse(baseURL)

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript":
				return
			case "title":
				if title == "" {
					title = strings.TrimSpace(textContent(n))
				}
				return
			case "a":
				if href := attr(n, "href"); href != "" && len(links) < maxLinks {
					links = append(links, models.Link{
						URL:  resolveURL(base, href),
						Text: strings.TrimSpace(textContent(n)),
					})
				}
			}
			if blockElements[n.Data] {
				textBuilder.WriteByte('\n')
			}
		case html.TextNode:
			textBuilder.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.Data] {
			textBuilder.WriteByte('\n')
		}
	}
	walk(doc)

	// Indicators hiding in hrefs count too.
	text := textBuilder.String()
	for _, l := range links {
		text += " " + l.URL
	}
	text = NormalizeText(text)

	return Result{
		Title:       title,
		Text:        text,
		Links:       links,
		FileLinks:   detectFileLinks(links),
		Keywords:    extractKeywords(text, dictionary),
		PGPDetected: detectPGP(text),
	}
}

// NormalizeText strips characters that break token boundaries and collapses
// whitespace runs to single spaces.
func NormalizeText(text string) string {
	if text == "" {
		return ""
	}
	text = invisibleRe.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "\u00A0", " ")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func resolveURL(base *url.URL, href string) string {
	if base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// detectFileLinks returns the links whose URL path ends in a downloadable
// extension.
func detectFileLinks(links []models.Link) []models.FileLink {
	var fileLinks []models.FileLink
	for _, link := range links {
		path := link.URL
		if u, err := url.Parse(link.URL); err == nil && u.Path != "" {
			path = u.Path
		}
		lower := strings.ToLower(path)
		for _, ext := range downloadableExtensions {
			if strings.HasSuffix(lower, ext) {
				fileLinks = append(fileLinks, models.FileLink{
					URL:       link.URL,
					Text:      link.Text,
					Extension: ext,
				})
				break
			}
		}
	}
	return fileLinks
}

// extractKeywords returns the deterministic, first-appearance-ordered set of
// lowercased tokens of length >= 3 present in the dictionary.
func extractKeywords(text string, dictionary map[string]struct{}) []string {
	if dictionary == nil {
		return nil
	}
	tokens := tokenRe.FindAllString(strings.ToLower(text), -1)
	seen := make(map[string]struct{}, len(tokens))
	var keywords []string
	for _, tok := range tokens {
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		if _, ok := dictionary[tok]; ok {
			keywords = append(keywords, tok)
		}
	}
	return keywords
}

func detectPGP(text string) bool {
	upper := strings.ToUpper(text)
	return strings.Contains(upper, "-----BEGIN PGP")
}
