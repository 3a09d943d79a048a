package crawler

import (
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/nao1215/finwatch/internal/model"
)

// Parser extracts links, PDF references and visible text from HTML.
type Parser struct {
	// baseURL is the URL of the page being parsed, used for resolving relative URLs.
	baseURL *url.URL
}

// ParseResult contains everything extracted from one HTML page.
type ParseResult struct {
	// Title is the page title from the <title> tag.
	Title string

	// Links contains every resolved anchor href.
	Links []string

	// InternalLinks are anchors on the same host as the page.
	InternalLinks []string

	// ExternalLinks are anchors on other hosts.
	ExternalLinks []string

	// PDFLinks are PDF references from anchors and from the src or data
	// attributes of any element (iframe, embed, object, frame). Each URL
	// appears once, in document order.
	PDFLinks []string

	// Text is the visible text, one block per line, with script, style and
	// noscript content removed.
	Text string
}

// skippedTextElements hold no visible text.
var skippedTextElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"head":     true,
}

// blockElements end a line of visible text.
var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "td": true, "th": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"section": true, "article": true, "header": true, "footer": true, "table": true,
	"ul": true, "ol": true, "dt": true, "dd": true, "title": true,
}

// NewParser creates a Parser. The base URL is used to resolve relative links.
func NewParser(baseURL string) (*Parser, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	return &Parser{baseURL: u}, nil
}

// Parse parses HTML content in a single pass.
func (p *Parser) Parse(content io.Reader) (*ParseResult, error) {
	doc, err := html.Parse(content)
	if err != nil {
		return nil, err
	}

	result := &ParseResult{
		Links:         make([]string, 0),
		InternalLinks: make([]string, 0),
		ExternalLinks: make([]string, 0),
		PDFLinks:      make([]string, 0),
	}
	pdfSeen := make(map[string]bool)
	addPDF := func(raw string) {
		resolved := p.resolveURL(raw)
		if resolved == "" || !model.IsPDFURL(resolved) {
			return
		}
		normalized := model.NormalizeURL(resolved)
		if !pdfSeen[normalized] {
			pdfSeen[normalized] = true
			result.PDFLinks = append(result.PDFLinks, normalized)
		}
	}

	var text strings.Builder
	var walk func(n *html.Node, visible bool)
	walk = func(n *html.Node, visible bool) {
		switch n.Type {
		case html.ElementNode:
			p.processElement(n, result, addPDF)
			if skippedTextElements[n.Data] {
				visible = false
			}
		case html.TextNode:
			if visible {
				if s := strings.TrimSpace(n.Data); s != "" {
					text.WriteString(s)
					text.WriteByte(' ')
				}
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, visible)
		}

		if n.Type == html.ElementNode && blockElements[n.Data] {
			text.WriteByte('\n')
		}
	}
	walk(doc, true)

	result.Text = normalizeText(text.String())
	return result, nil
}

// processElement handles one element node.
func (p *Parser) processElement(n *html.Node, result *ParseResult, addPDF func(string)) {
	switch n.Data {
	case "title":
		if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
			result.Title = strings.TrimSpace(n.FirstChild.Data)
		}

	case "a":
		if href := getAttr(n, "href"); href != "" {
			resolved := p.resolveURL(href)
			if resolved != "" {
				result.Links = append(result.Links, resolved)
				p.classifyLink(resolved, result)
				addPDF(resolved)
			}
		}
	}

	// Embedded viewers reference PDFs through src or data.
	for _, attr := range []string{"src", "data"} {
		if v := getAttr(n, attr); v != "" {
			addPDF(v)
		}
	}
}

// resolveURL resolves a relative URL against the base URL. Non-navigable
// schemes and bare fragments resolve to "".
func (p *Parser) resolveURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}

	lower := strings.ToLower(href)
	if strings.HasPrefix(lower, "javascript:") ||
		strings.HasPrefix(lower, "mailto:") ||
		strings.HasPrefix(lower, "tel:") ||
		strings.HasPrefix(lower, "data:") ||
		strings.HasPrefix(href, "#") {
		return ""
	}

	u, err := url.Parse(href)
	if err != nil {
		return ""
	}

	resolved := p.baseURL.ResolveReference(u)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}

// classifyLink sorts a link into internal or external.
func (p *Parser) classifyLink(link string, result *ParseResult) {
	u, err := url.Parse(link)
	if err != nil {
		return
	}

	if strings.EqualFold(u.Hostname(), p.baseURL.Hostname()) {
		result.InternalLinks = append(result.InternalLinks, link)
		return
	}
	result.ExternalLinks = append(result.ExternalLinks, link)
}

// getAttr retrieves an attribute value from an HTML node.
func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

// normalizeText collapses runs of whitespace inside each line and drops
// empty lines.
func normalizeText(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if fields := strings.Fields(line); len(fields) > 0 {
			out = append(out, strings.Join(fields, " "))
		}
	}
	return strings.Join(out, "\n")
}
