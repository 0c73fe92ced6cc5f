package download

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// RewriteLinks resolves relative href and script-src attributes against
// base so a stored page keeps working offline. Fragment-only links and
// URLs that already carry a host are left alone.
func RewriteLinks(src []byte, base string) ([]byte, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	doc, err := htmlquery.Parse(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}

	for _, node := range htmlquery.Find(doc, "//*[@href]") {
		rewriteAttr(node, "href", baseURL, true)
	}
	for _, node := range htmlquery.Find(doc, "//script[@src]") {
		rewriteAttr(node, "src", baseURL, false)
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return nil, fmt.Errorf("rendering html: %w", err)
	}
	return buf.Bytes(), nil
}

// rewriteAttr resolves one attribute in place. Anchor links stay
// untouched when skipFragments is set.
func rewriteAttr(node *html.Node, name string, base *url.URL, skipFragments bool) {
	for i, attr := range node.Attr {
		if attr.Key != name {
			continue
		}
		val := attr.Val
		if val == "" || (skipFragments && strings.HasPrefix(val, "#")) {
			return
		}
		ref, err := url.Parse(val)
		if err != nil || ref.Host != "" {
			return
		}
		node.Attr[i].Val = base.ResolveReference(ref).String()
		return
	}
}
