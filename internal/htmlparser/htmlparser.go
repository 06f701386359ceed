// Package htmlparser is a reference implementation of the Parser
// interface spec.md §6 leaves as an external collaborator: it parses
// an HTML document into a Tree and evaluates CSS or XPath selectors
// against it, bounded by parser.max_document_size. Neither the
// frontier, the downloader, the breaker, nor the spider import this
// package — it is wired in only by cmd/webants, the same way a user's
// own parser would be.
package htmlparser

import (
	"bytes"
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"golang.org/x/net/html"
)

// Language selects which selector syntax Select evaluates.
type Language int

const (
	CSS Language = iota
	XPath
)

// Tree is a parsed HTML document. It wraps both a goquery.Document
// (CSS selection) and the underlying *html.Node (XPath selection via
// htmlquery) over the same parse: both walk the exact same tree, so a
// selector choice never changes what content a caller sees.
type Tree struct {
	doc  *goquery.Document
	root *html.Node
}

// Node is a single selected element, exposing the operations a
// callback typically needs without leaking the underlying parser
// library's types into caller code.
type Node struct {
	sel *goquery.Selection
	n   *html.Node
}

// Text returns the node's text content; leading/trailing whitespace
// is not trimmed.
func (n Node) Text() string {
	if n.sel != nil {
		return n.sel.Text()
	}
	return htmlquery.InnerText(n.n)
}

// Attr returns the named attribute's value, or "" if absent.
func (n Node) Attr(name string) string {
	if n.sel != nil {
		v, _ := n.sel.Attr(name)
		return v
	}
	return htmlquery.SelectAttr(n.n, name)
}

// ErrDocumentTooLarge is returned by ParseHTML when body exceeds the
// configured max_document_size.
type ErrDocumentTooLarge struct {
	Size, Limit int
}

func (e *ErrDocumentTooLarge) Error() string {
	return fmt.Sprintf("htmlparser: document size %d exceeds limit %d", e.Size, e.Limit)
}

// Parser is the interface the spider's callback pipeline consumes;
// spec.md §6 names it `parse_html` + `select`.
type Parser interface {
	ParseHTML(body []byte, encoding string) (*Tree, error)
	Select(tree *Tree, selector string, lang Language) ([]Node, error)
}

// DefaultParser bounds every parse by maxDocumentSize bytes, per
// parser.max_document_size (default 10 MiB).
type DefaultParser struct {
	maxDocumentSize int
	defaultEncoding string
}

// NewDefaultParser builds a DefaultParser. maxDocumentSize <= 0 means
// no cap.
func NewDefaultParser(maxDocumentSize int, defaultEncoding string) *DefaultParser {
	if defaultEncoding == "" {
		defaultEncoding = "utf-8"
	}
	return &DefaultParser{maxDocumentSize: maxDocumentSize, defaultEncoding: defaultEncoding}
}

// ParseHTML parses body into a Tree. html.Parse reads body as UTF-8;
// neither encoding nor the parser's default encoding is applied, and
// no charset is detected from the document's meta tags.
func (p *DefaultParser) ParseHTML(body []byte, encoding string) (*Tree, error) {
	if p.maxDocumentSize > 0 && len(body) > p.maxDocumentSize {
		return nil, &ErrDocumentTooLarge{Size: len(body), Limit: p.maxDocumentSize}
	}

	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("htmlparser: parse: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)
	return &Tree{doc: doc, root: root}, nil
}

// Select evaluates selector against tree using the given language.
func (p *DefaultParser) Select(tree *Tree, selector string, lang Language) ([]Node, error) {
	switch lang {
	case CSS:
		sel := tree.doc.Find(selector)
		nodes := make([]Node, 0, sel.Length())
		sel.Each(func(_ int, s *goquery.Selection) {
			nodes = append(nodes, Node{sel: s})
		})
		return nodes, nil
	case XPath:
		expr, err := xpath.Compile(selector)
		if err != nil {
			return nil, fmt.Errorf("htmlparser: invalid xpath %q: %w", selector, err)
		}
		matched := htmlquery.QuerySelectorAll(tree.root, expr)
		nodes := make([]Node, 0, len(matched))
		for _, n := range matched {
			nodes = append(nodes, Node{n: n})
		}
		return nodes, nil
	default:
		return nil, fmt.Errorf("htmlparser: unknown selector language %v", lang)
	}
}

var _ Parser = (*DefaultParser)(nil)
