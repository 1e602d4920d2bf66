// Package document turns uploaded files into page-level text and splits
// that text into overlapping chunks.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

var (
	// ErrUnsupportedFormat is returned for file extensions no loader handles.
	ErrUnsupportedFormat = errors.New("unsupported document format")
	// ErrMalformed is returned when a file cannot be parsed or holds no text.
	ErrMalformed = errors.New("malformed document")
)

// Page is the text of one page. Number is 0-based; non-paged formats
// produce a single page 0.
type Page struct {
	Number int
	Text   string
}

// Supported reports whether filename has an extension Load understands.
func Supported(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf", ".html", ".htm", ".txt", ".md":
		return true
	}
	return false
}

// Load parses data according to the extension of filename.
func Load(filename string, data []byte) ([]Page, error) {
	var (
		pages []Page
		err   error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		pages, err = loadPDF(data)
	case ".html", ".htm":
		pages, err = loadHTML(data)
	case ".txt", ".md":
		pages = []Page{{Number: 0, Text: string(data)}}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(filename))
	}
	if err != nil {
		return nil, err
	}

	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			return pages, nil
		}
	}
	return nil, fmt.Errorf("%w: %s contains no text", ErrMalformed, filename)
}

func loadPDF(data []byte) (pages []Page, err error) {
	// The pdf reader panics on some corrupt inputs.
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("%w: pdf: %v", ErrMalformed, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: pdf: %v", ErrMalformed, err)
	}

	n := r.NumPage()
	pages = make([]Page, 0, n)
	for i := 1; i <= n; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: pdf page %d: %v", ErrMalformed, i, err)
		}
		pages = append(pages, Page{Number: i - 1, Text: text})
	}
	return pages, nil
}

// skipElements hold no readable text.
var skipElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"head":     true,
}

// blockElements end a paragraph in the extracted text.
var blockElements = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "br": true,
	"li": true, "tr": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"h5": true, "h6": true, "table": true, "ul": true, "ol": true, "pre": true,
}

func loadHTML(data []byte) ([]Page, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: html: %v", ErrMalformed, err)
	}

	var buf bytes.Buffer
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipElements[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.Join(strings.Fields(n.Data), " "); t != "" {
				if buf.Len() > 0 && !bytes.HasSuffix(buf.Bytes(), []byte("\n")) {
					buf.WriteByte(' ')
				}
				buf.WriteString(t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.Data] {
			b := buf.Bytes()
			if len(b) > 0 && !bytes.HasSuffix(b, []byte("\n\n")) {
				if bytes.HasSuffix(b, []byte("\n")) {
					buf.WriteByte('\n')
				} else {
					buf.WriteString("\n\n")
				}
			}
		}
	}
	walk(doc)

	return []Page{{Number: 0, Text: strings.TrimSpace(buf.String())}}, nil
}
