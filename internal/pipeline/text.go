package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	pdf "github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
	"golang.org/x/net/html"
)

type DocumentKind string

const (
	KindPDF  DocumentKind = "pdf"
	KindHTML DocumentKind = "html"
	KindXLSX DocumentKind = "xlsx"
	KindText DocumentKind = "text"
)

var (
	ErrUnsupportedDocument = errors.New("unsupported document type")
	reSpaces               = regexp.MustCompile(`[ \t\f\v\x{00A0}]+`)
)

// DetectKind looks at the content type first and falls back to the
// file extension.
func DetectKind(filename, contentType string) (DocumentKind, error) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	lower := strings.ToLower(strings.TrimSpace(filename))

	switch {
	case ct == "application/pdf" || strings.HasSuffix(lower, ".pdf"):
		return KindPDF, nil
	case ct == "text/html" || strings.HasSuffix(lower, ".html") || strings.HasSuffix(lower, ".htm"):
		return KindHTML, nil
	case ct == "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" || strings.HasSuffix(lower, ".xlsx"):
		return KindXLSX, nil
	case strings.HasPrefix(ct, "text/") || strings.HasSuffix(lower, ".txt") || strings.HasSuffix(lower, ".csv"):
		return KindText, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedDocument, firstNonEmpty(contentType, filename))
}

// ExtractText returns the plain text of a delivery note.
func ExtractText(content []byte, filename, contentType string) (string, error) {
	kind, err := DetectKind(filename, contentType)
	if err != nil {
		return "", err
	}
	switch kind {
	case KindPDF:
		return pdfText(content)
	case KindHTML:
		return htmlText(content)
	case KindXLSX:
		return xlsxText(content)
	default:
		return normalizeText(string(content)), nil
	}
}

// pdfText reads every page. The pdf package panics on some corrupt objects,
// so a panic is returned as an error like any other unreadable file.
func pdfText(content []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("read pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}

	var pages []string
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		page, perr := p.GetPlainText(nil)
		if perr != nil {
			continue
		}
		pages = append(pages, page)
	}
	return normalizeText(strings.Join(pages, "\n")), nil
}

// htmlText keeps table rows on one line with cells joined by " | " so the
// extraction prompt still sees the columns.
func htmlText(content []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("read html: %w", err)
	}
	doc.Find("script,style,head").Remove()

	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		var cells []string
		row.Find("th,td").Each(func(_ int, cell *goquery.Selection) {
			if c := strings.TrimSpace(collapse(cell.Text())); c != "" {
				cells = append(cells, c)
			}
		})
		row.SetText(strings.Join(cells, " | ") + "\n")
	})
	doc.Find("br,p,div,li,h1,h2,h3,h4,table").Each(func(_ int, s *goquery.Selection) {
		s.AppendNodes(&html.Node{Type: html.TextNode, Data: "\n"})
	})

	return normalizeText(doc.Text()), nil
}

func xlsxText(content []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("read xlsx: %w", err)
	}
	defer f.Close()

	var lines []string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		for _, row := range rows {
			var cells []string
			for _, c := range row {
				if c = strings.TrimSpace(collapse(c)); c != "" {
					cells = append(cells, c)
				}
			}
			if len(cells) > 0 {
				lines = append(lines, strings.Join(cells, " | "))
			}
		}
	}
	return strings.Join(lines, "\n"), nil
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(collapse(line)); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func collapse(s string) string {
	return reSpaces.ReplaceAllString(strings.ReplaceAll(s, "\n", " "), " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
