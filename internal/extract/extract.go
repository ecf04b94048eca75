package extract

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"unicode/utf8"

	readability "github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"
)

// Error reports an unreadable or unsupported document. It is permanent:
// retrying the same bytes cannot succeed, so ingestion must not requeue it.
type Error struct {
	Filename string
	Reason   string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract %s: %s: %v", e.Filename, e.Reason, e.Err)
	}
	return fmt.Sprintf("extract %s: %s", e.Filename, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Supported reports whether the filename's extension maps to a known
// document format.
func Supported(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf", ".html", ".htm", ".txt", ".md":
		return true
	}
	return false
}

// Text converts raw document bytes to plain text, dispatching on the
// filename's extension. Unsupported extensions and malformed content yield
// an *Error.
func Text(filename string, data []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return pdfText(filename, data)
	case ".html", ".htm":
		return htmlText(filename, data)
	case ".txt", ".md":
		return plainText(filename, data)
	default:
		return "", &Error{Filename: filename, Reason: "unsupported file extension"}
	}
}

func pdfText(filename string, data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", &Error{Filename: filename, Reason: "open pdf", Err: err}
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", &Error{Filename: filename, Reason: "read pdf text", Err: err}
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", &Error{Filename: filename, Reason: "copy pdf text", Err: err}
	}
	text := strings.TrimSpace(buf.String())
	if text == "" {
		return "", &Error{Filename: filename, Reason: "no text extracted from pdf"}
	}
	return text, nil
}

func htmlText(filename string, data []byte) (string, error) {
	pageURL, _ := url.Parse("file:///" + filepath.Base(filename))
	article, err := readability.FromReader(bytes.NewReader(data), pageURL)
	if err != nil {
		return "", &Error{Filename: filename, Reason: "parse html", Err: err}
	}
	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return "", &Error{Filename: filename, Reason: "no text extracted from html"}
	}
	return text, nil
}

func plainText(filename string, data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", &Error{Filename: filename, Reason: "not valid utf-8"}
	}
	return strings.TrimSpace(string(data)), nil
}
