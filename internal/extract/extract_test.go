package extract

import (
	"errors"
	"strings"
	"testing"
)

func TestPlainTextPassthrough(t *testing.T) {
	text, err := Text("notes.txt", []byte("  refund policy: 30 days\n"))
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if text != "refund policy: 30 days" {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestMarkdownTreatedAsPlain(t *testing.T) {
	text, err := Text("README.md", []byte("# Title\n\nbody"))
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if !strings.Contains(text, "body") {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestInvalidUTF8Rejected(t *testing.T) {
	_, err := Text("bad.txt", []byte{0xff, 0xfe, 0xfd})
	var extractErr *Error
	if !errors.As(err, &extractErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
}

func TestUnsupportedExtension(t *testing.T) {
	_, err := Text("archive.zip", []byte("whatever"))
	var extractErr *Error
	if !errors.As(err, &extractErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if !strings.Contains(extractErr.Reason, "unsupported") {
		t.Fatalf("unexpected reason: %q", extractErr.Reason)
	}
}

func TestCorruptPDFRejected(t *testing.T) {
	_, err := Text("doc.pdf", []byte("this is not a pdf"))
	var extractErr *Error
	if !errors.As(err, &extractErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
}

func TestHTMLExtraction(t *testing.T) {
	html := `<html><head><title>Policies</title></head><body>
<article><h1>Refunds</h1>
<p>Customers may request a refund within thirty days of purchase. Refunds are
issued to the original payment method after the returned item is inspected.</p>
<p>Shipping costs are not refundable unless the item arrived damaged or the
wrong product was delivered to the customer.</p>
</article></body></html>`
	text, err := Text("policies.html", []byte(html))
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if !strings.Contains(text, "thirty days") {
		t.Fatalf("expected article body in extracted text, got %q", text)
	}
}

func TestSupported(t *testing.T) {
	for _, name := range []string{"a.pdf", "b.HTML", "c.txt", "d.md"} {
		if !Supported(name) {
			t.Fatalf("expected %s to be supported", name)
		}
	}
	if Supported("evil.exe") {
		t.Fatalf("expected .exe to be unsupported")
	}
}
