package chunk

import (
	"strings"
	"testing"
)

func TestNewRejectsBadParameters(t *testing.T) {
	if _, err := New(0, 0); err == nil {
		t.Fatalf("expected error for zero size")
	}
	if _, err := New(100, 100); err == nil {
		t.Fatalf("expected error when overlap == size")
	}
	if _, err := New(100, -1); err == nil {
		t.Fatalf("expected error for negative overlap")
	}
}

func TestSplitEmptyText(t *testing.T) {
	c, err := New(1000, 100)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if chunks := c.Split("doc-1", ""); len(chunks) != 0 {
		t.Fatalf("expected 0 chunks for empty text, got %d", len(chunks))
	}
}

func TestSplitShortText(t *testing.T) {
	c, err := New(1000, 100)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	chunks := c.Split("doc-1", "short text")
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text != "short text" || chunks[0].Index != 0 {
		t.Fatalf("unexpected chunk: %+v", chunks[0])
	}
}

func TestSplitThreeThousandCharacters(t *testing.T) {
	c, err := New(1000, 100)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	text := strings.Repeat("a", 3000)
	chunks := c.Split("doc-1", text)
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}
	for i, ch := range chunks[:3] {
		if ch.Length != 1000 {
			t.Fatalf("chunk %d: expected length 1000, got %d", i, ch.Length)
		}
	}
	if chunks[3].Length != 300 {
		t.Fatalf("last chunk: expected length 300, got %d", chunks[3].Length)
	}
	for i, ch := range chunks {
		if ch.Index != i {
			t.Fatalf("chunk %d carries index %d", i, ch.Index)
		}
	}
}

func TestSplitOverlapIsShared(t *testing.T) {
	c, err := New(10, 3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	text := "abcdefghijklmnopqrstuvwxyz"
	chunks := c.Split("doc-1", text)
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1].Text)
		tail := string(prev[len(prev)-3:])
		head := string([]rune(chunks[i].Text)[:3])
		if tail != head {
			t.Fatalf("chunks %d/%d do not share overlap: %q vs %q", i-1, i, tail, head)
		}
	}
}

func TestSplitReconstructsOriginal(t *testing.T) {
	cases := []struct {
		name          string
		size, overlap int
		text          string
	}{
		{"exact multiple", 10, 2, strings.Repeat("x", 42)},
		{"with remainder", 7, 3, "the quick brown fox jumps over the lazy dog"},
		{"unicode", 5, 2, "héllo wörld, ünïcode tèxt œ∂ß"},
		{"single chunk", 100, 10, "tiny"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := New(tc.size, tc.overlap)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			chunks := c.Split("doc-1", tc.text)
			if got := c.Reassemble(chunks); got != tc.text {
				t.Fatalf("reassembled text differs:\n got %q\nwant %q", got, tc.text)
			}
		})
	}
}

func TestSplitChunkCountFormula(t *testing.T) {
	size, overlap := 100, 20
	stride := size - overlap
	c, err := New(size, overlap)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, n := range []int{101, 180, 181, 500, 1000, 1234} {
		text := strings.Repeat("z", n)
		want := ((n - overlap) + stride - 1) / stride
		if got := len(c.Split("doc-1", text)); got != want {
			t.Fatalf("len=%d: expected %d chunks, got %d", n, want, got)
		}
	}
}
