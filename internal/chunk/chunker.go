package chunk

import "fmt"

// Chunk is one bounded segment of a document's extracted text. Adjacent
// chunks share an overlap so a retrieval hit near a boundary still carries
// its surrounding context.
type Chunk struct {
	DocumentID string
	Index      int
	Text       string
	Length     int
}

// Chunker cuts extracted text into fixed-size overlapping segments,
// measured in runes. The split is deterministic: the same text always
// yields the same chunks in the same order.
type Chunker struct {
	size    int
	overlap int
}

// New builds a Chunker with the given chunk size and overlap (both in
// runes). Overlap must be smaller than size.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("overlap must be in [0, size), got overlap=%d size=%d", overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Size returns the configured chunk size in runes.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap in runes.
func (c *Chunker) Overlap() int { return c.overlap }

// Split cuts text into ordered chunks for the given document. Empty text
// yields no chunks and no error; text shorter than the chunk size yields a
// single chunk. Each chunk except the last has exactly the configured size,
// and consecutive chunks share the configured overlap, so concatenating the
// chunks with overlaps stripped reconstructs the input.
func (c *Chunker) Split(documentID, text string) []Chunk {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= c.size {
		return []Chunk{{DocumentID: documentID, Index: 0, Text: text, Length: len(runes)}}
	}

	stride := c.size - c.overlap
	var chunks []Chunk
	for start := 0; start < len(runes); start += stride {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		seg := runes[start:end]
		chunks = append(chunks, Chunk{
			DocumentID: documentID,
			Index:      len(chunks),
			Text:       string(seg),
			Length:     len(seg),
		})
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// Reassemble concatenates chunks with overlaps stripped, reconstructing the
// original text. It assumes the chunks came from Split in order.
func (c *Chunker) Reassemble(chunks []Chunk) string {
	if len(chunks) == 0 {
		return ""
	}
	out := []rune(chunks[0].Text)
	for _, ch := range chunks[1:] {
		runes := []rune(ch.Text)
		if len(runes) > c.overlap {
			runes = runes[c.overlap:]
		} else {
			runes = nil
		}
		out = append(out, runes...)
	}
	return string(out)
}
