package rag

import (
	"fmt"
	"strings"

	"github.com/skarimi/docqa/internal/vector"
)

const systemPrompt = `You are a document question answering assistant. Answer the user's question using ONLY the context passages below. Each passage is labeled with its rank and source document. If the context does not contain the information needed to answer, say that you cannot find this information in the provided documents. Do not use outside knowledge and do not invent citations.`

// buildContext renders the retrieved passages into the prompt, best match
// first. Passages are labeled so answers can reference them.
func buildContext(hits []vector.ScoredPoint) string {
	var b strings.Builder
	b.WriteString("Context passages:\n\n")
	for i, hit := range hits {
		fmt.Fprintf(&b, "[%d] (source: %s, chunk %d)\n%s\n\n", i+1, hit.Payload.Source, hit.Payload.ChunkIndex, hit.Payload.Text)
	}
	return b.String()
}

func buildUserPrompt(hits []vector.ScoredPoint, query string) string {
	return buildContext(hits) + "Question: " + query
}
