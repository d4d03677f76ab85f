package chunker

// chunkGeneric handles files with no recognized structure: the full text is
// redacted and, when over budget, split by the same accumulate-and-flush
// policy the oversize guard uses.
func (c *Chunker) chunkGeneric(text string) []Chunk {
	text = c.redact(text)
	if EstimateTokens(text) <= c.maxTokens {
		return []Chunk{{Text: text, Kind: KindGeneric}}
	}

	parts := splitByBudget(text, c.maxTokens)
	chunks := make([]Chunk, 0, len(parts))
	for _, part := range parts {
		chunks = append(chunks, Chunk{Text: part, Kind: KindGeneric})
	}
	return chunks
}
