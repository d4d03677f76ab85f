package chunker

import "strings"

// chunkMarkdown splits on H1/H2 heading lines. Each section chunk re-emits
// its heading as "# <heading>" so the embedded text stays self-describing.
// Content before the first heading gets the file path as its heading, and a
// file with no headings (or only empty sections) collapses to one chunk.
func (c *Chunker) chunkMarkdown(text, path string) []Chunk {
	var chunks []Chunk
	heading := path
	var body strings.Builder

	flush := func() {
		trimmed := strings.TrimSpace(body.String())
		if trimmed != "" {
			chunks = append(chunks, Chunk{
				Text: "# " + heading + "\n\n" + trimmed,
				Kind: KindMarkdown,
				Meta: MarkdownMeta{Heading: heading},
			})
		}
		body.Reset()
	}

	for _, line := range splitLinesKeepEnds(text) {
		if isH1orH2(line) {
			flush()
			heading = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
		} else {
			body.WriteString(line)
		}
	}
	flush()

	if len(chunks) == 0 {
		return []Chunk{{
			Text: text,
			Kind: KindMarkdown,
			Meta: MarkdownMeta{Heading: path},
		}}
	}
	return chunks
}

// isH1orH2 reports whether line is a level-1 or level-2 ATX heading.
func isH1orH2(line string) bool {
	hashes := 0
	for hashes < len(line) && line[hashes] == '#' {
		hashes++
	}
	if hashes == 0 || hashes > 2 || hashes >= len(line) {
		return false
	}
	return line[hashes] == ' ' || line[hashes] == '\t'
}
