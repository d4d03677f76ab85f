package chunker

import "strings"

// EstimateTokens estimates the token count of text using the ~4 chars per
// token heuristic. Non-empty text always estimates to at least one token,
// so the estimate is a monotonic length proxy.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// splitLinesKeepEnds splits text into lines, each retaining its trailing
// newline (the final line may lack one).
func splitLinesKeepEnds(text string) []string {
	if text == "" {
		return nil
	}
	var lines []string
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			lines = append(lines, text[start:i+1])
			start = i + 1
		}
	}
	if start < len(text) {
		lines = append(lines, text[start:])
	}
	return lines
}

// splitByBudget accumulates whole lines without exceeding maxTokens,
// flushing the accumulation whenever the next line would push it over the
// budget and at least one line is already buffered. Concatenating the
// returned parts reproduces the input exactly.
func splitByBudget(text string, maxTokens int) []string {
	var parts []string
	var cur strings.Builder
	curTokens := 0

	for _, line := range splitLinesKeepEnds(text) {
		lineTokens := EstimateTokens(line)
		if curTokens+lineTokens > maxTokens && cur.Len() > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
			curTokens = 0
		}
		cur.WriteString(line)
		curTokens += lineTokens
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}
