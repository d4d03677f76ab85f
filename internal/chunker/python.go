package chunker

import (
	"path/filepath"
	"strings"
)

// chunkPython splits a Python source file into one chunk per top-level
// declaration. Indentation does the work braces do in Go: a boundary is any
// column-0 line starting a class or (async) function definition, so nested
// definitions never split their enclosing declaration.
func (c *Chunker) chunkPython(text, path string) []Chunk {
	boundaries := pythonDeclBoundaries(text)
	if len(boundaries) == 0 {
		return []Chunk{{
			Text: text,
			Kind: KindPythonCode,
			Meta: CodeMeta{
				Language:   "python",
				Symbol:     filepath.Base(path),
				SymbolType: "file",
			},
		}}
	}

	for i := range boundaries {
		boundaries[i] = walkBackComments(text, boundaries[i], "#")
	}

	var chunks []Chunk
	preamble := strings.TrimRight(text[:boundaries[0]], " \t\n")
	if strings.TrimSpace(preamble) != "" {
		chunks = append(chunks, Chunk{
			Text: preamble,
			Kind: KindPythonCode,
			Meta: CodeMeta{
				Language:   "python",
				Symbol:     filepath.Base(path),
				SymbolType: "file_overview",
			},
		})
	}

	for i, start := range boundaries {
		end := len(text)
		if i+1 < len(boundaries) {
			end = boundaries[i+1]
		}
		decl := strings.TrimRight(text[start:end], " \t\n")
		symbol, symType := pythonSymbol(decl)
		chunks = append(chunks, Chunk{
			Text: decl,
			Kind: KindPythonCode,
			Meta: CodeMeta{
				Language:   "python",
				Symbol:     symbol,
				SymbolType: symType,
			},
		})
	}
	return chunks
}

// pythonDeclBoundaries returns the byte offsets of column-0 class/def lines.
func pythonDeclBoundaries(text string) []int {
	var boundaries []int
	for i := 0; i < len(text); {
		if isPythonDecl(text[i:]) {
			boundaries = append(boundaries, i)
		}
		next := strings.IndexByte(text[i:], '\n')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return boundaries
}

func isPythonDecl(s string) bool {
	if strings.HasPrefix(s, "async ") {
		s = strings.TrimPrefix(s, "async ")
		s = strings.TrimLeft(s, " \t")
		return strings.HasPrefix(s, "def ")
	}
	return strings.HasPrefix(s, "def ") || strings.HasPrefix(s, "class ")
}

// pythonSymbol extracts the declared name, skipping leading comment lines
// and docstring quotes before pattern matching. Empty symbol and "unknown"
// mark a declaration whose head could not be parsed.
func pythonSymbol(decl string) (symbol, symType string) {
	for _, line := range strings.Split(decl, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") ||
			strings.HasPrefix(trimmed, `"""`) || strings.HasPrefix(trimmed, "'''") {
			continue
		}

		rest := trimmed
		rest = strings.TrimPrefix(rest, "async ")
		rest = strings.TrimLeft(rest, " \t")
		switch {
		case strings.HasPrefix(rest, "def "):
			if name := identPrefix(rest[len("def "):]); name != "" {
				return name, "function"
			}
		case strings.HasPrefix(rest, "class "):
			if name := identPrefix(rest[len("class "):]); name != "" {
				return name, "class"
			}
		}
		break
	}
	return "", "unknown"
}
