package chunker

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// maxImportSummary caps how many import paths the overview metadata lists.
const maxImportSummary = 20

var goDeclKeywords = []string{"func", "type", "var", "const"}

// chunkGo splits a Go source file into one chunk per top-level declaration
// plus a file-overview chunk built from the preamble (package clause and
// imports). Declarations are found by a single left-to-right scan tracking
// brace depth and string/comment context, so keyword-shaped text inside
// function bodies, strings, or comments never creates a boundary.
func (c *Chunker) chunkGo(text, path string) []Chunk {
	boundaries := goDeclBoundaries(text)
	if len(boundaries) == 0 {
		return []Chunk{{
			Text: text,
			Kind: KindGoCode,
			Meta: CodeMeta{
				Language:   "go",
				Package:    goPackageName(text),
				Symbol:     filepath.Base(path),
				SymbolType: "file",
			},
		}}
	}

	// Pull each declaration's leading doc comment into its chunk.
	for i := range boundaries {
		boundaries[i] = walkBackComments(text, boundaries[i], "//")
	}

	preamble := text[:boundaries[0]]
	pkg := goPackageName(preamble)

	var chunks []Chunk
	var exported []string
	for i, start := range boundaries {
		end := len(text)
		if i+1 < len(boundaries) {
			end = boundaries[i+1]
		}
		decl := strings.TrimRight(text[start:end], " \t\n")

		symbol, symType := goSymbol(decl)
		if symbol == "" {
			symbol = "decl_" + strconv.Itoa(i)
			symType = "unknown"
		} else if isExportedName(symbol) {
			exported = append(exported, symType+" "+symbol)
		}

		chunks = append(chunks, Chunk{
			Text: decl,
			Kind: KindGoCode,
			Meta: CodeMeta{
				Language:   "go",
				Package:    pkg,
				Symbol:     symbol,
				SymbolType: symType,
			},
		})
	}

	overview := buildGoOverview(preamble, exported)
	if overview == "" {
		return chunks
	}
	head := Chunk{
		Text: overview,
		Kind: KindGoCode,
		Meta: CodeMeta{
			Language:   "go",
			Package:    pkg,
			Symbol:     filepath.Base(path),
			SymbolType: "file_overview",
			Imports:    summarizeImports(preamble),
		},
	}
	return append([]Chunk{head}, chunks...)
}

// goDeclBoundaries scans the source once and returns the byte offset of
// every line that starts a top-level declaration. Context flags are updated
// before boundary detection on every character: a brace or keyword inside a
// string or comment is never syntactically significant. Line comments and
// interpreted strings reset at newline; block comments and raw strings span
// lines until their closing token.
func goDeclBoundaries(text string) []int {
	var boundaries []int
	depth := 0
	inStr, inRaw, inLine, inBlock := false, false, false, false

	for i := 0; i < len(text); i++ {
		ch := text[i]

		if (i == 0 || text[i-1] == '\n') && !inRaw && !inBlock && depth == 0 {
			if hasDeclKeyword(text[i:], goDeclKeywords) {
				boundaries = append(boundaries, i)
			}
		}

		switch {
		case inLine:
			if ch == '\n' {
				inLine = false
			}
		case inBlock:
			if ch == '*' && i+1 < len(text) && text[i+1] == '/' {
				inBlock = false
				i++
			}
		case inStr:
			switch ch {
			case '\\':
				i++
			case '"', '\n':
				inStr = false
			}
		case inRaw:
			// Raw strings have no escape mechanism: the first backtick ends it.
			if ch == '`' {
				inRaw = false
			}
		default:
			switch ch {
			case '"':
				inStr = true
			case '`':
				inRaw = true
			case '/':
				if i+1 < len(text) {
					switch text[i+1] {
					case '/':
						inLine = true
						i++
					case '*':
						inBlock = true
						i++
					}
				}
			case '{':
				depth++
			case '}':
				if depth > 0 {
					depth--
				}
			}
		}
	}
	return boundaries
}

// hasDeclKeyword reports whether s begins with one of the declaration
// keywords followed by a space, tab, or opening parenthesis.
func hasDeclKeyword(s string, keywords []string) bool {
	for _, kw := range keywords {
		if !strings.HasPrefix(s, kw) {
			continue
		}
		if len(s) == len(kw) {
			return false
		}
		switch s[len(kw)] {
		case ' ', '\t', '(':
			return true
		}
	}
	return false
}

// walkBackComments moves a boundary offset backward over immediately
// preceding contiguous comment lines so a declaration's documentation stays
// in its chunk. A blank or non-comment line stops the walk.
func walkBackComments(text string, off int, commentPrefix string) int {
	for off > 0 && text[off-1] == '\n' {
		k := strings.LastIndexByte(text[:off-1], '\n') + 1
		line := strings.TrimSpace(text[k : off-1])
		if line == "" || !strings.HasPrefix(line, commentPrefix) {
			break
		}
		off = k
	}
	return off
}

// goSymbol derives the declared identifier and its kind from the first
// non-comment line of a declaration. Empty symbol means unparseable.
func goSymbol(decl string) (symbol, symType string) {
	line := firstCodeLine(decl, "//")
	switch {
	case strings.HasPrefix(line, "func"):
		rest := strings.TrimLeft(line[len("func"):], " \t")
		if strings.HasPrefix(rest, "(") {
			// Method: skip the receiver clause.
			close := strings.IndexByte(rest, ')')
			if close < 0 {
				return "", ""
			}
			return identPrefix(rest[close+1:]), "method"
		}
		if name := identPrefix(rest); name != "" {
			return name, "function"
		}
	case strings.HasPrefix(line, "type"):
		if name := identPrefix(line[len("type"):]); name != "" {
			return name, "type"
		}
	case strings.HasPrefix(line, "var"):
		if name := identPrefix(line[len("var"):]); name != "" {
			return name, "var"
		}
	case strings.HasPrefix(line, "const"):
		if name := identPrefix(line[len("const"):]); name != "" {
			return name, "const"
		}
	}
	return "", ""
}

// firstCodeLine returns the first line of s that is neither blank nor a
// line comment.
func firstCodeLine(s, commentPrefix string) string {
	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, commentPrefix) {
			continue
		}
		return line
	}
	return ""
}

// identPrefix returns the leading identifier of s after whitespace, or "".
func identPrefix(s string) string {
	s = strings.TrimLeft(s, " \t")
	end := 0
	for _, r := range s {
		if r == '_' || unicode.IsLetter(r) || (end > 0 && unicode.IsDigit(r)) {
			end += len(string(r))
			continue
		}
		break
	}
	return s[:end]
}

func isExportedName(name string) bool {
	for _, r := range name {
		return unicode.IsUpper(r)
	}
	return false
}

// buildGoOverview renders the file-overview chunk text: the preamble,
// augmented with a synthesized list of exported declarations.
func buildGoOverview(preamble string, exported []string) string {
	body := strings.TrimRight(preamble, " \t\n")
	if strings.TrimSpace(body) == "" {
		return ""
	}
	if len(exported) > 0 {
		body += "\n\nExported symbols: " + strings.Join(exported, ", ")
	}
	return body
}

var quotedImport = regexp.MustCompile(`"([^"\n]+)"`)

// summarizeImports lists the quoted import paths found in the preamble,
// capped at maxImportSummary with a "+N more" suffix.
func summarizeImports(preamble string) string {
	matches := quotedImport.FindAllStringSubmatch(preamble, -1)
	if len(matches) == 0 {
		return ""
	}
	paths := make([]string, 0, len(matches))
	for _, m := range matches {
		paths = append(paths, m[1])
	}
	extra := 0
	if len(paths) > maxImportSummary {
		extra = len(paths) - maxImportSummary
		paths = paths[:maxImportSummary]
	}
	summary := strings.Join(paths, ", ")
	if extra > 0 {
		summary += ", +" + strconv.Itoa(extra) + " more"
	}
	return summary
}

// goPackageName extracts the package clause identifier, or "".
func goPackageName(src string) string {
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			return identPrefix(trimmed[len("package"):])
		}
	}
	return ""
}
