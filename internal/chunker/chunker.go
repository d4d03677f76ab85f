package chunker

import (
	"path/filepath"
	"strconv"
	"strings"
)

// FileKind identifies the chunking strategy applied to a file.
type FileKind string

const (
	KindMarkdown   FileKind = "markdown"
	KindGoCode     FileKind = "go-code"
	KindPythonCode FileKind = "python-code"
	KindK8sYAML    FileKind = "k8s-yaml"
	KindHelmValues FileKind = "helm-values"
	KindGeneric    FileKind = "generic"
)

// Chunk is a contiguous slice of a file's text plus retrieval metadata.
// SubPart/SubTotal are set when an oversized chunk was re-split.
type Chunk struct {
	Text     string
	Kind     FileKind
	Meta     Meta
	SubPart  int
	SubTotal int
}

// Payload flattens the chunk metadata into string fields for storage.
func (c Chunk) Payload() map[string]string {
	p := map[string]string{"chunk_type": string(c.Kind)}
	if c.Meta != nil {
		c.Meta.fill(p)
	}
	if s := c.SubChunk(); s != "" {
		p["sub_chunk"] = s
	}
	return p
}

// SubChunk returns the "i/n" position marker, or "" for unsplit chunks.
func (c Chunk) SubChunk() string {
	if c.SubTotal <= 1 {
		return ""
	}
	return strconv.Itoa(c.SubPart) + "/" + strconv.Itoa(c.SubTotal)
}

// Meta carries the metadata fields meaningful to one chunk kind.
type Meta interface {
	fill(map[string]string)
}

// MarkdownMeta is attached to markdown section chunks.
type MarkdownMeta struct {
	Heading string
}

func (m MarkdownMeta) fill(p map[string]string) {
	if m.Heading != "" {
		p["heading"] = m.Heading
	}
}

// ManifestMeta is attached to Kubernetes YAML document chunks.
type ManifestMeta struct {
	Kind      string
	Name      string
	Namespace string
}

func (m ManifestMeta) fill(p map[string]string) {
	if m.Kind != "" {
		p["kind"] = m.Kind
	}
	if m.Name != "" {
		p["name"] = m.Name
	}
	if m.Namespace != "" {
		p["namespace"] = m.Namespace
	}
}

// ValuesMeta is attached to Helm values chunks.
type ValuesMeta struct {
	Section string
}

func (m ValuesMeta) fill(p map[string]string) {
	if m.Section != "" {
		p["section"] = m.Section
	}
}

// CodeMeta is attached to source-code chunks.
type CodeMeta struct {
	Language   string
	Package    string // Go only
	Symbol     string
	SymbolType string // function|method|type|var|const|class|file|file_overview|unknown
	Imports    string // file_overview only: import-path summary
}

func (m CodeMeta) fill(p map[string]string) {
	if m.Language != "" {
		p["language"] = m.Language
	}
	if m.Package != "" {
		p["package"] = m.Package
	}
	if m.Symbol != "" {
		p["symbol"] = m.Symbol
	}
	if m.SymbolType != "" {
		p["symbol_type"] = m.SymbolType
	}
	if m.Imports != "" {
		p["imports"] = m.Imports
	}
}

// DefaultMaxTokens is the per-chunk token budget used when none is
// configured. Matches the original indexer's 512-token limit.
const DefaultMaxTokens = 512

// Options configures a Chunker. Redact and IsSecretManifest are the
// collaborator hooks: Redact scrubs secret-like substrings before text is
// emitted, IsSecretManifest decides whether a YAML document is a Kubernetes
// Secret that must be dropped entirely.
type Options struct {
	MaxTokens        int
	Redact           func(string) string
	IsSecretManifest func(string) bool
}

// Chunker splits file text into semantically meaningful chunks. It is pure
// and allocates only local state, so a single Chunker is safe for concurrent
// use across files.
type Chunker struct {
	maxTokens int
	redact    func(string) string
	isSecret  func(string) bool
}

// New creates a Chunker. Nil hooks default to no-ops.
func New(opts Options) *Chunker {
	c := &Chunker{
		maxTokens: opts.MaxTokens,
		redact:    opts.Redact,
		isSecret:  opts.IsSecretManifest,
	}
	if c.maxTokens <= 0 {
		c.maxTokens = DefaultMaxTokens
	}
	if c.redact == nil {
		c.redact = func(s string) string { return s }
	}
	if c.isSecret == nil {
		c.isSecret = func(string) bool { return false }
	}
	return c
}

// Classify maps a file path to its chunking strategy. Precedence: markdown,
// then structural code, then Helm values, then Kubernetes YAML, then generic.
func Classify(path string) FileKind {
	ext := strings.ToLower(filepath.Ext(path))
	name := strings.ToLower(filepath.Base(path))

	switch ext {
	case ".md", ".mmd":
		return KindMarkdown
	case ".go":
		return KindGoCode
	case ".py":
		return KindPythonCode
	case ".yaml", ".yml":
		if strings.Contains(name, "values") || name == "chart.yaml" {
			return KindHelmValues
		}
		return KindK8sYAML
	}
	return KindGeneric
}

// File classifies the file and returns its ordered chunk sequence. Chunks
// whose text trims to empty are discarded, and any chunk over the token
// budget is re-split at line boundaries with sub_chunk position markers.
// File never fails: parse errors inside a strategy degrade to a less
// structured fallback for that file.
func (c *Chunker) File(text, path string) []Chunk {
	var raw []Chunk
	switch Classify(path) {
	case KindMarkdown:
		raw = c.chunkMarkdown(text, path)
	case KindGoCode:
		raw = c.chunkGo(text, path)
	case KindPythonCode:
		raw = c.chunkPython(text, path)
	case KindHelmValues:
		raw = c.chunkHelmValues(text)
	case KindK8sYAML:
		raw = c.chunkK8sYAML(text)
	default:
		raw = c.chunkGeneric(text)
	}

	out := make([]Chunk, 0, len(raw))
	for _, ch := range raw {
		if strings.TrimSpace(ch.Text) == "" {
			continue
		}
		if EstimateTokens(ch.Text) <= c.maxTokens {
			out = append(out, ch)
			continue
		}
		parts := splitByBudget(ch.Text, c.maxTokens)
		for i, part := range parts {
			if strings.TrimSpace(part) == "" {
				continue
			}
			sub := ch
			sub.Text = part
			if len(parts) > 1 {
				sub.SubPart = i + 1
				sub.SubTotal = len(parts)
			}
			out = append(out, sub)
		}
	}
	return out
}
