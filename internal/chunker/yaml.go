package chunker

import (
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// yamlDocSep matches the multi-document separator: "---" alone on its own
// line. The surrounding-newline form mirrors the original indexer so a
// leading "---" directive line is not treated as a split point.
var yamlDocSep = regexp.MustCompile(`\n---\s*\n`)

// chunkK8sYAML splits multi-document YAML into one chunk per document,
// extracting kind/name/namespace. Documents whose kind is Secret are
// dropped entirely, never indexed. Parse failures keep the document as
// opaque text with empty metadata.
func (c *Chunker) chunkK8sYAML(text string) []Chunk {
	var chunks []Chunk
	for _, doc := range yamlDocSep.Split(text, -1) {
		doc = strings.TrimSpace(doc)
		if doc == "" {
			continue
		}
		if c.isSecret(doc) {
			continue
		}

		var meta ManifestMeta
		var obj map[string]any
		if err := yaml.Unmarshal([]byte(doc), &obj); err == nil && obj != nil {
			meta.Kind, _ = obj["kind"].(string)
			if md, ok := obj["metadata"].(map[string]any); ok {
				meta.Name, _ = md["name"].(string)
				meta.Namespace, _ = md["namespace"].(string)
			}
		}

		chunks = append(chunks, Chunk{
			Text: c.redact(doc),
			Kind: KindK8sYAML,
			Meta: meta,
		})
	}
	return chunks
}

// chunkHelmValues slices a values file by top-level mapping key, one chunk
// per key in source order. A file that fails to parse, isn't a mapping, or
// yields no non-empty sections falls back to a single root chunk.
func (c *Chunker) chunkHelmValues(text string) []Chunk {
	rootChunk := []Chunk{{
		Text: c.redact(text),
		Kind: KindHelmValues,
		Meta: ValuesMeta{Section: "root"},
	}}

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return rootChunk
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return rootChunk
	}

	mapping := doc.Content[0]
	var chunks []Chunk
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key, value := mapping.Content[i], mapping.Content[i+1]

		section := &yaml.Node{
			Kind:    yaml.MappingNode,
			Content: []*yaml.Node{key, value},
		}
		out, err := yaml.Marshal(section)
		if err != nil {
			continue
		}
		body := c.redact(string(out))
		if strings.TrimSpace(body) == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			Text: body,
			Kind: KindHelmValues,
			Meta: ValuesMeta{Section: key.Value},
		})
	}

	if len(chunks) == 0 {
		return rootChunk
	}
	return chunks
}
