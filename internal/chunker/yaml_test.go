package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lodestone/internal/redact"
)

func newYAMLChunker() *Chunker {
	return New(Options{
		Redact:           redact.Redact,
		IsSecretManifest: redact.IsSecretManifest,
	})
}

func TestK8sYAMLMultiDocument(t *testing.T) {
	src := `apiVersion: apps/v1
kind: Deployment
metadata:
  name: media-server
  namespace: media
spec:
  replicas: 1
---
apiVersion: v1
kind: Service
metadata:
  name: media-server
  namespace: media
`
	chunks := newYAMLChunker().File(src, "deployment.yaml")
	require.Len(t, chunks, 2)

	dep := chunks[0].Meta.(ManifestMeta)
	assert.Equal(t, "Deployment", dep.Kind)
	assert.Equal(t, "media-server", dep.Name)
	assert.Equal(t, "media", dep.Namespace)

	svc := chunks[1].Meta.(ManifestMeta)
	assert.Equal(t, "Service", svc.Kind)
}

func TestK8sYAMLSecretDropped(t *testing.T) {
	src := `apiVersion: v1
kind: ConfigMap
metadata:
  name: app-config
---
apiVersion: v1
kind: Secret
metadata:
  name: app-creds
data:
  password: aHVudGVyMg==
---
apiVersion: v1
kind: Service
metadata:
  name: app
`
	chunks := newYAMLChunker().File(src, "bundle.yaml")
	require.Len(t, chunks, 2)

	for _, ch := range chunks {
		assert.NotContains(t, ch.Text, "app-creds")
		assert.NotContains(t, ch.Text, "aHVudGVyMg")
		assert.NotEqual(t, "Secret", ch.Meta.(ManifestMeta).Kind)
	}
	assert.Equal(t, "ConfigMap", chunks[0].Meta.(ManifestMeta).Kind)
	assert.Equal(t, "Service", chunks[1].Meta.(ManifestMeta).Kind)
}

func TestK8sYAMLRedactsInlineSecrets(t *testing.T) {
	src := `apiVersion: v1
kind: ConfigMap
metadata:
  name: cm
data:
  api_key: abc123
`
	chunks := newYAMLChunker().File(src, "cm.yaml")
	require.Len(t, chunks, 1)
	assert.NotContains(t, chunks[0].Text, "abc123")
	assert.Contains(t, chunks[0].Text, redact.Marker)
}

func TestK8sYAMLUnparseableDocument(t *testing.T) {
	src := "{{ .Values.template }}: [unclosed\n"

	chunks := newYAMLChunker().File(src, "broken.yaml")
	require.Len(t, chunks, 1)
	meta := chunks[0].Meta.(ManifestMeta)
	assert.Empty(t, meta.Kind)
	assert.Empty(t, meta.Name)
}

func TestHelmValuesSections(t *testing.T) {
	src := `replicaCount: 2
image:
  repository: ghcr.io/acme/app
  tag: v1.2.3
persistence:
  enabled: true
  size: 10Gi
`
	chunks := newYAMLChunker().File(src, "values.yaml")
	require.Len(t, chunks, 3)

	sections := []string{
		chunks[0].Meta.(ValuesMeta).Section,
		chunks[1].Meta.(ValuesMeta).Section,
		chunks[2].Meta.(ValuesMeta).Section,
	}
	// Source order, not map order.
	assert.Equal(t, []string{"replicaCount", "image", "persistence"}, sections)
	assert.Contains(t, chunks[1].Text, "ghcr.io/acme/app")
}

func TestHelmValuesFallbackToRoot(t *testing.T) {
	chunks := newYAMLChunker().File("- a\n- b\n", "values.yaml")
	require.Len(t, chunks, 1)
	assert.Equal(t, "root", chunks[0].Meta.(ValuesMeta).Section)

	chunks = newYAMLChunker().File(": not [valid yaml\n", "values.yaml")
	require.Len(t, chunks, 1)
	assert.Equal(t, "root", chunks[0].Meta.(ValuesMeta).Section)
}

func TestClassify(t *testing.T) {
	cases := map[string]FileKind{
		"README.md":                 KindMarkdown,
		"diagram.mmd":               KindMarkdown,
		"main.go":                   KindGoCode,
		"tool.py":                   KindPythonCode,
		"values.yaml":               KindHelmValues,
		"app/values-prod.yaml":      KindHelmValues,
		"Chart.yaml":                KindHelmValues,
		"deployment.yaml":           KindK8sYAML,
		"kustomization.yml":         KindK8sYAML,
		"script.sh":                 KindGeneric,
		"terraform/main.tf":         KindGeneric,
		"config.json":               KindGeneric,
		"apps/media/VALUES.YAML":    KindHelmValues,
		"manifests/ingress.yaml":    KindK8sYAML,
		"docs/runbooks/restore.md":  KindMarkdown,
		"clusters/prod/secret.yaml": KindK8sYAML,
	}
	for path, want := range cases {
		assert.Equal(t, want, Classify(path), path)
	}
}

func TestHelmValuesRedaction(t *testing.T) {
	src := "auth:\n  password: hunter2\nreplicas: 1\n"

	chunks := newYAMLChunker().File(src, "values.yaml")
	joined := ""
	for _, ch := range chunks {
		joined += ch.Text
	}
	assert.NotContains(t, joined, "hunter2")
	assert.True(t, strings.Contains(joined, redact.Marker))
}
