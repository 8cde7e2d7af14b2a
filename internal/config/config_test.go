package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func writeConfigFile(t *testing.T, dir string, content string) string {
	t.Helper()
	path := filepath.Join(dir, "ragserver.config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

// TestLoadDefaults verifies default values apply when only project_root and
// a vector store are set.
func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	tmpDir := t.TempDir()

	configFile := writeConfigFile(t, tmpDir, `{
		"project_root": "`+tmpDir+`",
		"local_qdrant": {"url": "postgres://localhost/rag", "collection": "docs"}
	}`)
	t.Setenv("MCP_CONFIG_FILE", configFile)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.EmbeddingModels.Doc != "text-embedding-3-small" {
		t.Errorf("expected default embedding_models.doc, got %q", cfg.EmbeddingModels.Doc)
	}
	if cfg.HybridRetrieval.SearchTopK != 20 {
		t.Errorf("expected default search_top_k 20, got %d", cfg.HybridRetrieval.SearchTopK)
	}
	if cfg.HybridRetrieval.HybridWeights.Vector != 0.7 {
		t.Errorf("expected default vector weight 0.7, got %f", cfg.HybridRetrieval.HybridWeights.Vector)
	}
	if cfg.Chunking.DocChunkSize != 1000 {
		t.Errorf("expected default doc_chunk_size 1000, got %d", cfg.Chunking.DocChunkSize)
	}
	if cfg.ServerName != "ragserver" {
		t.Errorf("expected default server_name 'ragserver', got %q", cfg.ServerName)
	}
}

// TestLoadConfigFile verifies values are read from the config file.
func TestLoadConfigFile(t *testing.T) {
	viper.Reset()
	tmpDir := t.TempDir()

	configFile := writeConfigFile(t, tmpDir, `{
		"project_root": "`+tmpDir+`",
		"local_qdrant": {"url": "postgres://localhost/rag", "collection": "docs"},
		"hybrid_retrieval": {"search_top_k": 40, "rerank_top_k": 12, "max_results": 8,
			"hybrid_weights": {"bm25": 0.4, "vector": 0.6}}
	}`)
	t.Setenv("MCP_CONFIG_FILE", configFile)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.HybridRetrieval.SearchTopK != 40 {
		t.Errorf("expected search_top_k 40, got %d", cfg.HybridRetrieval.SearchTopK)
	}
	if cfg.HybridRetrieval.HybridWeights.BM25 != 0.4 {
		t.Errorf("expected bm25 weight 0.4, got %f", cfg.HybridRetrieval.HybridWeights.BM25)
	}
}

// TestLoadMissingConfigFile verifies Load() tolerates an absent config file
// and falls back to defaults plus environment overrides.
func TestLoadMissingConfigFile(t *testing.T) {
	viper.Reset()
	tmpDir := t.TempDir()

	t.Setenv("MCP_CONFIG_FILE", filepath.Join(tmpDir, "does-not-exist.json"))
	t.Setenv("MCP_PROJECT_ROOT", tmpDir)
	t.Setenv("QDRANT_CLOUD_URL", "postgres://localhost/rag")
	t.Setenv("QDRANT_COLLECTION", "docs")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.ProjectRoot != tmpDir {
		t.Errorf("expected project_root from env, got %q", cfg.ProjectRoot)
	}
	if cfg.CloudStore == nil || cfg.CloudStore.Collection != "docs" {
		t.Errorf("expected cloud_qdrant.collection from env, got %+v", cfg.CloudStore)
	}
}

// TestLoadEnvOverridesFile verifies environment variables win over the file.
func TestLoadEnvOverridesFile(t *testing.T) {
	viper.Reset()
	tmpDir := t.TempDir()

	configFile := writeConfigFile(t, tmpDir, `{
		"project_root": "`+tmpDir+`",
		"cloud_qdrant": {"url": "postgres://file/rag", "collection": "file-collection"}
	}`)
	t.Setenv("MCP_CONFIG_FILE", configFile)
	t.Setenv("QDRANT_CLOUD_URL", "postgres://env/rag")
	t.Setenv("QDRANT_COLLECTION", "env-collection")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.CloudStore.URL != "postgres://env/rag" {
		t.Errorf("expected env override for cloud_qdrant.url, got %q", cfg.CloudStore.URL)
	}
	if cfg.CloudStore.Collection != "env-collection" {
		t.Errorf("expected env override for cloud_qdrant.collection, got %q", cfg.CloudStore.Collection)
	}
}

// TestLoadInvalidConfigFails verifies Load() rejects a config that fails
// validation (no vector store configured).
func TestLoadInvalidConfigFails(t *testing.T) {
	viper.Reset()
	tmpDir := t.TempDir()

	configFile := writeConfigFile(t, tmpDir, `{"project_root": "`+tmpDir+`"}`)
	t.Setenv("MCP_CONFIG_FILE", configFile)

	if _, err := Load(); err == nil {
		t.Fatal("expected Load() to fail validation with no vector store configured")
	}
}

// TestLoadMalformedJSON verifies malformed config files produce an error.
func TestLoadMalformedJSON(t *testing.T) {
	viper.Reset()
	tmpDir := t.TempDir()

	configFile := writeConfigFile(t, tmpDir, `{"project_root": `)
	t.Setenv("MCP_CONFIG_FILE", configFile)

	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed JSON config")
	}
}

// TestConfigString_MasksAPIKeys verifies String() never leaks store API keys.
func TestConfigString_MasksAPIKeys(t *testing.T) {
	cfg := Config{
		ProjectRoot: "/tmp/project",
		CloudStore:  &VectorStoreConfig{URL: "postgres://x", APIKey: "supersecretapikey123", Collection: "docs"},
	}

	str := cfg.String()
	if strings.Contains(str, "supersecretapikey123") {
		t.Error("Config.String() leaked cloud_qdrant.api_key")
	}
	if !strings.Contains(str, maskedValue) {
		t.Errorf("expected masked marker in output, got: %s", str)
	}

	var result map[string]interface{}
	if err := json.Unmarshal([]byte(str), &result); err != nil {
		t.Fatalf("Config.String() did not produce valid JSON: %v", err)
	}
}

// TestMaskSecret covers the masking length classes.
func TestMaskSecret(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  func(string) bool
	}{
		{"empty", "", func(s string) bool { return s == "" }},
		{"short", "abc123", func(s string) bool { return s == maskedValue }},
		{"exactly8", "12345678", func(s string) bool { return s == maskedValue }},
		{"long", "supersecretapikey123", func(s string) bool {
			return strings.HasPrefix(s, "su<") && strings.HasSuffix(s, ">23") && !strings.Contains(s, "persecretapikey1")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := maskSecret(tt.input)
			if !tt.want(got) {
				t.Errorf("maskSecret(%q) = %q, unexpected shape", tt.input, got)
			}
		})
	}
}

// BenchmarkLoad benchmarks configuration loading end to end.
func BenchmarkLoad(b *testing.B) {
	tmpDir := b.TempDir()
	configFile := filepath.Join(tmpDir, "ragserver.config.json")
	content := `{"project_root": "` + tmpDir + `", "local_qdrant": {"url": "postgres://localhost/rag", "collection": "docs"}}`
	if err := os.WriteFile(configFile, []byte(content), 0o600); err != nil {
		b.Fatalf("failed to write config file: %v", err)
	}
	b.Setenv("MCP_CONFIG_FILE", configFile)

	b.ResetTimer()
	for b.Loop() {
		viper.Reset()
		if _, err := Load(); err != nil {
			b.Fatalf("Load() failed: %v", err)
		}
	}
}
