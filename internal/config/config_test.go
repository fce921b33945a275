package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// =============================================================================
// Default Config Tests
// =============================================================================

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	if cfg.DataDir == "" {
		t.Error("DataDir should not be empty")
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.Host != "localhost" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "localhost")
	}

	if cfg.LLM.Anthropic.Model != "claude-sonnet-4-20250514" {
		t.Errorf("LLM.Anthropic.Model = %q, want %q", cfg.LLM.Anthropic.Model, "claude-sonnet-4-20250514")
	}

	if cfg.Negotiation.MaxRounds != 5 {
		t.Errorf("Negotiation.MaxRounds = %d, want 5", cfg.Negotiation.MaxRounds)
	}
	if cfg.Negotiation.DeadlockThreshold != 2 {
		t.Errorf("Negotiation.DeadlockThreshold = %d, want 2", cfg.Negotiation.DeadlockThreshold)
	}
}

func TestDefault_DataDirIsAbsolute(t *testing.T) {
	cfg := Default()

	if !filepath.IsAbs(cfg.DataDir) {
		t.Error("DataDir should be an absolute path")
	}

	if filepath.Base(cfg.DataDir) != ".scheduler" {
		t.Errorf("DataDir should end with .scheduler, got %q", filepath.Base(cfg.DataDir))
	}
}

func TestDefault_AnthropicAPIKeyFromEnv(t *testing.T) {
	testKey := "test-api-key-12345"
	os.Setenv("ANTHROPIC_API_KEY", testKey)
	defer os.Unsetenv("ANTHROPIC_API_KEY")

	cfg := Default()

	if cfg.LLM.Anthropic.APIKey != testKey {
		t.Errorf("LLM.Anthropic.APIKey = %q, want %q", cfg.LLM.Anthropic.APIKey, testKey)
	}
}

// =============================================================================
// Load Config Tests
// =============================================================================

func TestLoad_NonExistentFile(t *testing.T) {
	cfg, err := Load("/non/existent/path/config.json")

	if err != nil {
		t.Fatalf("Load() error = %v, want nil for non-existent file", err)
	}

	if cfg == nil {
		t.Fatal("Load() returned nil config")
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080 (default)", cfg.Server.Port)
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")

	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg == nil {
		t.Fatal("Load() returned nil config")
	}
}

func TestLoad_ValidConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	testConfig := Config{
		DataDir: tmpDir,
		Server: ServerConfig{
			Port: 9090,
			Host: "0.0.0.0",
		},
		LLM: LLMConfig{
			Anthropic: AnthropicLLM{
				Model: "claude-3-opus",
			},
		},
		Negotiation: NegotiationConfig{
			MaxRounds:         3,
			DeadlockThreshold: 1,
		},
	}

	data, err := json.Marshal(testConfig)
	if err != nil {
		t.Fatalf("failed to marshal test config: %v", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	os.Unsetenv("ANTHROPIC_API_KEY")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.LLM.Anthropic.Model != "claude-3-opus" {
		t.Errorf("LLM.Anthropic.Model = %q, want %q", cfg.LLM.Anthropic.Model, "claude-3-opus")
	}
	if cfg.Negotiation.MaxRounds != 3 {
		t.Errorf("Negotiation.MaxRounds = %d, want 3", cfg.Negotiation.MaxRounds)
	}
}

func TestLoad_EnvOverridesFileAPIKey(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	testConfig := map[string]interface{}{
		"llm": map[string]interface{}{
			"anthropic": map[string]string{
				"api_key": "file-key",
				"model":   "claude-3",
			},
		},
	}

	data, _ := json.Marshal(testConfig)
	os.WriteFile(configPath, data, 0644)

	envKey := "env-api-key-override"
	os.Setenv("ANTHROPIC_API_KEY", envKey)
	defer os.Unsetenv("ANTHROPIC_API_KEY")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LLM.Anthropic.APIKey != envKey {
		t.Errorf("LLM.Anthropic.APIKey = %q, want %q (env override)", cfg.LLM.Anthropic.APIKey, envKey)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	os.WriteFile(configPath, []byte("{ invalid json }"), 0644)

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() should return error for invalid JSON")
	}
}

func TestLoad_PartialConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	partialConfig := map[string]interface{}{
		"server": map[string]interface{}{
			"port": 3000,
		},
	}

	data, _ := json.Marshal(partialConfig)
	os.WriteFile(configPath, data, 0644)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000", cfg.Server.Port)
	}
}

func TestLoad_ReadPermissionError(t *testing.T) {
	if os.Getenv("OS") == "Windows_NT" {
		t.Skip("Skipping permission test on Windows")
	}

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	os.WriteFile(configPath, []byte(`{"server":{"port":8080}}`), 0644)

	os.Chmod(configPath, 0000)
	defer os.Chmod(configPath, 0644)

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() should return error for unreadable file")
	}
}

// =============================================================================
// Save Config Tests
// =============================================================================

func TestSave_CreatesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.json")

	cfg := Default()
	cfg.DataDir = tmpDir
	cfg.Server.Port = 9999

	err := cfg.Save(configPath)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("config file was not created")
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read saved config: %v", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("failed to unmarshal saved config: %v", err)
	}

	if loaded.Server.Port != 9999 {
		t.Errorf("saved Server.Port = %d, want 9999", loaded.Server.Port)
	}
}

func TestSave_EmptyPath(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := Default()
	cfg.DataDir = tmpDir

	err := cfg.Save("")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	defaultPath := filepath.Join(tmpDir, "config.json")
	if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
		t.Errorf("config file was not created at default path: %s", defaultPath)
	}
}

func TestSave_DoesNotSaveSecrets(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	cfg := Default()
	cfg.LLM.Anthropic.APIKey = "super-secret-key"
	cfg.Calendar.ClientSecret = "super-secret-oauth"

	err := cfg.Save(configPath)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	data, _ := os.ReadFile(configPath)

	if contains(string(data), "super-secret-key") {
		t.Error("API key should not be saved to file")
	}
	if contains(string(data), "super-secret-oauth") {
		t.Error("client secret should not be saved to file")
	}

	var loaded Config
	json.Unmarshal(data, &loaded)
	if loaded.LLM.Anthropic.APIKey != "" {
		t.Errorf("saved LLM.Anthropic.APIKey = %q, want empty string", loaded.LLM.Anthropic.APIKey)
	}
	if loaded.Calendar.ClientSecret != "" {
		t.Errorf("saved Calendar.ClientSecret = %q, want empty string", loaded.Calendar.ClientSecret)
	}
}

func TestSave_OriginalConfigUnchanged(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	cfg := Default()
	cfg.LLM.Anthropic.APIKey = "my-secret-key"

	err := cfg.Save(configPath)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if cfg.LLM.Anthropic.APIKey != "my-secret-key" {
		t.Errorf("original config API key was modified: got %q", cfg.LLM.Anthropic.APIKey)
	}
}

func TestSave_FilePermissions(t *testing.T) {
	if os.Getenv("OS") == "Windows_NT" {
		t.Skip("Skipping permission test on Windows")
	}

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	cfg := Default()
	cfg.Save(configPath)

	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatalf("failed to stat config file: %v", err)
	}

	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permissions = %o, want 0600", perm)
	}
}

func TestSave_DirectoryPermissions(t *testing.T) {
	if os.Getenv("OS") == "Windows_NT" {
		t.Skip("Skipping permission test on Windows")
	}

	tmpDir := t.TempDir()
	subDir := filepath.Join(tmpDir, "newdir")
	configPath := filepath.Join(subDir, "config.json")

	cfg := Default()
	cfg.Save(configPath)

	info, err := os.Stat(subDir)
	if err != nil {
		t.Fatalf("failed to stat directory: %v", err)
	}

	perm := info.Mode().Perm()
	if perm != 0700 {
		t.Errorf("directory permissions = %o, want 0700", perm)
	}
}

func TestSave_InvalidPath(t *testing.T) {
	cfg := Default()

	err := cfg.Save("/root/cannot/write/here/config.json")
	if err == nil {
		t.Error("Save() should return error for invalid path")
	}
}

func TestSave_PrettyPrints(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	cfg := Default()
	cfg.Save(configPath)

	data, _ := os.ReadFile(configPath)

	if !contains(string(data), "\n") {
		t.Error("saved config should be pretty-printed with newlines")
	}
	if !contains(string(data), "  ") {
		t.Error("saved config should be indented")
	}
}

// =============================================================================
// Struct Tests
// =============================================================================

func TestServerConfig_JSONTags(t *testing.T) {
	cfg := ServerConfig{
		Port: 8080,
		Host: "localhost",
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	if !contains(string(data), `"port"`) {
		t.Error("JSON should contain 'port' field")
	}
	if !contains(string(data), `"host"`) {
		t.Error("JSON should contain 'host' field")
	}
}

func TestNegotiationConfig_JSONTags(t *testing.T) {
	cfg := NegotiationConfig{
		MaxRounds:         5,
		DeadlockThreshold: 2,
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	if !contains(string(data), `"max_rounds"`) {
		t.Error("JSON should contain 'max_rounds' field")
	}
	if !contains(string(data), `"deadlock_threshold"`) {
		t.Error("JSON should contain 'deadlock_threshold' field")
	}
}

func TestConfig_JSONRoundTrip(t *testing.T) {
	original := &Config{
		DataDir: "/test/data",
		Server: ServerConfig{
			Port: 3000,
			Host: "0.0.0.0",
		},
		LLM: LLMConfig{
			Anthropic: AnthropicLLM{
				Model: "claude-3-opus",
			},
		},
		Negotiation: NegotiationConfig{
			MaxRounds:         5,
			DeadlockThreshold: 2,
		},
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if loaded.DataDir != original.DataDir {
		t.Errorf("DataDir = %q, want %q", loaded.DataDir, original.DataDir)
	}
	if loaded.Server.Port != original.Server.Port {
		t.Errorf("Server.Port = %d, want %d", loaded.Server.Port, original.Server.Port)
	}
	if loaded.LLM.Anthropic.Model != original.LLM.Anthropic.Model {
		t.Errorf("LLM.Anthropic.Model = %q, want %q", loaded.LLM.Anthropic.Model, original.LLM.Anthropic.Model)
	}
}

// =============================================================================
// Integration Tests
// =============================================================================

func TestLoadAndSave_RoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	original := Default()
	original.DataDir = tmpDir
	original.Server.Port = 5000
	original.Negotiation.MaxRounds = 4

	if err := original.Save(configPath); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loaded.Server.Port != original.Server.Port {
		t.Errorf("loaded Server.Port = %d, want %d", loaded.Server.Port, original.Server.Port)
	}
	if loaded.Negotiation.MaxRounds != original.Negotiation.MaxRounds {
		t.Errorf("loaded Negotiation.MaxRounds = %d, want %d", loaded.Negotiation.MaxRounds, original.Negotiation.MaxRounds)
	}
}

// =============================================================================
// Benchmark Tests
// =============================================================================

func BenchmarkDefault(b *testing.B) {
	for i := 0; i < b.N; i++ {
		Default()
	}
}

func BenchmarkLoad_NonExistent(b *testing.B) {
	for i := 0; i < b.N; i++ {
		Load("/non/existent/path")
	}
}

func BenchmarkLoad_ExistingFile(b *testing.B) {
	tmpDir := b.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	cfg := Default()
	cfg.Save(configPath)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Load(configPath)
	}
}

func BenchmarkSave(b *testing.B) {
	tmpDir := b.TempDir()

	cfg := Default()
	cfg.DataDir = tmpDir

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		configPath := filepath.Join(tmpDir, "config.json")
		cfg.Save(configPath)
	}
}

func BenchmarkConfig_Marshal(b *testing.B) {
	cfg := Default()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		json.Marshal(cfg)
	}
}

func BenchmarkConfig_Unmarshal(b *testing.B) {
	cfg := Default()
	data, _ := json.Marshal(cfg)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var loaded Config
		json.Unmarshal(data, &loaded)
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(s) > 0 && containsHelper(s, substr))
}

func containsHelper(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
