package cmd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docchat/internal/config"
	"github.com/Aman-CERP/docchat/internal/preflight"
)

func TestDoctorCmd_OfflinePasses(t *testing.T) {
	// Given: an offline environment
	testEnv(t)

	// When: running doctor
	out, err := runCLI(t, "doctor")

	// Then: no required check fails and both backends are local
	require.NoError(t, err)
	assert.Contains(t, out, "docchat system check")
	assert.Contains(t, out, "[PASS] embedder: static hashing embeddings (offline)")
	assert.Contains(t, out, "[PASS] generator: extractive answers (offline)")
}

func TestDoctorCmd_JSON(t *testing.T) {
	// Given: an offline environment
	dataDir := testEnv(t)

	// When: running doctor with --json
	out, err := runCLI(t, "doctor", "--json")

	// Then: the report lists every check
	require.NoError(t, err)
	var report doctorReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, dataDir, report.DataDir)
	assert.NotEqual(t, "failed", report.Status)

	names := make([]string, 0, len(report.Results))
	for _, c := range report.Results {
		names = append(names, c.Name)
	}
	assert.Subset(t, names, []string{"disk_space", "write_permissions", "embedder", "generator"})
}

func TestGeneratorProbe_OpenAIWithoutKey(t *testing.T) {
	// Given: the OpenAI provider at its default endpoint without a key
	cfg := config.NewConfig()
	cfg.LLM.Provider = "openai"
	cfg.LLM.APIKey = ""

	// When: probing
	result := preflight.RunProbe(t.Context(), generatorProbe(cfg))

	// Then: it is a critical failure
	assert.True(t, result.IsCritical())
	assert.Contains(t, result.Message, "API key")
}

func TestGeneratorProbe_OllamaUnreachable(t *testing.T) {
	// Given: Ollama on a port nothing listens on
	cfg := config.NewConfig()
	cfg.LLM.Provider = "ollama"
	cfg.LLM.Host = "http://127.0.0.1:1"

	// When: probing
	result := preflight.RunProbe(t.Context(), generatorProbe(cfg))

	// Then: it is a critical failure
	assert.Equal(t, preflight.StatusFail, result.Status)
	assert.Contains(t, result.Message, "unreachable")
}
