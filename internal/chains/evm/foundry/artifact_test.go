package foundry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spellMetadata() map[string]any {
	return map[string]any{
		"compiler": map[string]any{"version": "0.8.16+commit.07a7930e"},
		"settings": map[string]any{
			"compilationTarget": map[string]any{"src/DssSpell.sol": "DssSpell"},
			"evmVersion":        "london",
			"optimizer":         map[string]any{"enabled": true, "runs": 200},
		},
		"sources": map[string]any{
			"src/DssSpell.sol":                 map[string]any{"license": "AGPL-3.0-or-later"},
			"lib/dss-exec-lib/src/DssExec.sol": map[string]any{"license": "AGPL-3.0-or-later"},
		},
	}
}

func writeArtifact(t *testing.T, dir, source, contract string, artifact map[string]any) string {
	t.Helper()
	p := NewProject(dir)
	path := p.ArtifactPath(source, contract)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	data, err := json.Marshal(artifact)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestReadContractMetadata(t *testing.T) {
	t.Run("metadata object", func(t *testing.T) {
		dir := t.TempDir()
		path := writeArtifact(t, dir, "src/DssSpell.sol", "DssSpell", map[string]any{
			"metadata": spellMetadata(),
		})

		meta, err := ReadContractMetadata(path, "src/DssSpell.sol")
		require.NoError(t, err)
		assert.Equal(t, Metadata{
			CompilerVersion:  "v0.8.16+commit.07a7930e",
			EVMVersion:       "london",
			OptimizerEnabled: true,
			OptimizerRuns:    200,
			LicenseName:      "AGPL-3.0-or-later",
		}, meta)
	})

	t.Run("raw metadata only", func(t *testing.T) {
		dir := t.TempDir()
		raw, err := json.Marshal(spellMetadata())
		require.NoError(t, err)
		path := writeArtifact(t, dir, "src/DssSpell.sol", "DssSpellAction", map[string]any{
			"rawMetadata": string(raw),
		})

		meta, err := ReadContractMetadata(path, "src/DssSpell.sol")
		require.NoError(t, err)
		assert.Equal(t, "london", meta.EVMVersion)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := ReadContractMetadata(filepath.Join(t.TempDir(), "nope.json"), "src/DssSpell.sol")
		assert.ErrorIs(t, err, ErrArtifactNotFound)
	})

	t.Run("malformed json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

		_, err := ReadContractMetadata(path, "src/DssSpell.sol")
		assert.ErrorIs(t, err, ErrArtifactMalformed)
		assert.NotErrorIs(t, err, ErrArtifactNotFound)
	})

	t.Run("source not in metadata", func(t *testing.T) {
		dir := t.TempDir()
		path := writeArtifact(t, dir, "src/DssSpell.sol", "DssSpell", map[string]any{
			"metadata": spellMetadata(),
		})

		_, err := ReadContractMetadata(path, "src/Other.sol")
		assert.ErrorIs(t, err, ErrMetadataField)
	})

	t.Run("missing optimizer", func(t *testing.T) {
		dir := t.TempDir()
		md := spellMetadata()
		delete(md["settings"].(map[string]any), "optimizer")
		path := writeArtifact(t, dir, "src/DssSpell.sol", "DssSpell", map[string]any{"metadata": md})

		_, err := ReadContractMetadata(path, "src/DssSpell.sol")
		assert.ErrorIs(t, err, ErrMetadataField)
	})
}

func TestArtifact_HasLinkReferences(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir, "src/DssSpell.sol", "DssSpell", map[string]any{
		"bytecode": map[string]any{
			"object": "0x60806040",
			"linkReferences": map[string]any{
				"src/DssExecLib.sol": map[string]any{
					"DssExecLib": []map[string]any{{"start": 10, "length": 20}},
				},
			},
		},
		"metadata": spellMetadata(),
	})

	a, err := ReadArtifact(path)
	require.NoError(t, err)
	assert.True(t, a.HasLinkReferences())
}

func TestProject_Paths(t *testing.T) {
	p := NewProject("/work/spells")

	assert.Equal(t, "src/DssSpell.sol", p.SourcePath("DssSpell"))
	assert.Equal(t, filepath.Join("/work/spells", "out", "DssSpell.sol", "DssSpellAction.json"),
		p.ArtifactPath("src/DssSpell.sol", "DssSpellAction"))
	assert.Equal(t, filepath.Join("/work/spells", "foundry.toml"), p.ConfigFile())
}

func TestProject_Detect(t *testing.T) {
	t.Run("with foundry.toml", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "foundry.toml"), []byte("[profile.default]"), 0o644))

		detected, err := NewProject(dir).Detect()
		require.NoError(t, err)
		assert.True(t, detected)
	})

	t.Run("without foundry.toml", func(t *testing.T) {
		detected, err := NewProject(t.TempDir()).Detect()
		require.NoError(t, err)
		assert.False(t, detected)
	})
}
