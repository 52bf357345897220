package export

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krazyjakee/agentsdb/pkg/layer"
)

func TestImportRoundTripsExportedBundleIntoNewLayer(t *testing.T) {
	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "AGENTS.user.db")
	writeExportFixture(t, srcPath)

	_, body, err := SingleLayer(LayerInput{AbsPath: srcPath, RelPath: "AGENTS.user.db"}, Options{Format: "json"})
	require.NoError(t, err)

	dstDir := t.TempDir()
	dstPath := filepath.Join(dstDir, "AGENTS.user.db")

	outcome, err := Import(ImportRequest{
		Ctx: context.Background(), AbsPath: dstPath, Scope: "user", Data: body, PreserveIDs: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Imported)
	assert.False(t, outcome.DryRun)

	lf, err := layer.Open(dstPath)
	require.NoError(t, err)
	defer lf.Close()
	chunks, err := lf.AllChunks()
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello", chunks[0].Content)
	assert.Equal(t, layer.ChunkID(1), chunks[0].ID)
}

func TestImportDryRunDoesNotWrite(t *testing.T) {
	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "AGENTS.user.db")
	writeExportFixture(t, srcPath)
	_, body, err := SingleLayer(LayerInput{AbsPath: srcPath, RelPath: "AGENTS.user.db"}, Options{Format: "json"})
	require.NoError(t, err)

	dstDir := t.TempDir()
	dstPath := filepath.Join(dstDir, "AGENTS.user.db")

	outcome, err := Import(ImportRequest{Ctx: context.Background(), AbsPath: dstPath, Scope: "user", Data: body, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Imported)
	assert.True(t, outcome.DryRun)

	_, statErr := layer.Open(dstPath)
	require.Error(t, statErr)
}

func TestImportRejectsRedactedAllContent(t *testing.T) {
	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "AGENTS.user.db")
	writeExportFixture(t, srcPath)
	_, body, err := SingleLayer(LayerInput{AbsPath: srcPath, RelPath: "AGENTS.user.db"}, Options{Format: "json", Redact: RedactAll})
	require.NoError(t, err)

	dstDir := t.TempDir()
	dstPath := filepath.Join(dstDir, "AGENTS.user.db")

	_, err = Import(ImportRequest{Ctx: context.Background(), AbsPath: dstPath, Scope: "user", Data: body})
	require.Error(t, err)
}

func TestImportDedupeSkipsDuplicateContent(t *testing.T) {
	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "AGENTS.user.db")
	writeExportFixture(t, srcPath)
	_, body, err := SingleLayer(LayerInput{AbsPath: srcPath, RelPath: "AGENTS.user.db"}, Options{Format: "json"})
	require.NoError(t, err)

	dstDir := t.TempDir()
	dstPath := filepath.Join(dstDir, "AGENTS.user.db")
	writeExportFixture(t, dstPath)

	outcome, err := Import(ImportRequest{
		Ctx: context.Background(), AbsPath: dstPath, Scope: "user", Data: body, Dedupe: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.Imported)
	assert.Equal(t, 1, outcome.Skipped)
}

func TestImportRejectsWrongScopeFileName(t *testing.T) {
	dstDir := t.TempDir()
	dstPath := filepath.Join(dstDir, "AGENTS.user.db")
	_, err := Import(ImportRequest{Ctx: context.Background(), AbsPath: dstPath, Scope: "delta", Data: []byte(`{"format":"x","tool":{"name":"t","version":"1"},"layers":[]}`)})
	require.Error(t, err)
}

func TestImportRefusesBaseWithoutAllowBase(t *testing.T) {
	dstDir := t.TempDir()
	dstPath := filepath.Join(dstDir, "AGENTS.db")
	_, err := Import(ImportRequest{Ctx: context.Background(), AbsPath: dstPath, Scope: "base", Data: []byte(`{}`)})
	require.Error(t, err)
}
