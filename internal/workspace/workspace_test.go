package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automatosx/internal/config"
	"automatosx/internal/errs"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	project := t.TempDir()
	return NewManager(project, zerolog.Nop()), project
}

func TestWriteAndRead(t *testing.T) {
	m, _ := newTestManager(t)

	require.NoError(t, m.WriteFile("PRD/design.md", []byte("# Design\n")))

	data, err := m.ReadFile("PRD/design.md")
	require.NoError(t, err)
	assert.Equal(t, "# Design\n", string(data))
}

func TestWriteCreatesParents(t *testing.T) {
	m, project := newTestManager(t)

	require.NoError(t, m.WriteFile("tmp/run-1/notes.txt", []byte("x")))
	_, err := os.Stat(filepath.Join(project, "automatosx", "tmp", "run-1", "notes.txt"))
	assert.NoError(t, err)
}

func TestPathValidation(t *testing.T) {
	m, _ := newTestManager(t)

	cases := []struct {
		name string
		path string
		code errs.Code
	}{
		{"empty", "", errs.CodePathInvalid},
		{"dot", ".", errs.CodePathInvalid},
		{"absolute", "/etc/passwd", errs.CodePathInvalid},
		{"traversal", "../outside.txt", errs.CodePathTraversal},
		{"nested traversal", "PRD/../../outside.txt", errs.CodePathTraversal},
		{"null byte", "PRD/a\x00b.txt", errs.CodePathInvalid},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := m.WriteFile(tc.path, []byte("x"))
			require.Error(t, err)
			assert.Equal(t, tc.code, errs.CodeOf(err))
		})
	}
}

func TestSymlinkEscapeRejected(t *testing.T) {
	m, project := newTestManager(t)
	outside := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(project, "automatosx"), 0755))
	require.NoError(t, os.Symlink(outside, filepath.Join(project, "automatosx", "link")))

	err := m.WriteFile("link/escape.txt", []byte("x"))
	require.Error(t, err)
	assert.Equal(t, errs.CodePathEscape, errs.CodeOf(err))
}

func TestFileSizeCap(t *testing.T) {
	m, _ := newTestManager(t)

	big := make([]byte, MaxFileSize+1)
	err := m.WriteFile("PRD/big.bin", big)
	require.Error(t, err)
	assert.Equal(t, errs.CodeFileTooLarge, errs.CodeOf(err))
}

func TestReadMissingFile(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.ReadFile("PRD/missing.md")
	require.Error(t, err)
	assert.Equal(t, errs.CodeFileNotFound, errs.CodeOf(err))
}

func TestLegacyReadFallback(t *testing.T) {
	m, project := newTestManager(t)

	legacy := filepath.Join(config.LegacyWorkspacesDir(project), "shared", "sessions", "s1", "outputs", "backend")
	require.NoError(t, os.MkdirAll(legacy, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(legacy, "result.md"), []byte("old output"), 0644))

	data, err := m.ReadFile("shared/sessions/s1/outputs/backend/result.md")
	require.NoError(t, err)
	assert.Equal(t, "old output", string(data))
}

func TestList(t *testing.T) {
	m, _ := newTestManager(t)

	require.NoError(t, m.WriteFile("PRD/a.md", []byte("a")))
	require.NoError(t, m.WriteFile("PRD/b.md", []byte("b")))

	files, err := m.List("PRD")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	root, err := m.List(".")
	require.NoError(t, err)
	require.Len(t, root, 1)
	assert.True(t, root[0].IsDir)
}

func TestDelete(t *testing.T) {
	m, _ := newTestManager(t)

	require.NoError(t, m.WriteFile("tmp/x.txt", []byte("x")))
	require.NoError(t, m.Delete("tmp/x.txt"))

	err := m.Delete("tmp/x.txt")
	assert.Equal(t, errs.CodeFileNotFound, errs.CodeOf(err))
}

func TestStats(t *testing.T) {
	m, _ := newTestManager(t)

	require.NoError(t, m.WriteFile("PRD/design.md", []byte("# Design\n")))
	require.NoError(t, m.WriteFile("PRD/api/routes.md", []byte("routes")))
	require.NoError(t, m.WriteFile("tmp/scratch.txt", []byte("x")))

	stats, err := m.Stats()
	require.NoError(t, err)

	assert.Equal(t, 2, stats[NamespacePRD].Files)
	assert.Equal(t, int64(len("# Design\n")+len("routes")), stats[NamespacePRD].TotalBytes)
	assert.Equal(t, 1, stats[NamespaceTmp].Files)
	assert.Equal(t, int64(1), stats[NamespaceTmp].TotalBytes)
}

func TestStatsEmptyWorkspace(t *testing.T) {
	m, _ := newTestManager(t)

	stats, err := m.Stats()
	require.NoError(t, err)
	assert.Equal(t, NamespaceStats{}, stats[NamespacePRD])
	assert.Equal(t, NamespaceStats{}, stats[NamespaceTmp])
}

func TestCleanupTmp(t *testing.T) {
	m, project := newTestManager(t)

	require.NoError(t, m.WriteFile("tmp/old/stale.txt", []byte("old")))
	require.NoError(t, m.WriteFile("tmp/fresh.txt", []byte("new")))
	require.NoError(t, m.WriteFile("PRD/keep.md", []byte("keep")))

	stale := filepath.Join(project, "automatosx", "tmp", "old", "stale.txt")
	old := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(stale, old, old))

	removed, err := m.CleanupTmp(7)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))

	// Fresh tmp and PRD files survive.
	_, err = m.ReadFile("tmp/fresh.txt")
	assert.NoError(t, err)
	_, err = m.ReadFile("PRD/keep.md")
	assert.NoError(t, err)
}
