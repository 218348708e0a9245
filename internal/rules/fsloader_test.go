package rules

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensearch-project/security-analytics-sub005/ruleengine"
	"github.com/opensearch-project/security-analytics-sub005/ruleengine/rule"
)

const goodRule = `
title: Whoami
id: 8a0c1c5e-6f1d-4f0a-9b36-1c3c6f1c0d11
logsource:
  category: process_creation
  product: windows
detection:
  selection:
    Image|endswith: '\whoami.exe'
  condition: selection
`

const badRule = `
title: Broken
logsource:
  product: windows
detection:
  selection:
    Image|bogus: x
  condition: selection
`

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, body := range files {
		p := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	}
	return root
}

func TestCollectFiles(t *testing.T) {
	root := writeTree(t, map[string]string{
		"b/two.yaml":  goodRule,
		"a/one.yml":   goodRule,
		"a/notes.txt": "ignored",
		"UPPER.YML":   goodRule,
	})
	files, err := CollectFiles(root)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "UPPER.YML"),
		filepath.Join(root, "a", "one.yml"),
		filepath.Join(root, "b", "two.yaml"),
	}, files)

	single, err := CollectFiles(filepath.Join(root, "a", "notes.txt"))
	require.NoError(t, err)
	assert.Len(t, single, 1)

	_, err = CollectFiles(filepath.Join(root, "missing"))
	assert.Error(t, err)
}

func TestLoadPaths(t *testing.T) {
	root := writeTree(t, map[string]string{
		"good.yml":  goodRule,
		"multi.yml": goodRule + "\n---\n" + goodRule,
		"bad.yml":   badRule,
	})
	files, err := LoadPaths(rule.NewLoader(), root)
	require.NoError(t, err)
	require.Len(t, files, 3)

	assert.Equal(t, filepath.Join(root, "bad.yml"), files[0].Path)
	require.Error(t, files[0].Err)
	assert.True(t, errors.Is(files[0].Err, ruleengine.ErrModifier))

	assert.NoError(t, files[1].Err)
	assert.Len(t, files[1].Rules, 1)
	assert.Len(t, files[2].Rules, 2)

	assert.Len(t, files[1].Digest, 64)
	assert.NotEqual(t, files[1].Digest, files[2].Digest)
}

func TestLoadPathsCollecting(t *testing.T) {
	root := writeTree(t, map[string]string{"bad.yml": badRule})
	files, err := LoadPaths(rule.NewLoader().WithCollectErrors(true), root)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.NoError(t, files[0].Err)
	require.Len(t, files[0].Rules, 1)
	assert.NotEmpty(t, files[0].Rules[0].Errors)
}

func TestLoadDirRecursive(t *testing.T) {
	root := writeTree(t, map[string]string{"x/good.yml": goodRule})
	rules, err := LoadDirRecursive(rule.NewLoader(), root)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "Whoami", rules[0].Title)

	root = writeTree(t, map[string]string{"good.yml": goodRule, "bad.yml": badRule})
	_, err = LoadDirRecursive(rule.NewLoader(), root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.yml")
}
