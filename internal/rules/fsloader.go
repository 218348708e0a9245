// Package rules reads Sigma rule files from disk.
package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/opensearch-project/security-analytics-sub005/ruleengine/rule"
)

// File is the outcome of loading one YAML file. Err is set when the file
// could not be read or one of its documents failed to load.
type File struct {
	Path string
	// Digest is the hex SHA-256 of the file content.
	Digest string
	Rules  []*rule.Rule
	Err    error
}

func isYAML(p string) bool {
	l := strings.ToLower(p)
	return strings.HasSuffix(l, ".yml") || strings.HasSuffix(l, ".yaml")
}

// CollectFiles expands paths into a sorted list of YAML files. Directories
// are walked recursively; files are taken as given.
func CollectFiles(paths ...string) ([]string, error) {
	var out []string
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, root)
			continue
		}
		err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !isYAML(p) {
				return nil
			}
			out = append(out, p)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
	}
	sort.Strings(out)
	return out, nil
}

// LoadPaths loads every YAML file under paths. A bad file is reported on its
// File entry and does not stop the others.
func LoadPaths(loader *rule.Loader, paths ...string) ([]File, error) {
	files, err := CollectFiles(paths...)
	if err != nil {
		return nil, err
	}
	out := make([]File, 0, len(files))
	for _, p := range files {
		f := File{Path: p}
		b, err := os.ReadFile(p)
		if err != nil {
			f.Err = err
			out = append(out, f)
			continue
		}
		sum := sha256.Sum256(b)
		f.Digest = hex.EncodeToString(sum[:])
		if f.Rules, err = loader.AllFromYAML(b); err != nil {
			f.Err = err
		}
		out = append(out, f)
	}
	return out, nil
}

// LoadDirRecursive loads every rule under root and fails on the first bad
// file.
func LoadDirRecursive(loader *rule.Loader, root string) ([]*rule.Rule, error) {
	files, err := LoadPaths(loader, root)
	if err != nil {
		return nil, err
	}
	var out []*rule.Rule
	for _, f := range files {
		if f.Err != nil {
			return nil, fmt.Errorf("%s: %w", f.Path, f.Err)
		}
		out = append(out, f.Rules...)
	}
	return out, nil
}
