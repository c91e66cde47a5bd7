// Package docsearch builds a lexical TF-IDF index over a directory of
// markdown documents and answers ranked queries against it.
package docsearch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// DefaultExtensions are the file types indexed when none are configured.
var DefaultExtensions = []string{".md", ".mdx"}

// Document is one indexed file. Filename is relative to the corpus root and
// always uses forward slashes.
type Document struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// CorpusOptions filters which files under the root become documents.
type CorpusOptions struct {
	Extensions []string
	// Exclude holds gitignore-style patterns matched against the relative path.
	Exclude []string
}

// LoadDir reads every matching file under root. Any path with a segment
// starting with "_" is skipped.
func LoadDir(root string, opts CorpusOptions) ([]Document, error) {
	files, err := discoverCorpusFiles(root, opts)
	if err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(files))
	for _, rel := range files {
		raw, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			return nil, fmt.Errorf("read corpus file %s: %w", rel, err)
		}
		docs = append(docs, Document{Filename: rel, Content: string(raw)})
	}
	return docs, nil
}

func discoverCorpusFiles(root string, opts CorpusOptions) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("open corpus %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("corpus %s is not a directory", root)
	}

	exts := opts.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	allowed := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = struct{}{}
	}
	var excluder *ignore.GitIgnore
	if len(opts.Exclude) > 0 {
		excluder = ignore.CompileIgnoreLines(opts.Exclude...)
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if strings.HasPrefix(d.Name(), "_") || (excluder != nil && excluder.MatchesPath(rel)) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := allowed[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
