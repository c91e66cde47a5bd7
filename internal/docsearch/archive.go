package docsearch

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// DefaultArchiveURL is the documentation source used when no local corpus is set.
const DefaultArchiveURL = "https://github.com/jlowin/fastmcp/archive/refs/heads/main.zip"

// Source locates the corpus: a local directory, or a zip archive that is
// downloaded into CacheDir and extracted once.
type Source struct {
	CorpusPath string
	ArchiveURL string
	CacheDir   string
	Options    CorpusOptions
}

// Loader produces the documents to index.
type Loader func(ctx context.Context) ([]Document, error)

// NewLoader returns a Loader for src.
func NewLoader(src Source, client *http.Client, logger *zap.Logger) Loader {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context) ([]Document, error) {
		root := src.CorpusPath
		if root == "" {
			var err error
			root, err = ensureArchive(ctx, client, src, logger)
			if err != nil {
				return nil, err
			}
		}
		docs, err := LoadDir(root, src.Options)
		if err != nil {
			return nil, err
		}
		logger.Info("doc corpus loaded", zap.String("root", root), zap.Int("documents", len(docs)))
		return docs, nil
	}
}

// ensureArchive downloads and extracts the archive unless both already exist
// in the cache, and returns the directory to index.
func ensureArchive(ctx context.Context, client *http.Client, src Source, logger *zap.Logger) (string, error) {
	archiveURL := src.ArchiveURL
	if archiveURL == "" {
		archiveURL = DefaultArchiveURL
	}
	cacheDir := src.CacheDir
	if cacheDir == "" {
		cacheDir = ".cache"
	}
	name := archiveName(archiveURL)
	zipPath := filepath.Join(cacheDir, name+".zip")
	extractDir := filepath.Join(cacheDir, name)

	if _, err := os.Stat(extractDir); err == nil {
		return corpusRoot(extractDir)
	}
	if _, err := os.Stat(zipPath); err != nil {
		logger.Info("downloading doc archive", zap.String("url", archiveURL), zap.String("path", zipPath))
		if err := download(ctx, client, archiveURL, zipPath); err != nil {
			return "", err
		}
	}
	logger.Info("extracting doc archive", zap.String("path", zipPath), zap.String("dir", extractDir))
	if err := extract(zipPath, extractDir); err != nil {
		return "", err
	}
	return corpusRoot(extractDir)
}

// archiveName derives a stable cache name from the archive URL, e.g.
// ".../jlowin/fastmcp/archive/refs/heads/main.zip" -> "fastmcp-main".
func archiveName(archiveURL string) string {
	trimmed := strings.TrimSuffix(archiveURL, "/")
	base := strings.TrimSuffix(path.Base(trimmed), ".zip")
	if i := strings.Index(trimmed, "/archive/"); i > 0 {
		repo := path.Base(trimmed[:i])
		return repo + "-" + base
	}
	if base == "" || base == "." || base == "/" {
		return "corpus"
	}
	return base
}

func download(ctx context.Context, client *http.Client, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build archive request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %d", url, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("write archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	return os.Rename(tmp.Name(), dest)
}

// extract unpacks zipPath into dest. Entries escaping dest are rejected.
func extract(zipPath, dest string) error {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", zipPath, err)
	}
	defer zr.Close()

	staging := dest + ".partial"
	if err := os.RemoveAll(staging); err != nil {
		return err
	}
	for _, f := range zr.File {
		if err := extractFile(f, staging); err != nil {
			os.RemoveAll(staging)
			return err
		}
	}
	return os.Rename(staging, dest)
}

func extractFile(f *zip.File, dest string) error {
	target := filepath.Join(dest, filepath.FromSlash(f.Name))
	if target != dest && !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
		return fmt.Errorf("archive entry %q escapes extraction dir", f.Name)
	}
	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if !f.Mode().IsRegular() {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open archive entry %s: %w", f.Name, err)
	}
	defer rc.Close()
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	return out.Close()
}

// corpusRoot descends into the single top-level directory GitHub archives wrap
// their contents in.
func corpusRoot(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read corpus dir: %w", err)
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dir, entries[0].Name()), nil
	}
	return dir, nil
}
