package parser

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// TempSuffix marks a page file that is still being written.
const TempSuffix = ".tmp"

// LocalPageList returns the names of the complete page files present in
// rootDir, so an interrupted chapter download can resume. Files ending in
// TempSuffix are skipped.
// Optionally pass an exclusion list to skip certain file names.
func LocalPageList(rootDir string, exclusionList ...string) ([]string, error) {
	expandedPath, err := ExpandPath(rootDir)
	if err != nil {
		return nil, err
	}

	exclusions := make(map[string]struct{}, len(exclusionList))
	for _, name := range exclusionList {
		exclusions[name] = struct{}{}
	}

	fileList := make([]string, 0)

	entries, err := os.ReadDir(expandedPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fileList, nil
		}
		return nil, err
	}

	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), TempSuffix) {
			continue
		}
		if _, skip := exclusions[entry.Name()]; !skip {
			fileList = append(fileList, entry.Name())
		}
	}

	sort.Strings(fileList)
	return fileList, nil
}

// PageFileName returns the zero padded file name for the page at index.
func PageFileName(index int) string {
	return fmt.Sprintf("%03d.jpg", index+1)
}

// CreateCbzFromDir packs every file in dir, sorted by name, into a CBZ
// archive at cbzPath.
func CreateCbzFromDir(dir, cbzPath string) error {
	files, err := LocalPageList(dir)
	if err != nil {
		return fmt.Errorf("failed to list pages in %s: %w", dir, err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no pages in %s", dir)
	}

	if err := os.MkdirAll(filepath.Dir(cbzPath), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(cbzPath), err)
	}

	out, err := os.Create(cbzPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", cbzPath, err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, name := range files {
		if err := addFileToZip(zw, filepath.Join(dir, name), name); err != nil {
			zw.Close()
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", cbzPath, err)
	}
	return out.Close()
}

func addFileToZip(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	// pages are already compressed
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
	if err != nil {
		return err
	}

	_, err = io.Copy(w, f)
	return err
}

// ExpandPath expands ~ to the user's home directory, or returns the path as-is
func ExpandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(homeDir, path[2:]), nil
	}
	return path, nil
}
