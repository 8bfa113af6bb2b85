package review

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// ReportName is the file written into the reviewed project.
const ReportName = "TEST_ANALYSIS_REPORT.md"

var sourceExtensions = map[string]bool{
	"html": true, "css": true, "js": true, "json": true, "md": true,
	"py": true, "java": true, "cpp": true, "c": true, "ts": true,
	"jsx": true, "tsx": true, "go": true,
}

var skipDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"dist":         true,
	"build":        true,
}

// File is a source file found in a project.
type File struct {
	Path      string // relative to the project root, slash separated
	Extension string // without the dot
	Size      int64
}

// Scan walks dir and returns the reviewable source files sorted by path.
// The report from an earlier review is not included.
func Scan(dir string) ([]File, error) {
	var files []File
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || d.Name() == ReportName {
			return nil
		}
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(d.Name()), "."))
		if !sourceExtensions[ext] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, File{Path: filepath.ToSlash(rel), Extension: ext, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}
