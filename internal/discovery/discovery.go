// Package discovery enumerates database init scripts from a directory.
//
// Only filename ordering is guaranteed: scripts run in ascending
// lexicographic order, so dependent DDL must sort after what it depends on
// (the usual 01_, 02_ prefix convention).
package discovery

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// Error reports a script directory that could not be read.
type Error struct {
	Dir string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("reading script directory %s: %v", e.Dir, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Script is one discovered init script. Name is the ordering key.
type Script struct {
	Name string
	Path string
}

// recognizedExts mirrors the stock image entrypoint: .sql is fed to the
// engine, .sh is executed by the shell. Everything else is ignored.
var recognizedExts = map[string]bool{
	".sql": true,
	".sh":  true,
}

// Scanner discovers scripts in a fixed directory on a given filesystem.
type Scanner struct {
	fs  afero.Fs
	dir string
}

// NewScanner returns a Scanner over dir. Pass afero.NewOsFs() in production;
// tests inject an in-memory filesystem.
func NewScanner(fsys afero.Fs, dir string) *Scanner {
	return &Scanner{fs: fsys, dir: dir}
}

// Dir returns the scanned directory path.
func (s *Scanner) Dir() string { return s.dir }

// Discover re-reads the directory and returns recognized scripts in ascending
// lexicographic filename order. An empty directory yields an empty slice; a
// missing or unreadable directory yields an *Error.
func (s *Scanner) Discover() ([]Script, error) {
	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, &Error{Dir: s.dir, Err: err}
	}

	scripts := make([]Script, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		if !recognizedExts[strings.ToLower(filepath.Ext(info.Name()))] {
			continue
		}
		scripts = append(scripts, Script{
			Name: info.Name(),
			Path: filepath.Join(s.dir, info.Name()),
		})
	}

	sort.Slice(scripts, func(i, j int) bool { return scripts[i].Name < scripts[j].Name })
	return scripts, nil
}
