package annotate

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

type (
	// SourceFile is one entry of the report's source file table. Code
	// maps requested line numbers to their text; lines whose file could
	// not be located under the search directories stay absent.
	SourceFile struct {
		ID   int
		Path string
		Code map[int]string

		requested map[int]struct{}
	}

	// SourceFileSet deduplicates source files and assigns their table
	// ids.
	SourceFileSet struct {
		dirs   []string
		byPath map[string]*SourceFile
		order  []*SourceFile

		index map[string][]string // base name -> on-disk candidates
	}
)

func NewSourceFileSet(dirs []string) *SourceFileSet {
	return &SourceFileSet{
		dirs:   dirs,
		byPath: make(map[string]*SourceFile),
	}
}

// Request records that a line of a file is annotated and returns the
// file's table id.
func (s *SourceFileSet) Request(path string, line int) int {
	file, ok := s.byPath[path]
	if !ok {
		file = &SourceFile{
			ID:        len(s.order),
			Path:      path,
			Code:      make(map[int]string),
			requested: make(map[int]struct{}),
		}
		s.byPath[path] = file
		s.order = append(s.order, file)
	}
	file.requested[line] = struct{}{}
	return file.ID
}

// Ordered returns the files in table id order.
func (s *SourceFileSet) Ordered() []*SourceFile {
	return s.order
}

// LoadSourceCode fills the text of every requested line by locating each
// file under the search directories. Files that cannot be found keep an
// empty code map; this is an omission, not an error.
func (s *SourceFileSet) LoadSourceCode() {
	if len(s.dirs) == 0 || len(s.order) == 0 {
		return
	}
	if s.index == nil {
		s.buildIndex()
	}
	for _, file := range s.order {
		real, ok := s.locate(file.Path)
		if !ok {
			continue
		}
		data, err := os.ReadFile(real)
		if err != nil {
			continue
		}
		lines := strings.Split(string(data), "\n")
		for line := range file.requested {
			if line >= 1 && line <= len(lines) {
				file.Code[line] = lines[line-1]
			}
		}
	}
}

func (s *SourceFileSet) buildIndex() {
	s.index = make(map[string][]string)
	for _, dir := range s.dirs {
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			base := filepath.Base(path)
			s.index[base] = append(s.index[base], path)
			return nil
		})
	}
}

// locate picks the indexed file sharing the longest path suffix with the
// recorded path, so debug info referring to foreign build trees still
// finds the right file by its trailing components.
func (s *SourceFileSet) locate(path string) (string, bool) {
	candidates := s.index[filepath.Base(path)]
	if len(candidates) == 0 {
		return "", false
	}
	best := ""
	bestLen := -1
	for _, candidate := range candidates {
		n := commonSuffixComponents(path, candidate)
		if n > bestLen {
			best = candidate
			bestLen = n
		}
	}
	return best, true
}

func commonSuffixComponents(a, b string) int {
	as := strings.Split(filepath.ToSlash(a), "/")
	bs := strings.Split(filepath.ToSlash(b), "/")
	n := 0
	for n < len(as) && n < len(bs) {
		if as[len(as)-1-n] != bs[len(bs)-1-n] {
			break
		}
		n++
	}
	return n
}
