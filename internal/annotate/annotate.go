package annotate

import (
	"sort"

	"github.com/perfreport/perfreport/internal/aggregate"
)

type (
	// Line is a resolved source position.
	Line struct {
		Path string
		Line int
	}

	// LineResolver maps an instruction address within a library to a
	// source position. A miss is an omission, never an error.
	LineResolver interface {
		SourceLine(libID int, addr uint64) (Line, bool)
	}

	// Instruction is one line of disassembly.
	Instruction struct {
		Text string
		Addr uint64
	}

	// Disassembler returns the disassembly of a function when the
	// required binary artifacts are available.
	Disassembler interface {
		Disassemble(libID, funcID int) ([]Instruction, bool)
	}

	// SourceAnnotation carries the event counts accumulated at one source
	// line. Counts from different addresses resolving to the same line
	// are summed.
	SourceAnnotation struct {
		FileID  int
		Line    int
		Self    uint64
		Subtree uint64
	}

	libAddr struct {
		libID int
		addr  uint64
	}

	cachedLine struct {
		line Line
		ok   bool
	}

	// Annotator owns the annotation state of one report run: the
	// resolvers, the per (library, address) resolution cache, the source
	// file table and the deobfuscation mapping. It is created at pipeline
	// start and discarded with the run.
	Annotator struct {
		lines  LineResolver
		disasm Disassembler
		deob   *Deobfuscation
		files  *SourceFileSet
		cache  map[libAddr]cachedLine
	}
)

// New builds an annotator. Either resolver may be nil, in which case the
// corresponding annotations are omitted.
func New(lines LineResolver, disasm Disassembler, deob *Deobfuscation, sourceDirs []string) *Annotator {
	return &Annotator{
		lines:  lines,
		disasm: disasm,
		deob:   deob,
		files:  NewSourceFileSet(sourceDirs),
		cache:  make(map[libAddr]cachedLine),
	}
}

// DisplayName applies the deobfuscation mapping to a raw function name.
// Names without a mapping entry pass through unchanged. The substitution
// is display-only; identity keys are never rewritten.
func (a *Annotator) DisplayName(raw string) string {
	if a.deob == nil {
		return raw
	}
	return a.deob.Apply(raw)
}

// SourceAnnotations resolves the function's per-address counts to source
// lines, summing counts of addresses that share a line. Unresolvable
// addresses are skipped.
func (a *Annotator) SourceAnnotations(libID int, stats *aggregate.FuncStats) []SourceAnnotation {
	if a.lines == nil || len(stats.Addrs) == 0 {
		return nil
	}
	type fileLine struct {
		fileID int
		line   int
	}
	merged := make(map[fileLine]*SourceAnnotation)
	for addr, counts := range stats.Addrs {
		line, ok := a.resolveLine(libID, addr)
		if !ok {
			continue
		}
		fileID := a.files.Request(line.Path, line.Line)
		key := fileLine{fileID, line.Line}
		ann, ok := merged[key]
		if !ok {
			ann = &SourceAnnotation{FileID: fileID, Line: line.Line}
			merged[key] = ann
		}
		ann.Self += counts.Self
		ann.Subtree += counts.Subtree
	}
	annotations := make([]SourceAnnotation, 0, len(merged))
	for _, ann := range merged {
		annotations = append(annotations, *ann)
	}
	sort.Slice(annotations, func(i, j int) bool {
		if annotations[i].FileID != annotations[j].FileID {
			return annotations[i].FileID < annotations[j].FileID
		}
		return annotations[i].Line < annotations[j].Line
	})
	return annotations
}

func (a *Annotator) resolveLine(libID int, addr uint64) (Line, bool) {
	key := libAddr{libID, addr}
	if cached, ok := a.cache[key]; ok {
		return cached.line, cached.ok
	}
	line, ok := a.lines.SourceLine(libID, addr)
	a.cache[key] = cachedLine{line, ok}
	return line, ok
}

// Disassembly returns the function's disassembly, or ok=false when no
// disassembler is configured or the binary artifacts are missing.
func (a *Annotator) Disassembly(libID, funcID int) ([]Instruction, bool) {
	if a.disasm == nil {
		return nil, false
	}
	return a.disasm.Disassemble(libID, funcID)
}

// SourceFiles returns the source file table accumulated by annotation, in
// file id order, with line text loaded from the configured source
// directories.
func (a *Annotator) SourceFiles() []*SourceFile {
	a.files.LoadSourceCode()
	return a.files.Ordered()
}
