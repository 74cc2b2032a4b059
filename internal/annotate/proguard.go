package annotate

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/perfreport/perfreport/internal/errorutil"
)

// Deobfuscation restores original symbol names from a proguard-style
// mapping. The mapping only affects display names; absent entries leave
// names untouched.
type Deobfuscation struct {
	classes map[string]string
	methods map[string]string
}

// ReadProguardMapping loads a proguard mapping file:
//
//	original.class.Name -> a.b.c:
//	    12:13:void originalMethod(int) -> a
//
// A file that cannot be opened is a configuration error; individual lines
// that are not class or member mappings are ignored like proguard's own
// tooling does.
func ReadProguardMapping(path string) (*Deobfuscation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("annotate: %w: %v", errorutil.ErrConfiguration, err)
	}
	defer f.Close()
	return ParseProguardMapping(f)
}

func ParseProguardMapping(r io.Reader) (*Deobfuscation, error) {
	d := Deobfuscation{
		classes: make(map[string]string),
		methods: make(map[string]string),
	}
	var obfClass, origClass string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		indented := line[0] == ' ' || line[0] == '\t'
		trimmed := strings.TrimSpace(line)
		orig, obf, ok := splitMapping(trimmed)
		if !ok {
			continue
		}
		if !indented && strings.HasSuffix(obf, ":") {
			origClass = orig
			obfClass = strings.TrimSuffix(obf, ":")
			d.classes[obfClass] = origClass
			continue
		}
		if obfClass == "" {
			continue
		}
		name := memberName(orig)
		if name == "" {
			continue
		}
		d.methods[obfClass+"."+obf] = origClass + "." + name
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return &d, nil
}

func splitMapping(line string) (orig, obf string, ok bool) {
	idx := strings.Index(line, " -> ")
	if idx < 0 {
		return "", "", false
	}
	return line[:idx], line[idx+len(" -> "):], true
}

// memberName extracts the original member name from a mapping line's left
// side, e.g. "12:13:void startActivityForResult(android.content.Intent,int):55"
// yields "startActivityForResult".
func memberName(orig string) string {
	if i := strings.Index(orig, "("); i >= 0 {
		orig = orig[:i]
	}
	// drop leading line-number ranges
	if i := strings.LastIndex(orig, ":"); i >= 0 {
		orig = orig[i+1:]
	}
	if i := strings.LastIndex(orig, " "); i >= 0 {
		orig = orig[i+1:]
	}
	return orig
}

// Apply maps an obfuscated display name back to its original name. It
// first tries the full name as a method, then rewrites the class prefix
// alone. Unknown names are returned unchanged.
func (d *Deobfuscation) Apply(name string) string {
	base := name
	suffix := ""
	if i := strings.Index(name, "("); i >= 0 {
		base, suffix = name[:i], name[i:]
	}
	if orig, ok := d.methods[base]; ok {
		return orig + suffix
	}
	if i := strings.LastIndex(base, "."); i >= 0 {
		if origClass, ok := d.classes[base[:i]]; ok {
			return origClass + base[i:] + suffix
		}
	}
	if origClass, ok := d.classes[base]; ok {
		return origClass + suffix
	}
	return name
}
