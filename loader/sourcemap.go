package loader

// SourceFile is one loaded file: its canonical path and retained contents.
// Contents are kept for the lifetime of the source map so diagnostics can
// quote the offending lines.
type SourceFile struct {
	ID       int
	Path     string
	Contents []byte
}

// SourceMap is a dense mapping from file id to (path, contents), assigned in
// load order. Downstream diagnostics use it to translate byte offsets back to
// file, line and column.
type SourceMap struct {
	files  []SourceFile
	byPath map[string]int
}

// NewSourceMap creates an empty source map.
func NewSourceMap() *SourceMap {
	return &SourceMap{byPath: make(map[string]int)}
}

// Add registers a file's contents and returns its id. Registering the same
// path again returns the existing id.
func (m *SourceMap) Add(path string, contents []byte) int {
	if id, ok := m.byPath[path]; ok {
		return id
	}
	id := len(m.files)
	m.files = append(m.files, SourceFile{ID: id, Path: path, Contents: contents})
	m.byPath[path] = id
	return id
}

// Get returns the file registered under id.
func (m *SourceMap) Get(id int) (SourceFile, bool) {
	if id < 0 || id >= len(m.files) {
		return SourceFile{}, false
	}
	return m.files[id], true
}

// Lookup returns the file registered under a canonical path.
func (m *SourceMap) Lookup(path string) (SourceFile, bool) {
	id, ok := m.byPath[path]
	if !ok {
		return SourceFile{}, false
	}
	return m.files[id], true
}

// Len returns the number of registered files.
func (m *SourceMap) Len() int {
	return len(m.files)
}

// Files returns every registered file in load order.
func (m *SourceMap) Files() []SourceFile {
	return m.files
}

// LineColumn translates a byte offset in the given file to a 1-indexed line
// and column.
func (m *SourceMap) LineColumn(id, offset int) (line, column int, ok bool) {
	file, found := m.Get(id)
	if !found || offset < 0 || offset > len(file.Contents) {
		return 0, 0, false
	}

	line, column = 1, 1
	for _, ch := range file.Contents[:offset] {
		if ch == '\n' {
			line++
			column = 1
		} else {
			column++
		}
	}
	return line, column, true
}
