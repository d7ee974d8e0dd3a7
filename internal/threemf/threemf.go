package threemf

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Well-known entry paths inside a project bundle, relative to the container
// root (after any wrapper prefix is stripped).
const (
	ContentTypesPath      = "[Content_Types].xml"
	ModelSettingsPath     = "Metadata/model_settings.config"
	SliceInfoPath         = "Metadata/slice_info.config"
	RootRelsPath          = "_rels/.rels"
	ModelSettingsRelsPath = "Metadata/_rels/model_settings.config.rels"
	ModelPath             = "3D/3dmodel.model"
)

// ErrInvalidContainer marks archives that cannot be opened or read as zip.
var ErrInvalidContainer = errors.New("invalid 3mf container")

// Entry is a single archive member in original order. Data is nil for
// directory entries.
type Entry struct {
	Name string
	Data []byte
	Dir  bool
}

// Archive is a fully loaded project bundle. Prefix is the wrapper directory
// shared by every content entry ("" when the manifest sits at the root).
type Archive struct {
	Path    string
	Prefix  string
	Entries []Entry

	index map[string]int
}

// Open reads the whole bundle into memory and closes the file before
// returning. Any zip-level failure wraps ErrInvalidContainer.
func Open(path string) (*Archive, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrInvalidContainer, path, err)
	}
	defer reader.Close()

	arc := &Archive{Path: path, index: make(map[string]int, len(reader.File))}
	for _, file := range reader.File {
		entry := Entry{Name: file.Name}
		if file.FileInfo().IsDir() {
			entry.Dir = true
		} else {
			rc, err := file.Open()
			if err != nil {
				return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidContainer, file.Name, err)
			}
			data, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidContainer, file.Name, err)
			}
			entry.Data = data
		}
		if _, dup := arc.index[entry.Name]; !dup {
			arc.index[entry.Name] = len(arc.Entries)
		}
		arc.Entries = append(arc.Entries, entry)
	}

	arc.Prefix = wrapperPrefix(arc.Entries)
	return arc, nil
}

// Data returns the payload of the named file entry, looked up by stored
// (unstripped) name.
func (a *Archive) Data(name string) ([]byte, bool) {
	i, ok := a.index[name]
	if !ok || a.Entries[i].Dir {
		return nil, false
	}
	return a.Entries[i].Data, true
}

// Exists reports whether a file entry with the stored name is present.
func (a *Archive) Exists(name string) bool {
	i, ok := a.index[name]
	return ok && !a.Entries[i].Dir
}

// StripPrefix removes the wrapper prefix from a stored name when present.
func (a *Archive) StripPrefix(name string) string {
	if a.Prefix != "" && strings.HasPrefix(name, a.Prefix) {
		return name[len(a.Prefix):]
	}
	return name
}

const junkDirPrefix = "__MACOSX/"

// IsJunk reports whether the entry name is platform junk: anything under
// __MACOSX/ or any .DS_Store file.
func IsJunk(name string) bool {
	if strings.HasPrefix(name, junkDirPrefix) {
		return true
	}
	base := name
	if i := strings.LastIndex(name, "/"); i >= 0 {
		base = name[i+1:]
	}
	return base == ".DS_Store"
}

// wrapperPrefix detects the single top-level directory that hand-rezipped
// bundles wrap everything in. The manifest must sit at the container root, so
// when it is only found as <prefix>[Content_Types].xml and every content
// entry shares that prefix, the prefix is reported for stripping.
func wrapperPrefix(entries []Entry) string {
	var content []string
	for _, e := range entries {
		if e.Dir || IsJunk(e.Name) {
			continue
		}
		content = append(content, e.Name)
	}

	for _, name := range content {
		if name == ContentTypesPath {
			return ""
		}
	}

	var candidates []string
	for _, name := range content {
		if strings.HasSuffix(name, "/"+ContentTypesPath) {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return len(candidates[i]) < len(candidates[j])
	})
	prefix := strings.TrimSuffix(candidates[0], ContentTypesPath)

	for _, name := range content {
		if !strings.HasPrefix(name, prefix) {
			return ""
		}
	}
	return prefix
}
