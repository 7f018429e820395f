package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gobwas/glob"
)

// Registry names of the filesystem tools.
const (
	DirectoryReadName = "directory_read"
	FileReadName      = "file_read"
	FileWriteName     = "file_write"
)

const (
	maxListedFiles = 500
	maxReadBytes   = 1 << 20
)

// ErrOutsideRoot is returned for paths that escape a tool's root directory.
var ErrOutsideRoot = errors.New("path outside allowed directory")

// sandbox confines paths to a root directory.
type sandbox struct {
	root string
}

func newSandbox(root string) (sandbox, error) {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return sandbox{}, fmt.Errorf("resolve root %s: %w", root, err)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	return sandbox{root: abs}, nil
}

func (s sandbox) contains(path string) bool {
	if path == s.root {
		return true
	}
	return strings.HasPrefix(path, s.root+string(filepath.Separator))
}

// resolve maps a requested path (relative to the root, or absolute) to a
// real path inside the root. Symlinks are followed before the check; for
// paths that do not exist yet the nearest existing parent is checked.
func (s sandbox) resolve(requested string) (string, error) {
	p := requested
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.root, p)
	}
	p = filepath.Clean(p)
	if !s.contains(p) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, requested)
	}

	real, err := filepath.EvalSymlinks(p)
	if err == nil {
		if !s.contains(real) {
			return "", fmt.Errorf("%w: %s resolves to %s", ErrOutsideRoot, requested, real)
		}
		return real, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	parent := filepath.Dir(p)
	for {
		realParent, err := filepath.EvalSymlinks(parent)
		if err == nil {
			if !s.contains(realParent) {
				return "", fmt.Errorf("%w: parent of %s", ErrOutsideRoot, requested)
			}
			return p, nil
		}
		next := filepath.Dir(parent)
		if next == parent || !s.contains(next) {
			return p, nil
		}
		parent = next
	}
}

func (s sandbox) rel(path string) string {
	if r, err := filepath.Rel(s.root, path); err == nil {
		return filepath.ToSlash(r)
	}
	return path
}

// DirectoryRead lists files under a directory, optionally filtered by a glob.
type DirectoryRead struct {
	box sandbox
}

// NewDirectoryRead creates a directory listing tool confined to root.
func NewDirectoryRead(root string) (*DirectoryRead, error) {
	box, err := newSandbox(root)
	if err != nil {
		return nil, err
	}
	return &DirectoryRead{box: box}, nil
}

func (d *DirectoryRead) Name() string { return DirectoryReadName }

func (d *DirectoryRead) Description() string {
	return `List files in a directory recursively. Input: {"directory": "<path>", "pattern": "<glob, e.g. **/*.md>"}.`
}

func (d *DirectoryRead) Invoke(ctx context.Context, input string) (string, error) {
	dir := argument(input, "directory", "path")
	pattern := ""
	if args := arguments(input); args != nil {
		pattern = stringValue(args["pattern"])
	}
	if dir == "" {
		dir = "."
	}

	root, err := d.box.resolve(dir)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(root)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", dir)
	}

	var matcher glob.Glob
	if pattern != "" {
		matcher, err = glob.Compile(pattern, '/')
		if err != nil {
			return "", fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
	}

	var files []string
	truncated := false
	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if entry.IsDir() {
			if path != root && strings.HasPrefix(entry.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		rel = filepath.ToSlash(rel)
		if matcher != nil && !matcher.Match(rel) && !matcher.Match(entry.Name()) {
			return nil
		}
		if len(files) == maxListedFiles {
			truncated = true
			return filepath.SkipAll
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return "", err
	}

	if len(files) == 0 {
		return fmt.Sprintf("No files found in %s.", d.box.rel(root)), nil
	}
	sort.Strings(files)
	var b strings.Builder
	fmt.Fprintf(&b, "File paths in %s:\n", d.box.rel(root))
	for _, f := range files {
		b.WriteString("- " + f + "\n")
	}
	if truncated {
		fmt.Fprintf(&b, "[listing truncated at %d files]\n", maxListedFiles)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// FileRead returns the contents of a text file.
type FileRead struct {
	box sandbox
}

// NewFileRead creates a file reading tool confined to root.
func NewFileRead(root string) (*FileRead, error) {
	box, err := newSandbox(root)
	if err != nil {
		return nil, err
	}
	return &FileRead{box: box}, nil
}

func (f *FileRead) Name() string { return FileReadName }

func (f *FileRead) Description() string {
	return `Read a text file. Input: {"file_path": "<path>"}.`
}

func (f *FileRead) Invoke(ctx context.Context, input string) (string, error) {
	name := argument(input, "file_path", "path", "filename")
	if name == "" {
		return "", errors.New("file_path is required")
	}
	path, err := f.box.resolve(name)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", name)
	}
	if info.Size() > maxReadBytes {
		return "", fmt.Errorf("%s is too large (%d bytes)", name, info.Size())
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("detect type of %s: %w", name, err)
	}
	if !isText(mtype) {
		return "", fmt.Errorf("%s is not a text file (%s)", name, mtype.String())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// isText walks the detected type's ancestry; every textual format descends
// from text/plain.
func isText(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

// FileWrite writes content to a file under its root directory.
type FileWrite struct {
	box sandbox
}

// NewFileWrite creates a file writing tool confined to root.
func NewFileWrite(root string) (*FileWrite, error) {
	box, err := newSandbox(root)
	if err != nil {
		return nil, err
	}
	return &FileWrite{box: box}, nil
}

func (f *FileWrite) Name() string { return FileWriteName }

func (f *FileWrite) Description() string {
	return `Write content to a file. Input: {"filename": "<name>", "content": "<text>", "directory": "<optional dir>", "overwrite": false}.`
}

func (f *FileWrite) Invoke(ctx context.Context, input string) (string, error) {
	args := arguments(input)
	if args == nil {
		return "", errors.New(`input must be a JSON object with "filename" and "content"`)
	}
	name := stringValue(args["filename"])
	if name == "" {
		return "", errors.New("filename is required")
	}
	if dir := stringValue(args["directory"]); dir != "" {
		name = filepath.Join(dir, name)
	}
	content := stringValue(args["content"])

	path, err := f.box.resolve(name)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err == nil && !boolValue(args, "overwrite") {
		return "", fmt.Errorf("%s already exists; set overwrite to true to replace it", f.box.rel(path))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("write %s: %w", f.box.rel(path), err)
	}
	return fmt.Sprintf("Content successfully written to %s (%d bytes).", f.box.rel(path), len(content)), nil
}
