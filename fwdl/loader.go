package fwdl

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
)

// DefaultDirs are searched in order when a firmware is located by name.
var DefaultDirs = []string{"/lib/firmware/updates", "/lib/firmware"}

// Loader locates and validates a firmware image.
type Loader struct {
	// Path is an explicit image location. It takes precedence over Name.
	Path string
	// Name is looked up in every filesystem of Search, in order.
	Name string
	// Search defaults to DefaultDirs.
	Search []fs.FS
}

// Load reads and parses the firmware image.
func (l Loader) Load() (*Image, error) {
	b, err := l.read()
	if err != nil {
		return nil, err
	}
	return ParseImage(b)
}

func (l Loader) read() ([]byte, error) {
	if l.Path != "" {
		fp, err := os.Open(l.Path)
		if err != nil {
			return nil, err
		}
		defer fp.Close()
		return readLimited(fp)
	}
	if l.Name == "" {
		return nil, fmt.Errorf("%w: no path or name configured", errNotFound)
	}
	search := l.Search
	if search == nil {
		for _, dir := range DefaultDirs {
			search = append(search, os.DirFS(dir))
		}
	}
	for _, fsys := range search {
		fp, err := fsys.Open(path.Clean(l.Name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		} else if err != nil {
			return nil, err
		}
		b, err := readLimited(fp)
		fp.Close()
		return b, err
	}
	return nil, fmt.Errorf("%w: %q", errNotFound, l.Name)
}

func readLimited(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, MaxImageSize+1))
	if err != nil {
		return nil, err
	}
	if len(b) > MaxImageSize {
		return nil, errTooLarge
	}
	return b, nil
}
