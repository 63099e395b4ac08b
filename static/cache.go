// Package static provides a bounded in-memory cache of files served by
// fastws routes.
//
// Files are looked up by request path, resolved under a root directory,
// read once, and kept in an LRU cache of fixed capacity. Concurrent misses
// for the same file share a single disk read. The cache never revalidates
// entries on its own; call Purge (the server does this on reload) to pick up
// changes on disk.
package static

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultCapacity is the number of files kept when no capacity is given.
const DefaultCapacity = 50

var (
	ErrNotFound = errors.New("static file not found")
)

// File is a cached file.
type File struct {
	Name        string
	Path        string
	Content     []byte
	ModTime     time.Time
	ContentType string
	ETag        string
}

// Cache maps resolved file paths to their contents.
type Cache struct {
	root  string
	files *lru.Cache[string, *File]
	loads singleflight.Group
}

// New creates a cache rooted at root ("" means the working directory)
// holding at most capacity files.
func New(root string, capacity int) (*Cache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if root == "" {
		root = "."
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve static root: %w", err)
	}

	files, err := lru.New[string, *File](capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create static cache: %w", err)
	}

	return &Cache{root: abs, files: files}, nil
}

// Root returns the absolute root directory.
func (c *Cache) Root() string {
	return c.root
}

// Resolve maps a request path to a file path under the root. Paths cannot
// escape the root.
func (c *Cache) Resolve(name string) string {
	clean := path.Clean("/" + filepath.ToSlash(name))
	return filepath.Join(c.root, filepath.FromSlash(clean))
}

// Get returns the file for name, reading it from disk on a miss.
func (c *Cache) Get(name string) (*File, error) {
	full := c.Resolve(name)

	if f, ok := c.files.Get(full); ok {
		return f, nil
	}

	v, err, _ := c.loads.Do(full, func() (any, error) {
		// Double-check after winning the load
		if f, ok := c.files.Get(full); ok {
			return f, nil
		}
		f, err := load(full)
		if err != nil {
			return nil, err
		}
		c.files.Add(full, f)
		return f, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*File), nil
}

// Purge drops every cached file.
func (c *Cache) Purge() {
	c.files.Purge()
}

// Len returns the number of cached files.
func (c *Cache) Len() int {
	return c.files.Len()
}

// Contains reports whether name is cached, without touching recency.
func (c *Cache) Contains(name string) bool {
	return c.files.Contains(c.Resolve(name))
}

func load(full string) (*File, error) {
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, full)
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrNotFound, full)
	}

	content, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return &File{
		Name:        filepath.Base(full),
		Path:        full,
		Content:     content,
		ModTime:     info.ModTime(),
		ContentType: contentType(full, content),
		ETag:        fmt.Sprintf(`"%x-%x"`, info.ModTime().UnixNano(), len(content)),
	}, nil
}

func contentType(name string, content []byte) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return http.DetectContentType(content)
}
