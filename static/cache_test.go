package static

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func createTestRoot(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("Failed to create dir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write file: %v", err)
		}
	}
	return dir
}

func TestNewDefaults(t *testing.T) {
	c, err := New("", 0)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if !filepath.IsAbs(c.Root()) {
		t.Errorf("Expected absolute root, got %s", c.Root())
	}
}

func TestGetLoadsAndCaches(t *testing.T) {
	root := createTestRoot(t, map[string]string{
		"index.html":   "<h1>hi</h1>",
		"css/site.css": "body{}",
	})

	c, err := New(root, 10)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	f, err := c.Get("/index.html")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if string(f.Content) != "<h1>hi</h1>" {
		t.Errorf("Unexpected content %q", f.Content)
	}
	if !strings.HasPrefix(f.ContentType, "text/html") {
		t.Errorf("Expected text/html, got %s", f.ContentType)
	}
	if f.ETag == "" {
		t.Error("Expected an ETag")
	}

	css, err := c.Get("css/site.css")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !strings.HasPrefix(css.ContentType, "text/css") {
		t.Errorf("Expected text/css, got %s", css.ContentType)
	}

	// Cached content survives the file changing on disk
	os.WriteFile(filepath.Join(root, "index.html"), []byte("changed"), 0644)
	again, _ := c.Get("/index.html")
	if again != f {
		t.Error("Expected the cached entry to be returned")
	}

	c.Purge()
	if c.Len() != 0 {
		t.Errorf("Expected empty cache after Purge, got %d", c.Len())
	}
	fresh, _ := c.Get("/index.html")
	if string(fresh.Content) != "changed" {
		t.Errorf("Expected fresh content after Purge, got %q", fresh.Content)
	}
}

func TestGetNotFound(t *testing.T) {
	root := createTestRoot(t, map[string]string{"dir/file.txt": "x"})
	c, _ := New(root, 10)

	for _, name := range []string{"/missing.txt", "/dir"} {
		if _, err := c.Get(name); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(%q): expected ErrNotFound, got %v", name, err)
		}
	}
}

func TestResolveStaysUnderRoot(t *testing.T) {
	root := createTestRoot(t, nil)
	c, _ := New(root, 10)

	for _, name := range []string{"../../etc/passwd", "/../secret", "a/../../b"} {
		resolved := c.Resolve(name)
		if !strings.HasPrefix(resolved, c.Root()) {
			t.Errorf("Resolve(%q) = %s escapes root %s", name, resolved, c.Root())
		}
	}
}

func TestEvictionAtCapacity(t *testing.T) {
	files := map[string]string{}
	for i := 0; i < 5; i++ {
		files[fmt.Sprintf("f%d.txt", i)] = fmt.Sprintf("file %d", i)
	}
	root := createTestRoot(t, files)

	c, _ := New(root, 3)
	for i := 0; i < 5; i++ {
		if _, err := c.Get(fmt.Sprintf("/f%d.txt", i)); err != nil {
			t.Fatalf("Get() error: %v", err)
		}
	}

	if c.Len() != 3 {
		t.Errorf("Expected 3 cached files, got %d", c.Len())
	}
	if c.Contains("/f0.txt") || c.Contains("/f1.txt") {
		t.Error("Least recently used files should have been evicted")
	}
	if !c.Contains("/f4.txt") {
		t.Error("Most recent file should be cached")
	}
}

func TestConcurrentGet(t *testing.T) {
	root := createTestRoot(t, map[string]string{"shared.txt": "shared"})
	c, _ := New(root, 10)

	var wg sync.WaitGroup
	results := make([]*File, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f, err := c.Get("/shared.txt")
			if err != nil {
				t.Errorf("Get() error: %v", err)
				return
			}
			results[i] = f
		}(i)
	}
	wg.Wait()

	if c.Len() != 1 {
		t.Errorf("Expected 1 cached file, got %d", c.Len())
	}
	for _, f := range results {
		if f == nil || string(f.Content) != "shared" {
			t.Fatalf("Unexpected result %+v", f)
		}
	}
}
