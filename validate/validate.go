// Command validate checks fastws configuration files. Given files or
// directories (default: ./configs) it validates every *.yaml and *.yml file:
//   - YAML structure and environment expansion
//   - Field values (ports, WebSocket options, admin paths, logging)
//   - TLS certificate and key can be loaded
//   - Static root exists, and the index and listed files resolve under it
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wricardo/fastws/config"
	"github.com/wricardo/fastws/static"
)

// ValidationResult captures the outcome of validating a single file.
// If Valid is true, Errors contains informational messages; otherwise it
// accumulates the validation errors that were found.
type ValidationResult struct {
	File   string
	Valid  bool
	Errors []string
}

func (r *ValidationResult) fail(format string, args ...interface{}) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) info(format string, args ...interface{}) {
	r.Errors = append(r.Errors, "✓ "+fmt.Sprintf(format, args...))
}

// validateConfig loads and validates a single configuration file.
func validateConfig(filePath string) ValidationResult {
	result := ValidationResult{
		File:   filepath.Base(filePath),
		Valid:  true,
		Errors: []string{},
	}

	cfg, err := config.LoadWithDefaults(filePath)
	if err != nil {
		result.fail("%v", err)
		return result
	}

	if err := cfg.Validate(); err != nil {
		result.fail("%v", err)
	} else {
		result.info("Listener: port %d, websocket at %s", cfg.Server.Port, cfg.Server.WebSocket.Path)
	}

	// Relative paths resolve against the working directory, as in the server
	if cfg.TLS.Enabled() {
		if _, err := cfg.TLS.Load(); err != nil {
			result.fail("TLS: %v", err)
		} else {
			result.info("TLS: certificate loaded")
		}
	}

	validateStatic(&result, cfg.Static)
	return result
}

// validateStatic checks that every configured static file resolves under root.
func validateStatic(result *ValidationResult, cfg config.StaticConfig) {
	root := cfg.Root
	if root == "" {
		return
	}

	info, err := os.Stat(root)
	if err != nil {
		result.fail("Static root %s: %v", cfg.Root, err)
		return
	}
	if !info.IsDir() {
		result.fail("Static root %s is not a directory", cfg.Root)
		return
	}

	cache, err := static.New(root, cfg.Cache)
	if err != nil {
		result.fail("Static root %s: %v", cfg.Root, err)
		return
	}

	files := append([]string{}, cfg.Files...)
	if cfg.Index != "" {
		files = append(files, cfg.Index)
	}

	missing := []string{}
	for _, name := range files {
		if _, err := os.Stat(cache.Resolve(name)); err != nil {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		result.fail("Static files: %d/%d missing under %s", len(missing), len(files), cfg.Root)
		for _, name := range missing {
			result.Errors = append(result.Errors, fmt.Sprintf("Missing: %s", name))
		}
		return
	}
	result.info("Static files: all %d present under %s", len(files), cfg.Root)
}

// collectFiles expands directories into the YAML files they contain.
func collectFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		for _, pattern := range []string{"*.yaml", "*.yml"} {
			matches, err := filepath.Glob(filepath.Join(arg, pattern))
			if err != nil {
				return nil, err
			}
			files = append(files, matches...)
		}
	}
	return files, nil
}

// main validates each file, printing a concise report and exiting with
// non-zero status if any are invalid.
func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		args = []string{"configs"}
	}

	files, err := collectFiles(args)
	if err != nil {
		fmt.Printf("Error finding config files: %v\n", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Println("No config files found")
		os.Exit(1)
	}

	allValid := true
	for _, file := range files {
		result := validateConfig(file)

		fmt.Printf("\n%s %s\n", strings.Repeat("=", 20), result.File)

		if result.Valid {
			fmt.Println("✅ VALID")
			for _, info := range result.Errors {
				fmt.Println("  " + info)
			}
		} else {
			fmt.Println("❌ INVALID")
			allValid = false
			for _, err := range result.Errors {
				if !strings.HasPrefix(err, "✓") {
					fmt.Println("  ❌ " + err)
				}
			}
		}
	}

	fmt.Printf("\n%s\n", strings.Repeat("=", 40))
	if allValid {
		fmt.Println("✅ All configurations are valid!")
	} else {
		fmt.Println("❌ Some configurations have errors")
		os.Exit(1)
	}
}
