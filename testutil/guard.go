// Package testutil holds import-boundary checks shared by architecture tests.
package testutil

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// ModulePath is the import prefix of this module.
const ModulePath = "clinicflow"

// InternalImport matches any package under clinicflow/internal.
func InternalImport(path string) bool {
	return strings.HasPrefix(path, ModulePath+"/internal/")
}

// TransportImport matches the HTTP, CLI and config stacks plus the adapters
// built on them. The workflow core must stay callable without any of these.
func TransportImport(path string) bool {
	switch {
	case strings.HasPrefix(path, ModulePath+"/internal/adapters/"),
		strings.HasPrefix(path, ModulePath+"/internal/config"),
		strings.HasPrefix(path, ModulePath+"/cmd/"),
		strings.HasPrefix(path, "github.com/labstack/echo"),
		strings.HasPrefix(path, "github.com/spf13/"):
		return true
	}
	return false
}

// Any combines predicates.
func Any(preds ...func(string) bool) func(string) bool {
	return func(path string) bool {
		for _, p := range preds {
			if p(path) {
				return true
			}
		}
		return false
	}
}

// DirectImportViolations parses the non-test .go files of dir and returns the
// imports matching forbidden, annotated with the file that declares them.
func DirectImportViolations(dir string, forbidden func(importPath string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var viols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range file.Imports {
			ip := strings.Trim(imp.Path.Value, `"`)
			if forbidden(ip) {
				viols = append(viols, ip+" (in "+name+")")
			}
		}
	}
	return viols, nil
}

// AssertNoDirectImports fails t when any non-test file in dir imports a
// package matching forbidden.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	viols, err := DirectImportViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("scan %s: %v", dir, err)
	}
	if len(viols) > 0 {
		t.Fatalf("forbidden imports (%s):\n%s", reason, strings.Join(viols, "\n"))
	}
}
