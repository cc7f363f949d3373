package testutil

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestPredicates(t *testing.T) {
	cases := []struct {
		in        string
		internal  bool
		transport bool
	}{
		{"clinicflow/internal/core", true, false},
		{"clinicflow/internal/adapters/httpapi", true, true},
		{"clinicflow/internal/config", true, true},
		{"clinicflow/pkg/domain", false, false},
		{"github.com/labstack/echo/v4", false, true},
		{"github.com/spf13/viper", false, true},
		{"github.com/rs/zerolog", false, false},
	}
	for _, c := range cases {
		if got := InternalImport(c.in); got != c.internal {
			t.Errorf("InternalImport(%q)=%v want %v", c.in, got, c.internal)
		}
		if got := TransportImport(c.in); got != c.transport {
			t.Errorf("TransportImport(%q)=%v want %v", c.in, got, c.transport)
		}
	}
	if !Any(InternalImport, TransportImport)("github.com/spf13/cobra") {
		t.Errorf("Any must match when one predicate matches")
	}
	if Any()("anything") {
		t.Errorf("Any with no predicates must not match")
	}
}

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	write := func(name, src string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("a.go", "package tmp\nimport (\n\t\"fmt\"\n\t\"clinicflow/internal/core\"\n)\nvar _ = fmt.Sprint\nvar _ core.Clock\n")
	write("a_test.go", "package tmp\nimport \"github.com/labstack/echo/v4\"\nvar _ echo.Context\n")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o750); err != nil {
		t.Fatal(err)
	}

	viols, err := DirectImportViolations(dir, Any(InternalImport, TransportImport))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	want := []string{"clinicflow/internal/core (in a.go)"}
	if !reflect.DeepEqual(viols, want) {
		t.Fatalf("expected %v, got %v", want, viols)
	}

	AssertNoDirectImports(t, dir, TransportImport, "test files are ignored")

	write("broken.go", "package tmp\nimport (")
	if _, err := DirectImportViolations(dir, InternalImport); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := DirectImportViolations(filepath.Join(dir, "missing"), InternalImport); err == nil {
		t.Fatalf("expected read error")
	}
}
