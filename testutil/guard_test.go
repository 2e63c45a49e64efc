package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

type recordingFatal struct{ msg string }

func (r *recordingFatal) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func TestPredicates(t *testing.T) {
	cases := []struct {
		name string
		fn   func(string) bool
		in   string
		want bool
	}{
		{"internal", InternalImportForbidden, "example.com/mod/internal/x", true},
		{"internal pkg", InternalImportForbidden, "example.com/mod/pkg/x", false},
		{"module internal", ModuleInternalForbidden, "shift2me/internal/core", true},
		{"foreign internal", ModuleInternalForbidden, "github.com/gabriel-vasile/mimetype/internal/magic", false},
		{"prefix exact", PrefixForbidden("shift2me/internal/infra"), "shift2me/internal/infra", true},
		{"prefix child", PrefixForbidden("shift2me/internal/infra"), "shift2me/internal/infra/archive/fs", true},
		{"prefix sibling", PrefixForbidden("shift2me/internal/infra"), "shift2me/internal/infrastructure", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.fn(tc.in); got != tc.want {
				t.Fatalf("predicate(%q)=%v want %v", tc.in, got, tc.want)
			}
		})
	}
}

func writeFile(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package tmp\nimport (\n\t\"fmt\"\n\t\"shift2me/internal/core\"\n)\n")
	writeFile(t, dir, "a_test.go", "package tmp\nimport \"shift2me/internal/watch\"\n")
	writeFile(t, dir, "notes.txt", "import \"shift2me/internal/x\"")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFile(t, filepath.Join(dir, "sub"), "b.go", "package sub\nimport \"shift2me/internal/config\"\n")

	viols, err := directImportViolations(dir, ModuleInternalForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || viols[0] != "shift2me/internal/core (in a.go)" {
		t.Fatalf("unexpected violations %v", viols)
	}

	AssertNoDirectImports(t, dir, func(string) bool { return false }, "none")

	writeFile(t, dir, "broken.go", "package tmp\nimport \"unterminated\n")
	if _, err := directImportViolations(dir, ModuleInternalForbidden); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := directImportViolations(filepath.Join(dir, "missing"), ModuleInternalForbidden); err == nil {
		t.Fatalf("expected read error")
	}
}

func graph() []*packages.Package {
	leaf := &packages.Package{PkgPath: "shift2me/internal/infra/archive/fs"}
	wrapper := &packages.Package{PkgPath: "shift2me/internal/archive", Imports: map[string]*packages.Package{leaf.PkgPath: leaf}}
	core := &packages.Package{PkgPath: "shift2me/internal/core", Imports: map[string]*packages.Package{wrapper.PkgPath: wrapper}}
	cmd := &packages.Package{PkgPath: "shift2me/cmd/shift2me", Imports: map[string]*packages.Package{
		core.PkgPath: core,
		leaf.PkgPath: leaf,
	}}
	return []*packages.Package{cmd, core, wrapper, leaf}
}

func TestTransitiveViolations(t *testing.T) {
	pkgs := graph()
	viols := transitiveViolations(pkgs[1:2], PrefixForbidden("shift2me/internal/infra"))
	if len(viols) != 1 || viols[0] != "shift2me/internal/infra/archive/fs (via shift2me/internal/archive)" {
		t.Fatalf("unexpected transitive violations %v", viols)
	}
	if viols := transitiveViolations(pkgs[3:], ModuleInternalForbidden); len(viols) != 0 {
		t.Fatalf("leaf has no deps, got %v", viols)
	}
}

func TestImporterViolations(t *testing.T) {
	viols := importerViolations(graph(), "shift2me/internal/infra/archive", []string{"shift2me/internal/archive"})
	if len(viols) != 1 || !strings.HasPrefix(viols[0], "shift2me/cmd/shift2me: ") {
		t.Fatalf("unexpected importer violations %v", viols)
	}
	if viols := importerViolations(graph(), "shift2me/internal/infra/archive", []string{"shift2me/internal/archive", "shift2me/cmd"}); len(viols) != 0 {
		t.Fatalf("allowed importers reported: %v", viols)
	}
}

func TestAssertionsUseLoader(t *testing.T) {
	old := loadPackages
	t.Cleanup(func() { loadPackages = old })
	loadPackages = func(packages.LoadMode, string) ([]*packages.Package, error) { return graph(), nil }

	AssertNoTransitiveDependency(t, "shift2me/...", PrefixForbidden("shift2me/testutil"), "none")
	AssertImportedOnlyBy(t, "shift2me/...", "shift2me/internal/infra/archive", "shift2me/internal/archive", "shift2me/cmd")
}

func TestFailIfViolations(t *testing.T) {
	rec := &recordingFatal{}
	failIfViolations(rec, "forbidden direct imports", "reason", nil)
	if rec.msg != "" {
		t.Fatalf("no violations must not fail")
	}
	failIfViolations(rec, "forbidden direct imports", "reason", []string{"a", "b"})
	if !strings.Contains(rec.msg, "forbidden direct imports detected (reason):\na\nb") {
		t.Fatalf("unexpected message %q", rec.msg)
	}
}
