// Package testutil provides helpers for architecture tests that keep package
// boundaries of the module in place.
package testutil

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// ModulePath is the import path prefix of this module.
const ModulePath = "shift2me"

// AssertNoDirectImports scans all non-test .go files in dir (typically "." from within the package)
// and fails if any import path satisfies the forbidden predicate. It does not follow build tags.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	viols, err := directImportViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	failIfViolations(t, "forbidden direct imports", reason, viols)
}

// AssertNoTransitiveDependency loads pattern and fails if any package it
// depends on, directly or not, satisfies forbidden.
func AssertNoTransitiveDependency(t testing.TB, pattern string, forbidden func(path string) bool, reason string) {
	t.Helper()
	roots, err := loadPackages(packages.NeedName|packages.NeedImports|packages.NeedDeps, pattern)
	if err != nil {
		t.Fatalf("load %s: %v", pattern, err)
	}
	failIfViolations(t, "forbidden transitive dependency", reason, transitiveViolations(roots, forbidden))
}

// AssertImportedOnlyBy fails when a non-test package matched by pattern
// imports target (or a package below it) without being target itself or
// listed under one of the allowed prefixes.
func AssertImportedOnlyBy(t testing.TB, pattern, target string, allowed ...string) {
	t.Helper()
	pkgs, err := loadPackages(packages.NeedName|packages.NeedImports, pattern)
	if err != nil {
		t.Fatalf("load %s: %v", pattern, err)
	}
	failIfViolations(t, "forbidden importers of "+target, "use the wrapping package instead", importerViolations(pkgs, target, allowed))
}

// InternalImportForbidden returns a predicate matching any import path containing /internal/.
func InternalImportForbidden(path string) bool {
	return strings.Contains(path, "/internal/")
}

// ModuleInternalForbidden matches the internal packages of this module only.
func ModuleInternalForbidden(path string) bool {
	return within(path, ModulePath+"/internal")
}

// PrefixForbidden returns a predicate matching prefix and the packages below it.
func PrefixForbidden(prefix string) func(string) bool {
	return func(path string) bool { return within(path, prefix) }
}

func within(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

var loadPackages = func(mode packages.LoadMode, pattern string) ([]*packages.Package, error) {
	return packages.Load(&packages.Config{Mode: mode}, pattern)
}

func transitiveViolations(roots []*packages.Package, forbidden func(string) bool) []string {
	seen := make(map[string]bool)
	var viols []string
	var visit func(p *packages.Package)
	visit = func(p *packages.Package) {
		for path, dep := range p.Imports {
			if seen[path] {
				continue
			}
			seen[path] = true
			if forbidden(path) {
				viols = append(viols, path+" (via "+p.PkgPath+")")
			}
			visit(dep)
		}
	}
	for _, root := range roots {
		visit(root)
	}
	sort.Strings(viols)
	return viols
}

func importerViolations(pkgs []*packages.Package, target string, allowed []string) []string {
	var viols []string
	for _, p := range pkgs {
		if within(p.PkgPath, target) || allowedPath(p.PkgPath, allowed) {
			continue
		}
		for path := range p.Imports {
			if within(path, target) {
				viols = append(viols, p.PkgPath+": "+path)
			}
		}
	}
	sort.Strings(viols)
	return viols
}

func allowedPath(path string, allowed []string) bool {
	for _, prefix := range allowed {
		if within(path, prefix) {
			return true
		}
	}
	return false
}

func directImportViolations(dir string, forbidden func(importPath string) bool) ([]string, error) {
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
		fileAst, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range fileAst.Imports {
			ip := strings.Trim(imp.Path.Value, "\"")
			if forbidden(ip) {
				viols = append(viols, ip+" (in "+name+")")
			}
		}
	}
	return viols, nil
}

type fatalLogger interface {
	Fatalf(format string, args ...any)
}

func failIfViolations(t fatalLogger, kind, reason string, viols []string) {
	if len(viols) > 0 {
		t.Fatalf("%s detected (%s):\n%s", kind, reason, strings.Join(viols, "\n"))
	}
}
