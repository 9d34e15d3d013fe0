package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestForbiddenPredicates(t *testing.T) {
	cases := []struct {
		pred func(string) bool
		in   string
		want bool
	}{
		{DomainImportForbidden, "forestcensus/pkg/domain", true},
		{DomainImportForbidden, "example.com/mod/pkg/domain@v1", true},
		{DomainImportForbidden, "forestcensus/pkg/domainx", false},
		{InternalImportForbidden, "forestcensus/internal/core", true},
		{InternalImportForbidden, "forestcensus/pkg/domain", false},
	}
	for _, c := range cases {
		if got := c.pred(c.in); got != c.want {
			t.Fatalf("predicate(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func writeSource(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestAssertNoDirectImportsIgnoresTestsAndSubdirs(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "x.go", "package tmp\nimport \"fmt\"\nfunc X() { fmt.Println(1) }\n")
	writeSource(t, dir, "x_test.go", "package tmp\nimport _ \"forestcensus/internal/core\"\n")
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeSource(t, sub, "y.go", "package sub\nimport _ \"forestcensus/internal/core\"\n")

	AssertNoDirectImports(t, dir, InternalImportForbidden, "tmp is a leaf")
}

type recordingT struct {
	testing.TB
	msg string
}

func (r *recordingT) Helper() {}

func (r *recordingT) Fatalf(format string, args ...any) {
	r.msg = fmt.Sprintf(format, args...)
}

func TestAssertNoDirectImportsReportsViolations(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "a.go", "package tmp\nimport (\n\t_ \"forestcensus/internal/core\"\n\t_ \"forestcensus/internal/blob\"\n)\n")

	rec := &recordingT{TB: t}
	AssertNoDirectImports(rec, dir, InternalImportForbidden, "leaf package")
	if !strings.Contains(rec.msg, "leaf package") ||
		!strings.Contains(rec.msg, "forestcensus/internal/core (in a.go)") ||
		!strings.Contains(rec.msg, "forestcensus/internal/blob (in a.go)") {
		t.Fatalf("unexpected failure message: %q", rec.msg)
	}
}

func TestAssertNoDirectImportsMissingDir(t *testing.T) {
	rec := &recordingT{TB: t}
	AssertNoDirectImports(rec, filepath.Join(t.TempDir(), "absent"), InternalImportForbidden, "absent")
	if !strings.HasPrefix(rec.msg, "scan ") {
		t.Fatalf("expected scan failure, got %q", rec.msg)
	}
}
