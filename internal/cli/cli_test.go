package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const metadataYAML = `
/content/dam/test-image.jpg/jcr:content/metadata:
  dam:scene7FileStatus: PublishComplete
  dam:scene7Domain: https://img.example.com/
  dam:scene7File: test-image
/content/dam/draft.jpg/jcr:content/metadata:
  dam:scene7FileStatus: NotPublished
`

func writeMetadata(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "metadata.yaml")
	if err := os.WriteFile(p, []byte(metadataYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

// run executes damctl with args and returns stdout and stderr.
func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestResolve(t *testing.T) {
	meta := writeMetadata(t)
	out, _, err := run(t, "", "resolve", "--store-file", meta,
		"/content/dam/test-image.jpg",
		"/content/dam/draft.jpg",
		"/content/dam/missing.jpg",
		"/etc/designs/logo.png",
	)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	for _, want := range []string{
		"/content/dam/test-image.jpg\thttps://img.example.com/is/image/test-image",
		"/content/dam/draft.jpg\tunchanged (not_published)",
		"/content/dam/missing.jpg\tunchanged (not_found)",
		"/etc/designs/logo.png\tunchanged (not a reference under /content/dam)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestResolve_NeedsArgs(t *testing.T) {
	if _, _, err := run(t, "", "resolve"); err == nil {
		t.Fatal("expected error without references")
	}
}

func TestRewrite_Stdin(t *testing.T) {
	meta := writeMetadata(t)
	in := `{"heroImage":"/content/dam/test-image.jpg","n":1.50,"tags":["/content/dam/draft.jpg"]}`
	out, errOut, err := run(t, in, "rewrite", "--store-file", meta, "--stats")
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	want := `{"heroImage":"https://img.example.com/is/image/test-image","n":1.50,"tags":["/content/dam/draft.jpg"]}` + "\n"
	if out != want {
		t.Fatalf("output = %q, want %q", out, want)
	}
	if !strings.Contains(errOut, "candidates=2 replaced=1") {
		t.Fatalf("stats = %q", errOut)
	}
}

func TestRewrite_File(t *testing.T) {
	meta := writeMetadata(t)
	doc := filepath.Join(t.TempDir(), "home.model.json")
	if err := os.WriteFile(doc, []byte(`{"a":"/content/dam/test-image.jpg"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	out, _, err := run(t, "", "rewrite", "--store-file", meta, doc)
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if !strings.Contains(out, "is/image/test-image") {
		t.Fatalf("output = %q", out)
	}
}

func TestRewrite_NotAnObject(t *testing.T) {
	for _, in := range []string{"not json at all", `["/content/dam/test-image.jpg"]`} {
		// the store is never opened for input that cannot be rewritten
		out, errOut, err := run(t, in, "rewrite", "--store-file", "/does/not/exist.yaml")
		if err != nil {
			t.Fatalf("rewrite %q: %v", in, err)
		}
		if out != in {
			t.Fatalf("output = %q, want input unchanged", out)
		}
		if !strings.Contains(errOut, "not rewritten") {
			t.Fatalf("stderr = %q", errOut)
		}
	}
}

func TestSQLiteWorkflow(t *testing.T) {
	meta := writeMetadata(t)
	db := filepath.Join(t.TempDir(), "meta.db")

	out, _, err := run(t, "", "migrate", "--store-sqlite", db)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(out, "schema version 1") {
		t.Fatalf("migrate output = %q", out)
	}

	out, _, err = run(t, "", "import", "--store-sqlite", db, meta)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out, "imported 2 records") {
		t.Fatalf("import output = %q", out)
	}

	out, _, err = run(t, "", "resolve", "--store", "sqlite", "--store-sqlite", db, "/content/dam/test-image.jpg")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.Contains(out, "https://img.example.com/is/image/test-image") {
		t.Fatalf("resolve output = %q", out)
	}
}

func TestUnsupportedStore(t *testing.T) {
	_, _, err := run(t, "", "resolve", "--store", "s3", "/content/dam/a.jpg")
	if err == nil || !strings.Contains(err.Error(), "unsupported store") {
		t.Fatalf("err = %v", err)
	}
}

func TestCustomReferencePrefix(t *testing.T) {
	meta := writeMetadata(t)
	out, _, err := run(t, "", "resolve", "--store-file", meta, "--reference-prefix", "/content/dam/test", "/content/dam/draft.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "not a reference under /content/dam/test") {
		t.Fatalf("output = %q", out)
	}
}

func TestVersion(t *testing.T) {
	out, _, err := run(t, "", "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "damctl ") {
		t.Fatalf("output = %q", out)
	}
}
