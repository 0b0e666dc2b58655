package metastore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

const heroKey = "/content/dam/site/hero.jpg/jcr:content/metadata"

func heroRecord() Record {
	return Record{
		"dam:scene7FileStatus": "PublishComplete",
		"dam:scene7Domain":     "https://img.example.com/",
		"dam:scene7File":       "site/hero",
	}
}

// Map

func TestMap_Lookup(t *testing.T) {
	m := NewMap(map[string]Record{heroKey: heroRecord()})

	rec, found, err := m.Lookup(t.Context(), heroKey)
	if err != nil || !found {
		t.Fatalf("Lookup = %v, %v, %v", rec, found, err)
	}
	if !maps.Equal(rec, heroRecord()) {
		t.Fatalf("rec = %v", rec)
	}

	// returned records are copies
	rec["dam:scene7File"] = "mutated"
	again, _, _ := m.Lookup(t.Context(), heroKey)
	if again["dam:scene7File"] != "site/hero" {
		t.Fatal("caller mutation leaked into the store")
	}

	if _, found, err := m.Lookup(t.Context(), "/content/dam/missing"); found || err != nil {
		t.Fatalf("missing key: found=%v err=%v", found, err)
	}
}

func TestMap_CanceledContext(t *testing.T) {
	m := NewMap(nil)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, _, err := m.Lookup(ctx, heroKey); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestMap_Put(t *testing.T) {
	m := NewMap(nil)
	m.Put(heroKey, heroRecord())
	if m.Len() != 1 {
		t.Fatalf("Len() = %d", m.Len())
	}
}

func TestMap_Range(t *testing.T) {
	m := NewMap(map[string]Record{heroKey: heroRecord(), "/content/dam/b.jpg/jcr:content/metadata": {}})
	seen := map[string]bool{}
	m.Range(func(key string, rec Record) bool {
		seen[key] = true
		rec["mutated"] = "yes"
		return true
	})
	if len(seen) != 2 {
		t.Fatalf("visited %d records, want 2", len(seen))
	}
	rec, _, _ := m.Lookup(context.Background(), heroKey)
	if _, ok := rec["mutated"]; ok {
		t.Fatal("Range exposed backing record")
	}

	calls := 0
	m.Range(func(string, Record) bool { calls++; return false })
	if calls != 1 {
		t.Fatalf("Range kept going after false: %d calls", calls)
	}
}

// FileStore

func TestParseDocument(t *testing.T) {
	doc := []byte(`
/content/dam/site/hero.jpg/jcr:content/metadata:
  dam:scene7FileStatus: PublishComplete
  dam:scene7Domain: https://img.example.com/
  dam:scene7File: site/hero
/content/dam/site/draft.jpg/jcr:content/metadata:
  dam:scene7FileStatus: null
  dam:width: 1024
  dam:published: false
`)
	m, err := ParseDocument(doc)
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	rec, found, _ := m.Lookup(t.Context(), heroKey)
	if !found || !maps.Equal(rec, heroRecord()) {
		t.Fatalf("hero = %v, %v", rec, found)
	}

	draft, found, _ := m.Lookup(t.Context(), "/content/dam/site/draft.jpg/jcr:content/metadata")
	if !found {
		t.Fatal("draft record missing")
	}
	if _, ok := draft["dam:scene7FileStatus"]; ok {
		t.Fatal("null property should be absent")
	}
	if draft["dam:width"] != "1024" || draft["dam:published"] != "false" {
		t.Fatalf("scalars = %v", draft)
	}
}

func TestParseDocument_Errors(t *testing.T) {
	tests := map[string]string{
		"bad yaml":   "key: [unterminated",
		"nested map": "/k:\n  a:\n    b: c\n",
		"list value": "/k:\n  a: [1, 2]\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseDocument([]byte(doc)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.json")
	body := `{"` + heroKey + `": {"dam:scene7FileStatus": "PublishComplete", "dam:scene7Domain": "https://img.example.com/", "dam:scene7File": "site/hero"}}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	m, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if m.Len() != 1 {
		t.Fatalf("Len() = %d", m.Len())
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

// S3Store

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
	keys    []string
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Key)
	f.keys = append(f.keys, aws.ToString(in.Bucket)+"/"+key)
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.objects[key]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("not found")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3Store_Lookup(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{
		"meta/content/dam/site/hero.jpg/jcr:content/metadata.json": []byte(`{"dam:scene7FileStatus":"PublishComplete","dam:scene7Domain":"https://img.example.com/","dam:scene7File":"site/hero","dam:width":1024,"dam:note":null}`),
	}}
	s, err := NewS3Store(fake, "assets", "/meta/")
	if err != nil {
		t.Fatalf("NewS3Store: %v", err)
	}

	rec, found, err := s.Lookup(t.Context(), heroKey)
	if err != nil || !found {
		t.Fatalf("Lookup = %v, %v, %v", rec, found, err)
	}
	if rec["dam:scene7File"] != "site/hero" || rec["dam:width"] != "1024" {
		t.Fatalf("rec = %v", rec)
	}
	if _, ok := rec["dam:note"]; ok {
		t.Fatal("null property should be absent")
	}
	if fake.keys[0] != "assets/meta/content/dam/site/hero.jpg/jcr:content/metadata.json" {
		t.Fatalf("requested %q", fake.keys[0])
	}

	if _, found, err := s.Lookup(t.Context(), "/content/dam/missing"); found || err != nil {
		t.Fatalf("missing: found=%v err=%v", found, err)
	}
}

func TestS3Store_Errors(t *testing.T) {
	fake := &fakeS3{err: &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}}
	s, _ := NewS3Store(fake, "assets", "")
	if _, _, err := s.Lookup(t.Context(), heroKey); err == nil {
		t.Fatal("expected error for AccessDenied")
	}

	fake.err = &smithy.GenericAPIError{Code: "NotFound"}
	if _, found, err := s.Lookup(t.Context(), heroKey); found || err != nil {
		t.Fatalf("NotFound: found=%v err=%v", found, err)
	}

	fake.err = nil
	fake.objects = map[string][]byte{"content/dam/x/jcr:content/metadata.json": []byte(`[1,2]`)}
	if _, _, err := s.Lookup(t.Context(), "/content/dam/x/jcr:content/metadata"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestNewS3Store_Validation(t *testing.T) {
	if _, err := NewS3Store(nil, "b", ""); err == nil {
		t.Fatal("expected error for nil client")
	}
	if _, err := NewS3Store(&fakeS3{}, "", ""); err == nil {
		t.Fatal("expected error for empty bucket")
	}
}

// SQLStore

func openTestDB(t *testing.T) *SQLStore {
	t.Helper()
	db, err := OpenSQLite(t.Context(), filepath.Join(t.TempDir(), "meta", "metadata.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSQLStore(db)
}

func TestSQLStore_PutLookup(t *testing.T) {
	s := openTestDB(t)

	if _, found, err := s.Lookup(t.Context(), heroKey); found || err != nil {
		t.Fatalf("empty store: found=%v err=%v", found, err)
	}

	if err := s.Put(t.Context(), heroKey, heroRecord()); err != nil {
		t.Fatalf("Put: %v", err)
	}
	rec, found, err := s.Lookup(t.Context(), heroKey)
	if err != nil || !found || !maps.Equal(rec, heroRecord()) {
		t.Fatalf("Lookup = %v, %v, %v", rec, found, err)
	}

	// Put replaces, it does not merge
	if err := s.Put(t.Context(), heroKey, Record{"dam:scene7FileStatus": "NotPublished"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	rec, _, _ = s.Lookup(t.Context(), heroKey)
	if len(rec) != 1 || rec["dam:scene7FileStatus"] != "NotPublished" {
		t.Fatalf("after replace = %v", rec)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	s := openTestDB(t)
	v, err := Migrate(s.db)
	if err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if v != 1 {
		t.Fatalf("version = %d, want 1", v)
	}
}

// Limited

type countingStore struct {
	mu    sync.Mutex
	calls int
	rec   Record
	err   error
}

func (c *countingStore) Lookup(context.Context, string) (Record, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, false, c.err
	}
	return c.rec, c.rec != nil, nil
}

func TestLimited(t *testing.T) {
	next := &countingStore{rec: heroRecord()}
	l := NewLimited(next, 0.001, 1, 10*time.Millisecond)

	if _, found, err := l.Lookup(t.Context(), heroKey); err != nil || !found {
		t.Fatalf("first lookup: found=%v err=%v", found, err)
	}
	if _, _, err := l.Lookup(t.Context(), heroKey); err == nil {
		t.Fatal("second lookup should exceed the budget")
	}
	if next.calls != 1 {
		t.Fatalf("backend calls = %d, want 1", next.calls)
	}
}

// Instrumented

type fakeLookupMetrics struct {
	results []string
}

func (f *fakeLookupMetrics) ObserveLookup(store, result string, seconds float64) {
	f.results = append(f.results, store+":"+result)
}

func TestInstrumented(t *testing.T) {
	next := &countingStore{rec: heroRecord()}
	m := &fakeLookupMetrics{}
	s := NewInstrumented(next, "map", m)

	if _, found, _ := s.Lookup(t.Context(), heroKey); !found {
		t.Fatal("expected found")
	}
	next.rec = nil
	s.Lookup(t.Context(), heroKey)
	next.err = errors.New("backend down")
	if _, _, err := s.Lookup(t.Context(), heroKey); err == nil {
		t.Fatal("error should pass through")
	}

	want := []string{"map:found", "map:not_found", "map:error"}
	if len(m.results) != len(want) {
		t.Fatalf("results = %v, want %v", m.results, want)
	}
	for i := range want {
		if m.results[i] != want[i] {
			t.Fatalf("results = %v, want %v", m.results, want)
		}
	}
}
