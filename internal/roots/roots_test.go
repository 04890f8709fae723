package roots

import (
	"reflect"
	"strings"
	"testing"
)

func TestMinimalDirectoryCover(t *testing.T) {
	dirs := []string{"/a/b/c", "/a/b/d", "/a/b/c/d", "/a/b", "/b", "/b/c", "/b/cc", "/b/d"}

	got := MinimalDirectoryCover(dirs)
	want := []string{"/a/b", "/b"}

	if !reflect.DeepEqual(got, want) {
		t.Fatalf("MinimalDirectoryCover = %v, want %v", got, want)
	}
}

func TestMinimalDirectoryCoverIdempotent(t *testing.T) {
	inputs := [][]string{
		{"/tmp/a", "/tmp/a/b", "/tmp/y/z"},
		{"/x", "/x/y/z", "/xx", "/x/y"},
		{"/a", "/b", "/c"},
		nil,
	}

	for _, in := range inputs {
		once := MinimalDirectoryCover(in)
		twice := MinimalDirectoryCover(once)
		if !reflect.DeepEqual(once, twice) {
			t.Fatalf("cover not idempotent for %v: once=%v twice=%v", in, once, twice)
		}
		for i, a := range once {
			for j, b := range once {
				if i == j {
					continue
				}
				if strings.HasPrefix(b, a+"/") || a == b {
					t.Fatalf("cover entry %q is a prefix of %q in result %v", a, b, once)
				}
			}
		}
	}
}

func TestFilterStandaloneFiles(t *testing.T) {
	cover := MinimalDirectoryCover([]string{"/tmp/a", "/tmp/a/b"})
	files := []string{"/tmp/a/x", "/tmp/y/z", "/tmp/a/b/deep"}

	got := FilterStandaloneFiles(files, cover)
	want := []string{"/tmp/y/z"}

	if !reflect.DeepEqual(got, want) {
		t.Fatalf("FilterStandaloneFiles = %v, want %v", got, want)
	}
}

func TestFilterStandaloneFilesNeverDescendsFromCover(t *testing.T) {
	dirsSets := [][]string{
		{"/a", "/a/b/c"},
		{"/x/y", "/x/yy"},
	}
	filesSets := [][]string{
		{"/a/1", "/a/b/c/2", "/elsewhere"},
		{"/x/y/1", "/x/yy/2", "/x/z"},
	}

	for i := range dirsSets {
		cover := MinimalDirectoryCover(dirsSets[i])
		kept := FilterStandaloneFiles(filesSets[i], cover)
		for _, f := range kept {
			for _, d := range cover {
				if isDescendant(f, d) {
					t.Fatalf("kept file %q is a descendant of cover dir %q", f, d)
				}
			}
		}
	}
}

func TestClassifyExclusion(t *testing.T) {
	cases := []struct {
		pattern string
		kind    ExclusionKind
		stored  string
	}{
		{"!build", ExclusionNegation, "build"},
		{"**/node_modules", ExclusionRecursive, "**/node_modules"},
		{"*.log", ExclusionWildcard, "*.log"},
		{"/etc/hosts", ExclusionPath, "/etc/hosts"},
		{"!**/*.tmp", ExclusionNegation, "**/*.tmp"},
	}

	for _, c := range cases {
		got := ClassifyExclusion(c.pattern)
		if got.Kind != c.kind || got.Pattern != c.stored {
			t.Fatalf("ClassifyExclusion(%q) = %+v, want kind=%s pattern=%s", c.pattern, got, c.kind, c.stored)
		}
	}
}
