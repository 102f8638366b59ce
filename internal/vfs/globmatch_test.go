package vfs

import "testing"

func TestMatchPatternNoDoubleStar(t *testing.T) {
	cases := []struct {
		path, pattern string
		isFile, want  bool
	}{
		{"a/b.txt", "a/b.txt", true, true},
		{"a/b.txt", "a/*.txt", true, true},
		{"a/b/c.txt", "a/*.txt", true, false},
		{"a/b.txt", "a/*.csv", true, false},
	}
	for _, c := range cases {
		got, err := matchPattern(c.path, c.pattern, c.isFile)
		if err != nil {
			t.Fatalf("matchPattern(%q, %q) error: %v", c.path, c.pattern, err)
		}
		if got != c.want {
			t.Fatalf("matchPattern(%q, %q) = %v, want %v", c.path, c.pattern, got, c.want)
		}
	}
}

func TestMatchPatternDoubleStar(t *testing.T) {
	cases := []struct {
		path, pattern string
		isFile, want  bool
	}{
		{"a/b/c/d.txt", "a/**/d.txt", true, true},
		{"a/d.txt", "a/**/d.txt", true, true},
		{"a/b/d.csv", "a/**/d.txt", true, false},
		{"a/b", "a/**", false, true},
		{"a/b", "a/**", true, false}, // trailing ** never matches a file
	}
	for _, c := range cases {
		got, err := matchPattern(c.path, c.pattern, c.isFile)
		if err != nil {
			t.Fatalf("matchPattern(%q, %q) error: %v", c.path, c.pattern, err)
		}
		if got != c.want {
			t.Fatalf("matchPattern(%q, %q, isFile=%v) = %v, want %v", c.path, c.pattern, c.isFile, got, c.want)
		}
	}
}

func TestMatchPatternRejectsMultipleDoubleStars(t *testing.T) {
	_, err := matchPattern("a/b/c", "a/**/b/**", false)
	if err == nil {
		t.Fatal("expected UnsupportedPattern error for multiple **")
	}
}

func TestMatchPatternRejectsDoubleStarMixedWithOtherChars(t *testing.T) {
	_, err := matchPattern("a/bxx/c", "a/b**/c", false)
	if err == nil {
		t.Fatal("expected UnsupportedPattern error for ** mixed into a component")
	}
}

func TestMatchPatternRejectsEmptyPattern(t *testing.T) {
	_, err := matchPattern("a/b", "", true)
	if err == nil {
		t.Fatal("expected UnsupportedPattern error for empty pattern")
	}
}

func TestGlobWalkCollectsAcrossDepths(t *testing.T) {
	tree := map[string][2][]string{
		"":    {{"a"}, {"root.txt"}},
		"a":   {{"b"}, {"a1.txt"}},
		"a/b": {nil, {"b1.txt", "b2.csv"}},
	}
	walker := func(dir string) ([]string, []string, error) {
		entry, ok := tree[dir]
		if !ok {
			return nil, nil, nil
		}
		return entry[0], entry[1], nil
	}

	matches, err := GlobWalk("", "**/*.txt", walker)
	if err != nil {
		t.Fatalf("GlobWalk failed: %v", err)
	}
	want := map[string]bool{"root.txt": true, "a/a1.txt": true, "a/b/b1.txt": true}
	if len(matches) != len(want) {
		t.Fatalf("expected %d matches, got %v", len(want), matches)
	}
	for _, m := range matches {
		if !want[m] {
			t.Fatalf("unexpected match %q", m)
		}
	}
}
