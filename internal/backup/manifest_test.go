package backup

import "testing"

func TestParseManifestScenario(t *testing.T) {
	line := "MyWorld/db/0001.ldb:1024,MyWorld/db/0002.ldb:2048,MyWorld/level.dat:512,MyWorld/level.dat.bak:512,MyWorld/levelname.txt:16"
	m, err := ParseManifest(line, "MyWorld")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(m) != 5 {
		t.Fatalf("want 5 entries, got %d", len(m))
	}
	wantPaths := []string{"db/0001.ldb", "db/0002.ldb", "level.dat", "level.dat.bak", "levelname.txt"}
	wantLens := []int64{1024, 2048, 512, 512, 16}
	for i, e := range m {
		if e.Path != wantPaths[i] || e.Length != wantLens[i] {
			t.Fatalf("entry %d = %+v, want %s:%d", i, e, wantPaths[i], wantLens[i])
		}
	}
}

func TestParseManifestWithSpaces(t *testing.T) {
	m, err := ParseManifest("MyWorld/db/a.ldb:10, MyWorld/level.dat:5", "MyWorld")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(m) != 2 || m[1].Path != "level.dat" || m[1].Length != 5 {
		t.Fatalf("entries = %+v", m)
	}
}

func TestParseManifestErrors(t *testing.T) {
	cases := map[string]string{
		"empty line":       "",
		"no files":         " , ,",
		"missing length":   "MyWorld/db/a.ldb",
		"empty length":     "MyWorld/db/a.ldb:",
		"bad length":       "MyWorld/db/a.ldb:ten",
		"negative length":  "MyWorld/db/a.ldb:-5",
		"path only colon":  ":100",
	}
	for name, line := range cases {
		if _, err := ParseManifest(line, "MyWorld"); err == nil {
			t.Fatalf("%s: expected error for %q", name, line)
		}
	}
}

func TestResolvePathHeuristic(t *testing.T) {
	const total, tail = 5, 3
	cases := []struct {
		raw  string
		i    int
		want string
	}{
		{"0001.ldb", 0, "db/0001.ldb"},      // before the tail, implied db/
		{"db/0002.ldb", 1, "db/0002.ldb"},   // explicit db/ trusted
		{"level.dat", 2, "level.dat"},       // tail entries at world root
		{"level.dat.bak", 3, "level.dat.bak"},
		{"levelname.txt", 4, "levelname.txt"},
	}
	for _, c := range cases {
		if got := ResolvePath(c.raw, c.i, total, tail); got != c.want {
			t.Fatalf("ResolvePath(%q,%d) = %q, want %q", c.raw, c.i, got, c.want)
		}
	}
}

func TestResolvePathExplicitDBInTail(t *testing.T) {
	// A tail-indexed entry that explicitly names db/ keeps its path.
	if got := ResolvePath("db/odd.ldb", 4, 5, 3); got != "db/odd.ldb" {
		t.Fatalf("explicit db/ not trusted in tail: %q", got)
	}
}

func TestResolvePathConfigurableTail(t *testing.T) {
	// With tail=1 only the final entry is metadata.
	if got := ResolvePath("level.dat", 2, 4, 1); got != "db/level.dat" {
		t.Fatalf("tail=1 should push index 2 under db/: %q", got)
	}
	if got := ResolvePath("levelname.txt", 3, 4, 1); got != "levelname.txt" {
		t.Fatalf("tail entry misplaced: %q", got)
	}
}
