package sync

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// newClone creates a bare origin with one commit on main and returns a
// clone of it.
func newClone(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH")
	}
	origin := t.TempDir()
	git(t, origin, "init", "--bare")

	work := t.TempDir()
	git(t, work, "clone", origin, "repo")
	repo := filepath.Join(work, "repo")
	git(t, repo, "config", "user.email", "ops@example.com")
	git(t, repo, "config", "user.name", "Ops")
	git(t, repo, "branch", "-m", "main")
	if err := os.WriteFile(filepath.Join(repo, "README"), []byte("mirror\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	git(t, repo, "add", ".")
	git(t, repo, "commit", "-m", "init")
	git(t, repo, "push", "origin", "main")
	return repo
}

func git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

func TestGitDestinationCommitsOnlyChanges(t *testing.T) {
	repo := newClone(t)
	dest := NewGitDestination(repo, "confCons.xml", "main")
	ctx := context.Background()

	v1 := []byte(`<Connections Name="Connections" ConfVersion="2.8"></Connections>`)
	v2 := []byte(`<Connections Name="Connections" ConfVersion="2.8"><Node Name="web01"/></Connections>`)
	for i, data := range [][]byte{v1, v1, v2} {
		if err := dest.Write(ctx, data); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	got, err := os.ReadFile(filepath.Join(repo, "confCons.xml"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(v2) {
		t.Errorf("document = %q, want %q", got, v2)
	}
	if n := git(t, repo, "rev-list", "--count", "HEAD"); n != "3" {
		t.Errorf("commit count = %s, want 3 (the repeated write is not committed)", n)
	}
	if msg := git(t, repo, "log", "-1", "--format=%s"); msg != "conntree: mirror confCons.xml" {
		t.Errorf("commit message = %q", msg)
	}
	if local, remote := git(t, repo, "rev-parse", "HEAD"), git(t, repo, "rev-parse", "origin/main"); local != remote {
		t.Error("the mirror commit was not pushed")
	}
}

func TestGitDestinationCreatesSubdirectories(t *testing.T) {
	repo := newClone(t)
	dest := NewGitDestination(repo, "mirror/confCons.xml", "main")

	data := []byte(`<Connections Name="Connections"></Connections>`)
	if err := dest.Write(context.Background(), data); err != nil {
		t.Fatalf("write: %v", err)
	}
	info, err := os.Stat(filepath.Join(repo, "mirror", "confCons.xml"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("mode = %v, want 0600", perm)
	}
}

func TestGitDestinationUnknownBranch(t *testing.T) {
	repo := newClone(t)
	dest := NewGitDestination(repo, "confCons.xml", "missing")
	err := dest.Write(context.Background(), []byte("<Connections/>"))
	if err == nil || !strings.Contains(err.Error(), "git checkout missing") {
		t.Fatalf("expected a checkout error, got %v", err)
	}
}
