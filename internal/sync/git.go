package sync

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// GitDestination keeps the connections document committed in a local
// clone and pushes every change to origin.
type GitDestination struct {
	repo   string
	path   string // relative to repo
	branch string
}

// NewGitDestination mirrors into path inside the existing clone at repo,
// on branch.
func NewGitDestination(repo, path, branch string) *GitDestination {
	return &GitDestination{repo: repo, path: filepath.ToSlash(path), branch: branch}
}

// Write commits data when it differs from the committed document and
// pushes the commit.
func (d *GitDestination) Write(ctx context.Context, data []byte) error {
	if _, err := d.git(ctx, "checkout", d.branch); err != nil {
		return fmt.Errorf("git checkout %s: %w", d.branch, err)
	}
	// The branch may not exist on origin yet.
	_, _ = d.git(ctx, "pull", "--ff-only", "origin", d.branch)

	changed, err := d.stage(ctx, data)
	if err != nil || !changed {
		return err
	}
	if _, err := d.git(ctx, "commit", "-m", "conntree: mirror "+d.path); err != nil {
		return fmt.Errorf("git commit: %w", err)
	}
	if _, err := d.git(ctx, "push", "origin", d.branch); err != nil {
		return fmt.Errorf("git push: %w", err)
	}
	return nil
}

// stage writes the document and adds it to the index, reporting whether
// the index now differs from HEAD.
func (d *GitDestination) stage(ctx context.Context, data []byte) (bool, error) {
	abs := filepath.Join(d.repo, filepath.FromSlash(d.path))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return false, fmt.Errorf("create %s: %w", filepath.Dir(d.path), err)
	}
	if err := os.WriteFile(abs, data, 0o600); err != nil {
		return false, fmt.Errorf("write %s: %w", d.path, err)
	}
	if _, err := d.git(ctx, "add", "--", d.path); err != nil {
		return false, fmt.Errorf("git add: %w", err)
	}
	out, err := d.git(ctx, "status", "--porcelain", "--", d.path)
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	return len(bytes.TrimSpace(out)) > 0, nil
}

func (d *GitDestination) git(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = d.repo
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

func (d *GitDestination) String() string {
	return "git:" + d.repo + "#" + d.branch + ":" + d.path
}
