package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const commitMessage = "archive: update assignment history"

// GitDestination writes JSONL data to a file in a git clone, commits it
// and pushes to origin.
type GitDestination struct {
	repo   string // path to the local clone
	file   string // file path within the repo
	branch string
}

// NewGitDestination creates a git destination. repo is the path to an
// existing local clone with an origin remote.
func NewGitDestination(repo, file, branch string) *GitDestination {
	return &GitDestination{repo: repo, file: file, branch: branch}
}

// Name implements Destination.
func (d *GitDestination) Name() string { return "git:" + filepath.Join(d.repo, d.file) }

// Write replaces the archive file and pushes a commit when it changed.
func (d *GitDestination) Write(ctx context.Context, data []byte) error {
	if _, err := d.git(ctx, "checkout", d.branch); err != nil {
		return err
	}
	// The remote branch may not exist yet.
	_, _ = d.git(ctx, "pull", "--ff-only", "origin", d.branch)

	path := filepath.Join(d.repo, d.file)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write archive file: %w", err)
	}

	if _, err := d.git(ctx, "add", d.file); err != nil {
		return err
	}
	// Exit status 0 means nothing is staged.
	if _, err := d.git(ctx, "diff", "--cached", "--quiet"); err == nil {
		return nil
	}
	if _, err := d.git(ctx, "commit", "-m", commitMessage); err != nil {
		return err
	}
	if _, err := d.git(ctx, "push", "origin", d.branch); err != nil {
		return err
	}
	return nil
}

// git runs one git command in the clone. A failure carries the command's
// combined output.
func (d *GitDestination) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = d.repo
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(args) > 0 && args[0] == "diff" {
			return "", err
		}
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(out.String()))
	}
	return out.String(), nil
}
