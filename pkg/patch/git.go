package patch

import (
	"bytes"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/pkg/errors"
)

// Differ captures the textual diff for a repository at a given ref.
type Differ interface {
	Diff(repoPath, ref string) ([]byte, error)
}

// GitDiffer shells out to the git binary for the diff text, so the captured
// output is exactly what `git diff <ref>` produces, including changes that are
// staged but not committed. The repository and ref are validated with go-git
// first to fail with a useful message instead of a raw exit status.
type GitDiffer struct{}

func (GitDiffer) Diff(repoPath, ref string) ([]byte, error) {
	repo, err := git.PlainOpenWithOptions(repoPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, &DiffAcquisitionError{RepoPath: repoPath, Ref: ref, Cause: err}
	}

	// Ranges are left for git itself to interpret.
	if !strings.Contains(ref, "..") {
		if _, err := repo.ResolveRevision(plumbing.Revision(ref)); err != nil {
			return nil, &DiffAcquisitionError{RepoPath: repoPath, Ref: ref, Cause: errors.Wrapf(err, "resolving revision %s", ref)}
		}
	}

	absPath, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, &DiffAcquisitionError{RepoPath: repoPath, Ref: ref, Cause: err}
	}

	// Limiting the diff to the repository path keeps the output identical no
	// matter which directory the process was started from.
	cmd := exec.Command("git", "-C", repoPath, "diff", ref, "--", absPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		cause := err
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			cause = errors.Errorf("%s: %s", err, msg)
		}
		return nil, &DiffAcquisitionError{RepoPath: repoPath, Ref: ref, Cause: cause}
	}

	return out, nil
}
