package patch

import (
	"fmt"

	"github.com/imgpatch/imgpatch/internal/style"
)

// EmptyDiffError reports a git diff that produced no output. An empty diff
// almost always means a wrong ref or repository path, so it is rejected
// instead of silently producing a no-op patch.
type EmptyDiffError struct {
	RepoPath string
	Ref      string
}

func (e *EmptyDiffError) Error() string {
	return fmt.Sprintf("diff for repository %s at ref %s is empty", style.Symbol(e.RepoPath), style.Symbol(e.Ref))
}

// DiffAcquisitionError reports a failure to obtain a diff from git at all,
// e.g. an invalid ref or a path that is not a repository.
type DiffAcquisitionError struct {
	RepoPath string
	Ref      string
	Cause    error
}

func (e *DiffAcquisitionError) Error() string {
	return fmt.Sprintf("could not acquire git diff for repository %s at ref %s: %s - is the repository path correct?",
		style.Symbol(e.RepoPath), style.Symbol(e.Ref), e.Cause)
}

func (e *DiffAcquisitionError) Unwrap() error {
	return e.Cause
}
