// Package patch turns user-supplied patch directives into an ordered,
// collision-free set of patch files ready to be staged into a build context.
package patch

import (
	"fmt"
	"strings"
)

// Suffix is the conventional file suffix for staged patches.
const Suffix = ".patch"

// Directive is one user instruction to produce patches. It is a closed union:
// every consumer switches exhaustively over GitDirective and FileDirective.
type Directive interface {
	directive()
}

// GitDirective generates a single patch from a git repository, capturing both
// committed and staged-but-uncommitted changes relative to Ref.
type GitDirective struct {
	// RepoPath is the path to the repository. Empty means the current directory.
	RepoPath string

	// Ref is the revision (or range) to diff against. Empty means HEAD.
	Ref string

	// TargetDir is the in-container directory the patch will be applied in.
	TargetDir string
}

func (GitDirective) directive() {}

// FileDirective uses pregenerated patch files verbatim.
type FileDirective struct {
	Paths     []string
	TargetDir string
}

func (FileDirective) directive() {}

// Patch is one resolved patch. Index is its position across all directives in
// directive order, Name its normalized base name.
type Patch struct {
	Index     int
	Name      string
	Contents  []byte
	TargetDir string
}

// File returns the staged file name, a single path segment unique per run.
func (p Patch) File() string {
	return fmt.Sprintf("%04d-%s", p.Index, p.Name)
}

// normalizeName appends the patch suffix unless the name already carries it.
func normalizeName(name string) string {
	if strings.HasSuffix(name, Suffix) {
		return name
	}
	return name + Suffix
}

// gitPatchName derives a staged-file-safe name from a git ref. Slashes are
// replaced so the name stays a single path segment; plain refs are marked as
// also carrying uncommitted and staged working-tree state.
func gitPatchName(ref string) string {
	name := strings.ReplaceAll(ref, "/", "_")
	if !strings.Contains(name, "..") {
		name += "-HEAD+staged"
	}
	return name
}
