package patch

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Assembler resolves directives into patches, preserving the order in which
// the directives were issued. Resolution is strictly sequential: the Nth patch
// applied is the Nth one resolved, never grouped by directive kind.
type Assembler struct {
	differ Differ
}

func NewAssembler(differ Differ) *Assembler {
	return &Assembler{differ: differ}
}

// Assemble resolves all directives in order. Indices are contiguous from 0
// across directives of both kinds. Any resolution failure aborts the whole
// assembly; partial results are discarded with the run.
func (a *Assembler) Assemble(directives []Directive) ([]Patch, error) {
	var patches []Patch
	next := 0

	for _, d := range directives {
		switch d := d.(type) {
		case GitDirective:
			p, err := a.resolveGit(d, next)
			if err != nil {
				return nil, err
			}
			patches = append(patches, p)
			next++
		case FileDirective:
			for _, path := range d.Paths {
				p, err := resolveFile(path, d.TargetDir, next)
				if err != nil {
					return nil, err
				}
				patches = append(patches, p)
				next++
			}
		default:
			// The directive union is closed; reaching this is a bug in the caller.
			return nil, errors.Errorf("unknown directive type %T", d)
		}
	}

	return patches, nil
}

func (a *Assembler) resolveGit(d GitDirective, index int) (Patch, error) {
	repoPath := d.RepoPath
	if repoPath == "" {
		repoPath = "."
	}
	ref := d.Ref
	if ref == "" {
		ref = "HEAD"
	}

	diff, err := a.differ.Diff(repoPath, ref)
	if err != nil {
		return Patch{}, err
	}

	if strings.TrimSpace(string(diff)) == "" {
		return Patch{}, &EmptyDiffError{RepoPath: repoPath, Ref: ref}
	}

	return Patch{
		Index:     index,
		Name:      normalizeName(gitPatchName(ref)),
		Contents:  diff,
		TargetDir: d.TargetDir,
	}, nil
}

func resolveFile(path, targetDir string, index int) (Patch, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return Patch{}, errors.Wrapf(err, "reading patch file %s", path)
	}

	return Patch{
		Index:     index,
		Name:      normalizeName(filepath.Base(path)),
		Contents:  contents,
		TargetDir: targetDir,
	}, nil
}
