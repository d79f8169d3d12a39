package dockerfile

import "fmt"

// PatchApplication is one patch block of a recipe: the staged file to copy in
// and the directory it gets applied in.
type PatchApplication struct {
	File      string
	TargetDir string
}

// CopyEntry is one staged host source and its in-image destination.
type CopyEntry struct {
	StagedPath string
	Dest       string
}

// RecipeConfig holds everything the recipe is generated from. FinalWorkdir and
// FinalUser are the resolved values (explicit override or the base image's
// original setting); an empty FinalUser omits the trailing USER step.
type RecipeConfig struct {
	BaseImage    string
	Copies       []CopyEntry
	RunBefore    []string
	Patches      []PatchApplication
	RunAfter     []string
	FinalWorkdir string
	FinalUser    string
}

// Recipe generates the ordered step sequence for a patch build. The section
// order is a hard contract: copies and pre-commands run before any patch,
// patches apply in slice order, and the final workdir/user are restored last.
// Patch application needs elevated permission regardless of the base image's
// default user, so the acting user is reset to root up front.
func Recipe(cfg RecipeConfig) []Step {
	steps := []Step{
		From{Image: cfg.BaseImage},
		User{Name: "root"},
		Blank{},
	}

	if len(cfg.Copies) > 0 {
		steps = append(steps, Comment{Text: "Files or directories to copy into the image"})
		for _, c := range cfg.Copies {
			steps = append(steps, Copy{Src: c.StagedPath, Dest: c.Dest})
		}
		steps = append(steps, Blank{})
	}

	if len(cfg.RunBefore) > 0 {
		steps = append(steps, Comment{Text: "Commands to run before patching"})
		for _, command := range cfg.RunBefore {
			steps = append(steps, Run{Command: command})
		}
		steps = append(steps, Blank{})
	}

	for _, p := range cfg.Patches {
		steps = append(steps,
			Comment{Text: "patch " + p.File},
			CopyToRoot{File: p.File},
			Workdir{Path: p.TargetDir},
			Run{Command: fmt.Sprintf("git apply %q", "/"+p.File)},
			Blank{},
		)
	}

	if len(cfg.RunAfter) > 0 {
		steps = append(steps, Comment{Text: "Commands to run after patching"})
		for _, command := range cfg.RunAfter {
			steps = append(steps, Run{Command: command})
		}
		steps = append(steps, Blank{})
	}

	steps = append(steps, Workdir{Path: cfg.FinalWorkdir})
	if cfg.FinalUser != "" {
		steps = append(steps, User{Name: cfg.FinalUser})
	}

	return steps
}
