// Package dockerfile models the generated build recipe as an ordered sequence
// of declarative steps and serializes it deterministically.
package dockerfile

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Step is one declarative instruction of a recipe. The union is closed:
// serialization switches exhaustively over the variants below.
type Step interface {
	line() string
}

// From declares the base image.
type From struct {
	Image string
}

func (s From) line() string { return "FROM " + s.Image }

// User sets the acting user for subsequent steps.
type User struct {
	Name string
}

var plainUser = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

func (s User) line() string {
	if plainUser.MatchString(s.Name) {
		return "USER " + s.Name
	}
	return fmt.Sprintf("USER %q", s.Name)
}

// Workdir sets the working directory for subsequent steps.
type Workdir struct {
	Path string
}

func (s Workdir) line() string { return fmt.Sprintf("WORKDIR %q", s.Path) }

// Run executes a shell command inside the image.
type Run struct {
	Command string
}

func (s Run) line() string { return "RUN " + s.Command }

// Copy copies a staged source into the image. The two paths are emitted in the
// JSON list form so they survive spaces.
type Copy struct {
	Src  string
	Dest string
}

func (s Copy) line() string {
	paths, _ := json.Marshal([]string{s.Src, s.Dest})
	return "COPY " + string(paths)
}

// CopyToRoot copies a staged file to the image root, the form used for patch
// files so they are addressable at a well-known absolute path.
type CopyToRoot struct {
	File string
}

func (s CopyToRoot) line() string { return fmt.Sprintf("COPY %q /", s.File) }

// Comment is a human-readable section marker.
type Comment struct {
	Text string
}

func (s Comment) line() string { return "# " + s.Text }

// Blank separates logical sections.
type Blank struct{}

func (Blank) line() string { return "" }

// Serialize renders steps into the line-oriented recipe text. Identical step
// sequences always produce byte-identical output.
func Serialize(steps []Step) string {
	lines := make([]string, 0, len(steps))
	for _, step := range steps {
		lines = append(lines, step.line())
	}
	return strings.Join(lines, "\n") + "\n"
}
