package name

import (
	"strings"

	gname "github.com/google/go-containerregistry/pkg/name"
	"github.com/pkg/errors"

	"github.com/imgpatch/imgpatch/internal/style"
)

// EnsureTagged validates a base image reference and requires an explicit tag.
// Patching an implicit `latest` is almost always a mistake, and the tag is
// also what the target repository is derived from.
func EnsureTagged(ref string) error {
	if _, err := gname.NewTag(ref, gname.WeakValidation); err != nil {
		return errors.Wrapf(err, "invalid base image reference %s", style.Symbol(ref))
	}

	lastSegment := ref[strings.LastIndex(ref, "/")+1:]
	if !strings.Contains(lastSegment, ":") {
		return errors.Errorf("please specify a tag for the base image %s", style.Symbol(ref))
	}

	return nil
}

// Repository strips the tag from an explicitly tagged reference, yielding the
// default target repository for the patched image.
func Repository(ref string) string {
	i := strings.LastIndex(ref, ":")
	if i < 0 || i < strings.LastIndex(ref, "/") {
		return ref
	}
	return ref[:i]
}

// FQTag joins a repository and tag into a fully-qualified, validated reference.
func FQTag(repository, tag string) (string, error) {
	fq := repository + ":" + tag
	if _, err := gname.NewTag(fq, gname.WeakValidation); err != nil {
		return "", errors.Wrapf(err, "invalid tag %s", style.Symbol(fq))
	}
	return fq, nil
}
