package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types"
	imagetypes "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	gname "github.com/google/go-containerregistry/pkg/name"
	"github.com/pkg/errors"

	"github.com/imgpatch/imgpatch/internal/dockerfile"
	"github.com/imgpatch/imgpatch/internal/name"
	"github.com/imgpatch/imgpatch/internal/stage"
	"github.com/imgpatch/imgpatch/internal/style"
	"github.com/imgpatch/imgpatch/pkg/logging"
	"github.com/imgpatch/imgpatch/pkg/patch"
)

const timeTagFormat = "20060102150405"

// CopyEntry schedules one host file or directory for copying into the image.
type CopyEntry struct {
	Source string
	Dest   string
}

// PatchOptions is the normalized configuration for one patch run.
type PatchOptions struct {
	// BaseImage is the image the patched image is derived from. Required,
	// must carry an explicit tag.
	BaseImage string

	// Repository is the target image name. Defaults to BaseImage minus its tag.
	Repository string

	// Tags are the tags to apply to the built image. When empty a time-based
	// tag is generated.
	Tags []string

	// TagTime requests an additional time-based tag even when Tags is non-empty.
	TagTime bool

	// Workdir overrides the final working directory. Defaults to the base
	// image's original working directory.
	Workdir string

	// User overrides the final user. Defaults to the base image's original user.
	User string

	// Directives produce the patches, in the order the user issued them.
	Directives []patch.Directive

	// RunBefore and RunAfter are shell commands run inside the image before
	// and after patching.
	RunBefore []string
	RunAfter  []string

	// Copies are host sources copied into the image before any command runs.
	Copies []CopyEntry

	// NoCache and Network are forwarded verbatim to the daemon build.
	NoCache bool
	Network string

	// Publish pushes every produced tag after a successful build.
	Publish bool
}

// PatchResult reports what a successful run produced.
type PatchResult struct {
	ImageID string
	Tags    []string
}

// Patch derives a patched image from opts.BaseImage. On build failure the
// staging directory is deliberately preserved and its location is part of the
// returned error; on success it is destroyed.
func (c *Client) Patch(ctx context.Context, opts PatchOptions) (*PatchResult, error) {
	if len(opts.Directives) == 0 && len(opts.RunBefore) == 0 && len(opts.RunAfter) == 0 && len(opts.Copies) == 0 {
		return nil, errors.New("no patches, commands or copies specified - nothing to do")
	}

	if err := name.EnsureTagged(opts.BaseImage); err != nil {
		return nil, err
	}

	repository := opts.Repository
	if repository == "" {
		repository = name.Repository(opts.BaseImage)
	}

	fqTags, err := c.resolveTags(repository, opts.Tags, opts.TagTime)
	if err != nil {
		return nil, err
	}

	c.logger.Infof("Pulling %s ...", style.Symbol(opts.BaseImage))
	origUser, origWorkdir, err := c.pullBaseImage(ctx, opts.BaseImage)
	if err != nil {
		return nil, err
	}

	stageDir, err := stage.New()
	if err != nil {
		return nil, err
	}

	patches, copies, err := c.populateStage(stageDir, opts)
	if err != nil {
		stageDir.Destroy()
		return nil, err
	}

	finalWorkdir := opts.Workdir
	if finalWorkdir == "" {
		finalWorkdir = origWorkdir
	}
	finalUser := opts.User
	if finalUser == "" {
		finalUser = origUser
	}

	recipe := dockerfile.Serialize(dockerfile.Recipe(dockerfile.RecipeConfig{
		BaseImage:    opts.BaseImage,
		Copies:       copies,
		RunBefore:    opts.RunBefore,
		Patches:      patches,
		RunAfter:     opts.RunAfter,
		FinalWorkdir: finalWorkdir,
		FinalUser:    finalUser,
	}))

	c.logger.Debug("Generated Dockerfile:")
	c.logger.Debug(recipe)

	if err := stageDir.Write("Dockerfile", []byte(recipe)); err != nil {
		stageDir.Destroy()
		return nil, err
	}

	c.logger.Info("Building image...")
	imageID, err := c.build(ctx, stageDir, fqTags[0], opts)
	if err != nil {
		// The staging directory outlives the run on purpose so the operator
		// can inspect the recipe and patches that produced the failure.
		return nil, errors.Wrapf(err, "build failed, staging directory preserved for inspection at %s", stageDir.Path())
	}

	if err := stageDir.Destroy(); err != nil {
		c.logger.Warnf("could not remove staging directory: %s", err)
	}

	for _, fq := range fqTags[1:] {
		if err := c.docker.ImageTag(ctx, fqTags[0], fq); err != nil {
			return nil, errors.Wrapf(err, "tagging image as %s", style.Symbol(fq))
		}
	}

	result := &PatchResult{ImageID: imageID, Tags: fqTags}

	if opts.Publish {
		c.logger.Info("Image successfully built! Pushing it now")
		for _, fq := range fqTags {
			if err := c.pushImage(ctx, fq); err != nil {
				return nil, err
			}
		}
		return result, nil
	}

	c.logger.Info("Image successfully built! It can be pushed with:")
	for _, fq := range fqTags {
		c.logger.Infof("  docker push %s", fq)
	}

	return result, nil
}

// resolveTags computes the fully-qualified tag list. A time-based tag is
// appended when no tags were requested, or when tagTime is set and the tag is
// not already present.
func (c *Client) resolveTags(repository string, tags []string, tagTime bool) ([]string, error) {
	timeTag := c.clock().Format(timeTagFormat)
	all := append([]string{}, tags...)
	if len(all) == 0 || (tagTime && !contains(all, timeTag)) {
		all = append(all, timeTag)
	}

	fqTags := make([]string, 0, len(all))
	for _, tag := range all {
		fq, err := name.FQTag(repository, tag)
		if err != nil {
			return nil, err
		}
		fqTags = append(fqTags, fq)
	}
	return fqTags, nil
}

// pullBaseImage pulls the base image and reports its original user and
// working directory, which the recipe restores at the end.
func (c *Client) pullBaseImage(ctx context.Context, baseImage string) (user, workdir string, err error) {
	regAuth, err := c.registryAuth(baseImage)
	if err != nil {
		return "", "", err
	}

	rc, err := c.docker.ImagePull(ctx, baseImage, imagetypes.PullOptions{RegistryAuth: regAuth})
	if err != nil {
		return "", "", errors.Wrapf(err, "could not pull base image %s", style.Symbol(baseImage))
	}

	if err := c.displayStream(rc, nil); err != nil {
		return "", "", errors.Wrapf(err, "could not pull base image %s", style.Symbol(baseImage))
	}
	if err := rc.Close(); err != nil {
		return "", "", err
	}

	inspect, _, err := c.docker.ImageInspectWithRaw(ctx, baseImage)
	if err != nil {
		return "", "", errors.Wrapf(err, "inspecting base image %s", style.Symbol(baseImage))
	}

	workdir = "/"
	if inspect.Config != nil {
		user = inspect.Config.User
		if inspect.Config.WorkingDir != "" {
			workdir = inspect.Config.WorkingDir
		}
	}
	return user, workdir, nil
}

// populateStage resolves all directives and writes patches and copy sources
// into the staging directory.
func (c *Client) populateStage(stageDir *stage.Dir, opts PatchOptions) ([]dockerfile.PatchApplication, []dockerfile.CopyEntry, error) {
	resolved, err := patch.NewAssembler(c.differ).Assemble(opts.Directives)
	if err != nil {
		return nil, nil, err
	}

	patches := make([]dockerfile.PatchApplication, 0, len(resolved))
	for _, p := range resolved {
		c.logger.Infof("Adding patch %s", style.Symbol(p.File()))
		if err := stageDir.Write(p.File(), p.Contents); err != nil {
			return nil, nil, err
		}
		patches = append(patches, dockerfile.PatchApplication{File: p.File(), TargetDir: p.TargetDir})
	}

	copies := make([]dockerfile.CopyEntry, 0, len(opts.Copies))
	for i, entry := range opts.Copies {
		source, err := expandHome(entry.Source)
		if err != nil {
			return nil, nil, err
		}
		c.logger.Infof("Copying %s to the staging directory", style.Symbol(source))

		staged := filepath.Join(fmt.Sprintf("copy-%08d", i), filepath.Base(source))
		if err := stageDir.Import(source, staged); err != nil {
			return nil, nil, err
		}
		copies = append(copies, dockerfile.CopyEntry{StagedPath: filepath.ToSlash(staged), Dest: entry.Dest})
	}

	return patches, copies, nil
}

// build submits the staging directory as build context and streams the build
// log as it arrives.
func (c *Client) build(ctx context.Context, stageDir *stage.Dir, tag string, opts PatchOptions) (string, error) {
	buildContext, err := archive.TarWithOptions(stageDir.Path(), &archive.TarOptions{})
	if err != nil {
		return "", errors.Wrap(err, "creating build context")
	}
	defer buildContext.Close()

	res, err := c.docker.ImageBuild(ctx, buildContext, types.ImageBuildOptions{
		Tags:        []string{tag},
		NoCache:     opts.NoCache,
		NetworkMode: opts.Network,
		Remove:      true,
	})
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	var imageID string
	err = c.displayStream(res.Body, func(msg jsonmessage.JSONMessage) {
		var result types.BuildResult
		if msg.Aux != nil && json.Unmarshal(*msg.Aux, &result) == nil {
			imageID = result.ID
		}
	})
	if err != nil {
		return "", err
	}

	return imageID, nil
}

// pushImage pushes one tag, streaming status lines. Any error marker in the
// stream fails the push.
func (c *Client) pushImage(ctx context.Context, tag string) error {
	c.logger.Infof("Pushing %s", style.Symbol(tag))

	regAuth, err := c.registryAuth(tag)
	if err != nil {
		return err
	}

	rc, err := c.docker.ImagePush(ctx, tag, imagetypes.PushOptions{RegistryAuth: regAuth})
	if err != nil {
		return errors.Wrapf(err, "pushing %s", style.Symbol(tag))
	}

	if err := c.displayStream(rc, nil); err != nil {
		return errors.Wrapf(err, "pushing %s", style.Symbol(tag))
	}
	return rc.Close()
}

// displayStream prints a daemon JSON message stream incrementally. The stream
// itself reports failures (e.g. build errors) through error fields, which
// surface here as an error.
func (c *Client) displayStream(rc io.Reader, aux func(jsonmessage.JSONMessage)) error {
	writer := logging.GetWriterForLevel(c.logger, logging.InfoLevel)
	termFd, isTerm := logging.IsTerminal(writer)
	return jsonmessage.DisplayJSONMessagesStream(rc, writer, termFd, isTerm, aux)
}

// registryAuth resolves credentials for the image's registry into the header
// format the daemon expects.
func (c *Client) registryAuth(ref string) (string, error) {
	parsed, err := gname.ParseReference(ref, gname.WeakValidation)
	if err != nil {
		return "", errors.Wrapf(err, "parsing reference %s", style.Symbol(ref))
	}

	auth, err := c.keychain.Resolve(parsed.Context().Registry)
	if err != nil {
		return "", errors.Wrapf(err, "resolving keychain for %s", style.Symbol(ref))
	}

	authConfig, err := auth.Authorization()
	if err != nil {
		return "", errors.Wrapf(err, "resolving authorization for %s", style.Symbol(ref))
	}

	encoded, err := json.Marshal(registry.AuthConfig{
		Username:      authConfig.Username,
		Password:      authConfig.Password,
		Auth:          authConfig.Auth,
		IdentityToken: authConfig.IdentityToken,
		RegistryToken: authConfig.RegistryToken,
		ServerAddress: parsed.Context().RegistryStr(),
	})
	if err != nil {
		return "", err
	}

	return base64.URLEncoding.EncodeToString(encoded), nil
}

func expandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~"+string(os.PathSeparator)) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.Wrap(err, "expanding home directory")
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
