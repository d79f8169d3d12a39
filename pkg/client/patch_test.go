package client_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/heroku/color"
	"github.com/sclevine/spec"
	"github.com/sclevine/spec/report"

	"github.com/imgpatch/imgpatch/internal/fakes"
	"github.com/imgpatch/imgpatch/pkg/client"
	"github.com/imgpatch/imgpatch/pkg/logging"
	"github.com/imgpatch/imgpatch/pkg/patch"
	h "github.com/imgpatch/imgpatch/testhelpers"
)

func TestPatch(t *testing.T) {
	color.Disable(true)
	defer color.Disable(false)
	spec.Run(t, "Patch", testPatch, spec.Report(report.Terminal{}))
}

type stubDiffer struct {
	diffs map[string]string
}

func (f *stubDiffer) Diff(repoPath, ref string) ([]byte, error) {
	diff, ok := f.diffs[repoPath+"@"+ref]
	if !ok {
		return nil, &patch.DiffAcquisitionError{RepoPath: repoPath, Ref: ref, Cause: fmt.Errorf("unknown revision")}
	}
	return []byte(diff), nil
}

func testPatch(t *testing.T, when spec.G, it spec.S) {
	var (
		fakeDocker *fakes.DockerClient
		differ     *stubDiffer
		outBuf     bytes.Buffer
		errBuf     bytes.Buffer
		subject    *client.Client
	)

	it.Before(func() {
		fakeDocker = fakes.NewDockerClient()
		fakeDocker.BaseConfig = container.Config{User: "www-data", WorkingDir: "/srv/original"}
		fakeDocker.ImageID = "sha256:f00d"
		differ = &stubDiffer{diffs: map[string]string{".@HEAD~1": "some diff\n"}}
		outBuf.Reset()
		errBuf.Reset()

		var err error
		subject, err = client.NewClient(
			client.WithLogger(logging.NewLogWithWriters(&outBuf, &errBuf)),
			client.WithDockerClient(fakeDocker),
			client.WithDiffer(differ),
			client.WithClock(func() time.Time {
				return time.Date(2021, 6, 6, 12, 13, 14, 0, time.UTC)
			}),
		)
		h.AssertNil(t, err)
	})

	gitOpts := func() client.PatchOptions {
		return client.PatchOptions{
			BaseImage: "app:1.0",
			Directives: []patch.Directive{
				patch.GitDirective{Ref: "HEAD~1", TargetDir: "/srv/app"},
			},
		}
	}

	when("nothing would change the image", func() {
		it("rejects the run before contacting the daemon", func() {
			_, err := subject.Patch(context.Background(), client.PatchOptions{BaseImage: "app:1.0"})
			h.AssertError(t, err, "no patches, commands or copies specified - nothing to do")
			h.AssertEq(t, len(fakeDocker.PulledImages), 0)
			h.AssertEq(t, fakeDocker.BuildCount, 0)
		})
	})

	when("the base image has no tag", func() {
		it("rejects the run before contacting the daemon", func() {
			opts := gitOpts()
			opts.BaseImage = "app"

			_, err := subject.Patch(context.Background(), opts)
			h.AssertErrorContains(t, err, "please specify a tag for the base image")
			h.AssertEq(t, len(fakeDocker.PulledImages), 0)
		})
	})

	when("a git directive produces a patch", func() {
		it("builds the documented recipe and tags with the current time", func() {
			result, err := subject.Patch(context.Background(), gitOpts())
			h.AssertNil(t, err)

			h.AssertEq(t, fakeDocker.PulledImages, []string{"app:1.0"})
			h.AssertEq(t, fakeDocker.BuildCount, 1)
			h.AssertEq(t, fakeDocker.BuildOptions.Tags, []string{"app:20210606121314"})

			h.AssertEq(t, string(fakeDocker.BuildContextFiles["0000-HEAD~1-HEAD+staged.patch"]), "some diff\n")
			h.AssertEq(t, string(fakeDocker.BuildContextFiles["Dockerfile"]), `FROM app:1.0
USER root

# patch 0000-HEAD~1-HEAD+staged.patch
COPY "0000-HEAD~1-HEAD+staged.patch" /
WORKDIR "/srv/app"
RUN git apply "/0000-HEAD~1-HEAD+staged.patch"

WORKDIR "/srv/original"
USER www-data
`)

			h.AssertEq(t, result.Tags, []string{"app:20210606121314"})
			h.AssertEq(t, result.ImageID, "sha256:f00d")
			h.AssertContains(t, outBuf.String(), "docker push app:20210606121314")
		})

		it("destroys the staging directory after a successful build", func() {
			stageRoot := t.TempDir()
			t.Setenv("TMPDIR", stageRoot)

			_, err := subject.Patch(context.Background(), gitOpts())
			h.AssertNil(t, err)

			entries, err := os.ReadDir(stageRoot)
			h.AssertNil(t, err)
			h.AssertEq(t, len(entries), 0)
		})

		it("announces the patch", func() {
			_, err := subject.Patch(context.Background(), gitOpts())
			h.AssertNil(t, err)
			h.AssertContains(t, outBuf.String(), "Adding patch '0000-HEAD~1-HEAD+staged.patch'")
		})
	})

	when("explicit tags are given", func() {
		it("builds with the first and applies the rest", func() {
			opts := gitOpts()
			opts.Tags = []string{"v1", "v2"}

			result, err := subject.Patch(context.Background(), opts)
			h.AssertNil(t, err)
			h.AssertEq(t, fakeDocker.BuildOptions.Tags, []string{"app:v1"})
			h.AssertEq(t, fakeDocker.Tagged["app:v2"], "app:v1")
			h.AssertEq(t, result.Tags, []string{"app:v1", "app:v2"})
		})

		it("adds a time tag when requested", func() {
			opts := gitOpts()
			opts.Tags = []string{"v1"}
			opts.TagTime = true

			result, err := subject.Patch(context.Background(), opts)
			h.AssertNil(t, err)
			h.AssertEq(t, result.Tags, []string{"app:v1", "app:20210606121314"})
		})
	})

	when("a repository override is given", func() {
		it("is used for every tag", func() {
			opts := gitOpts()
			opts.Repository = "registry.example.com/team/app"

			result, err := subject.Patch(context.Background(), opts)
			h.AssertNil(t, err)
			h.AssertEq(t, result.Tags, []string{"registry.example.com/team/app:20210606121314"})
		})
	})

	when("workdir and user overrides are given", func() {
		it("they replace the base image's originals", func() {
			opts := gitOpts()
			opts.Workdir = "/opt/app"
			opts.User = "deploy"

			_, err := subject.Patch(context.Background(), opts)
			h.AssertNil(t, err)
			recipe := string(fakeDocker.BuildContextFiles["Dockerfile"])
			h.AssertContains(t, recipe, "WORKDIR \"/opt/app\"\nUSER deploy\n")
		})
	})

	when("copy entries are given", func() {
		var hostDir string

		it.Before(func() {
			var err error
			hostDir, err = os.MkdirTemp("", "patch-copy-test")
			h.AssertNil(t, err)
		})

		it.After(func() {
			os.RemoveAll(hostDir)
		})

		it("stages each source in its own indexed directory", func() {
			first := filepath.Join(hostDir, "cert.pem")
			second := filepath.Join(hostDir, "other", "cert.pem")
			h.AssertNil(t, os.WriteFile(first, []byte("one"), 0600))
			h.AssertNil(t, os.MkdirAll(filepath.Dir(second), 0755))
			h.AssertNil(t, os.WriteFile(second, []byte("two"), 0600))

			opts := client.PatchOptions{
				BaseImage: "app:1.0",
				Copies: []client.CopyEntry{
					{Source: first, Dest: "/etc/one.pem"},
					{Source: second, Dest: "/etc/two.pem"},
				},
			}

			_, err := subject.Patch(context.Background(), opts)
			h.AssertNil(t, err)
			h.AssertEq(t, string(fakeDocker.BuildContextFiles["copy-00000000/cert.pem"]), "one")
			h.AssertEq(t, string(fakeDocker.BuildContextFiles["copy-00000001/cert.pem"]), "two")

			recipe := string(fakeDocker.BuildContextFiles["Dockerfile"])
			h.AssertContains(t, recipe, `COPY ["copy-00000000/cert.pem","/etc/one.pem"]`)
			h.AssertContains(t, recipe, `COPY ["copy-00000001/cert.pem","/etc/two.pem"]`)
		})

		it("fails when a source is missing", func() {
			opts := client.PatchOptions{
				BaseImage: "app:1.0",
				Copies:    []client.CopyEntry{{Source: filepath.Join(hostDir, "nope"), Dest: "/etc/nope"}},
			}

			_, err := subject.Patch(context.Background(), opts)
			h.AssertErrorContains(t, err, "staging copy of")
			h.AssertEq(t, fakeDocker.BuildCount, 0)
		})
	})

	when("build options are set", func() {
		it("forwards cache and network settings verbatim", func() {
			opts := gitOpts()
			opts.NoCache = true
			opts.Network = "host"

			_, err := subject.Patch(context.Background(), opts)
			h.AssertNil(t, err)
			h.AssertTrue(t, fakeDocker.BuildOptions.NoCache)
			h.AssertEq(t, fakeDocker.BuildOptions.NetworkMode, "host")
		})
	})

	when("the diff is empty", func() {
		it("aborts before any build", func() {
			differ.diffs[".@HEAD~1"] = "   \n"

			_, err := subject.Patch(context.Background(), gitOpts())
			h.AssertErrorContains(t, err, "is empty")
			h.AssertEq(t, fakeDocker.BuildCount, 0)
		})
	})

	when("the build fails", func() {
		it("preserves the staging directory and reports its location", func() {
			fakeDocker.BuildErrMsg = "step 3 exploded"

			_, err := subject.Patch(context.Background(), gitOpts())
			h.AssertErrorContains(t, err, "step 3 exploded")
			h.AssertErrorContains(t, err, "staging directory preserved for inspection at ")

			stagePath := stagePathFromError(t, err.Error())
			h.AssertPathExists(t, stagePath)
			h.AssertPathExists(t, filepath.Join(stagePath, "Dockerfile"))
			h.AssertPathExists(t, filepath.Join(stagePath, "0000-HEAD~1-HEAD+staged.patch"))
			h.AssertNil(t, os.RemoveAll(stagePath))
		})
	})

	when("publishing", func() {
		it("pushes every produced tag", func() {
			opts := gitOpts()
			opts.Tags = []string{"v1", "v2"}
			opts.Publish = true

			_, err := subject.Patch(context.Background(), opts)
			h.AssertNil(t, err)
			h.AssertEq(t, fakeDocker.PushedTags, []string{"app:v1", "app:v2"})
		})

		it("fails the run when a push stream reports an error", func() {
			opts := gitOpts()
			opts.Tags = []string{"v1", "v2"}
			opts.Publish = true
			fakeDocker.PushErrMsgs["app:v2"] = "denied"

			_, err := subject.Patch(context.Background(), opts)
			h.AssertErrorContains(t, err, "pushing 'app:v2'")
			// the earlier successful push is not rolled back
			h.AssertEq(t, fakeDocker.PushedTags, []string{"app:v1", "app:v2"})
		})
	})
}

func stagePathFromError(t *testing.T, msg string) string {
	t.Helper()
	marker := "preserved for inspection at "
	i := strings.Index(msg, marker)
	if i < 0 {
		t.Fatalf("no staging path in %q", msg)
	}
	rest := msg[i+len(marker):]
	if j := strings.Index(rest, ":"); j >= 0 {
		rest = rest[:j]
	}
	return rest
}
