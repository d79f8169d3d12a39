package commands_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/heroku/color"
	"github.com/sclevine/spec"
	"github.com/sclevine/spec/report"
	"github.com/spf13/cobra"

	"github.com/imgpatch/imgpatch/internal/commands"
	"github.com/imgpatch/imgpatch/internal/config"
	"github.com/imgpatch/imgpatch/pkg/client"
	"github.com/imgpatch/imgpatch/pkg/logging"
	"github.com/imgpatch/imgpatch/pkg/patch"
	h "github.com/imgpatch/imgpatch/testhelpers"
)

func TestPatchCommand(t *testing.T) {
	color.Disable(true)
	defer color.Disable(false)
	spec.Run(t, "Commands", testPatchCommand, spec.Random(), spec.Report(report.Terminal{}))
}

type fakePatchClient struct {
	opts   client.PatchOptions
	called int
	err    error
}

func (f *fakePatchClient) Patch(_ context.Context, opts client.PatchOptions) (*client.PatchResult, error) {
	f.called++
	f.opts = opts
	if f.err != nil {
		return nil, f.err
	}
	return &client.PatchResult{ImageID: "sha256:abcd", Tags: []string{"app:tag"}}, nil
}

func testPatchCommand(t *testing.T, when spec.G, it spec.S) {
	var (
		command    *cobra.Command
		fakeClient *fakePatchClient
		outBuf     bytes.Buffer
	)

	it.Before(func() {
		fakeClient = &fakePatchClient{}
		command = commands.Patch(logging.NewLogWithWriters(&outBuf, &outBuf), config.Config{}, fakeClient)
	})

	when("#Patch", func() {
		it("forwards base image, patches and commands onto the client", func() {
			command.SetArgs([]string{
				"-b", "app:1.0",
				"--git", "HEAD~1,/srv/app",
				"--run-before", "apt-get update",
				"--run-after", "make test",
			})
			h.AssertNil(t, command.Execute())

			h.AssertEq(t, fakeClient.called, 1)
			h.AssertEq(t, fakeClient.opts.BaseImage, "app:1.0")
			h.AssertEq(t, fakeClient.opts.Directives, []patch.Directive{
				patch.GitDirective{Ref: "HEAD~1", TargetDir: "/srv/app"},
			})
			h.AssertEq(t, fakeClient.opts.RunBefore, []string{"apt-get update"})
			h.AssertEq(t, fakeClient.opts.RunAfter, []string{"make test"})
			h.AssertContains(t, outBuf.String(), "Successfully patched image 'app:tag'")
		})

		it("keeps interleaved --git and --patch flags in command-line order", func() {
			command.SetArgs([]string{
				"-b", "app:1.0",
				"--git", "refA,/srv/app",
				"--patch", "x.patch,y.patch,/srv/app",
				"--git", "repo,refB,/srv/other",
			})
			h.AssertNil(t, command.Execute())

			h.AssertEq(t, fakeClient.opts.Directives, []patch.Directive{
				patch.GitDirective{Ref: "refA", TargetDir: "/srv/app"},
				patch.FileDirective{Paths: []string{"x.patch", "y.patch"}, TargetDir: "/srv/app"},
				patch.GitDirective{RepoPath: "repo", Ref: "refB", TargetDir: "/srv/other"},
			})
		})

		it("defaults the git repository and ref when only a target is given", func() {
			command.SetArgs([]string{"-b", "app:1.0", "-g", "/srv/app"})
			h.AssertNil(t, command.Execute())

			h.AssertEq(t, fakeClient.opts.Directives, []patch.Directive{
				patch.GitDirective{TargetDir: "/srv/app"},
			})
		})

		it("forwards tags, repository and build settings", func() {
			command.SetArgs([]string{
				"-b", "app:1.0",
				"-g", "/srv/app",
				"-r", "registry.example.com/team/app",
				"-t", "v1,v2",
				"--tag-time",
				"-w", "/opt",
				"--user", "deploy",
				"--no-cache",
				"--network", "host",
				"--publish",
			})
			h.AssertNil(t, command.Execute())

			h.AssertEq(t, fakeClient.opts.Repository, "registry.example.com/team/app")
			h.AssertEq(t, fakeClient.opts.Tags, []string{"v1", "v2"})
			h.AssertTrue(t, fakeClient.opts.TagTime)
			h.AssertEq(t, fakeClient.opts.Workdir, "/opt")
			h.AssertEq(t, fakeClient.opts.User, "deploy")
			h.AssertTrue(t, fakeClient.opts.NoCache)
			h.AssertEq(t, fakeClient.opts.Network, "host")
			h.AssertTrue(t, fakeClient.opts.Publish)
		})

		it("parses copy entries", func() {
			command.SetArgs([]string{"-b", "app:1.0", "--copy", "cert.pem,/etc/cert.pem", "--copy", "conf,/etc/conf"})
			h.AssertNil(t, command.Execute())

			h.AssertEq(t, fakeClient.opts.Copies, []client.CopyEntry{
				{Source: "cert.pem", Dest: "/etc/cert.pem"},
				{Source: "conf", Dest: "/etc/conf"},
			})
		})

		when("config file defaults are present", func() {
			it.Before(func() {
				cfg := config.Config{DefaultRepository: "team/app", Network: "host", TagTime: true}
				command = commands.Patch(logging.NewLogWithWriters(&outBuf, &outBuf), cfg, fakeClient)
			})

			it("applies them when the flags are unset", func() {
				command.SetArgs([]string{"-b", "app:1.0", "-g", "/srv/app"})
				h.AssertNil(t, command.Execute())

				h.AssertEq(t, fakeClient.opts.Repository, "team/app")
				h.AssertEq(t, fakeClient.opts.Network, "host")
				h.AssertTrue(t, fakeClient.opts.TagTime)
			})

			it("lets flags win", func() {
				command.SetArgs([]string{"-b", "app:1.0", "-g", "/srv/app", "-r", "other/app", "--network", "none"})
				h.AssertNil(t, command.Execute())

				h.AssertEq(t, fakeClient.opts.Repository, "other/app")
				h.AssertEq(t, fakeClient.opts.Network, "none")
			})
		})

		when("directive arity is wrong", func() {
			it("rejects --git with too many parts", func() {
				command.SetArgs([]string{"-b", "app:1.0", "--git", "a,b,c,d"})
				err := command.Execute()
				h.AssertErrorContains(t, err, "--git takes")
				h.AssertEq(t, fakeClient.called, 0)
			})

			it("rejects --git without a target directory", func() {
				command.SetArgs([]string{"-b", "app:1.0", "--git", "ref,"})
				err := command.Execute()
				h.AssertErrorContains(t, err, "--git requires a target directory")
				h.AssertEq(t, fakeClient.called, 0)
			})

			it("rejects --patch with a single part", func() {
				command.SetArgs([]string{"-b", "app:1.0", "--patch", "lonely.patch"})
				err := command.Execute()
				h.AssertErrorContains(t, err, "--patch takes")
				h.AssertEq(t, fakeClient.called, 0)
			})

			it("rejects malformed --copy entries", func() {
				command.SetArgs([]string{"-b", "app:1.0", "-g", "/srv/app", "--copy", "just-a-source"})
				err := command.Execute()
				h.AssertErrorContains(t, err, "--copy takes 'src,dest'")
				h.AssertEq(t, fakeClient.called, 0)
			})
		})

		when("--base-image is missing", func() {
			it("fails before calling the client", func() {
				command.SetArgs([]string{"-g", "/srv/app"})
				err := command.Execute()
				h.AssertNotNil(t, err)
				h.AssertEq(t, fakeClient.called, 0)
			})
		})

		when("the client fails", func() {
			it("reports the error on the log", func() {
				fakeClient.err = &patch.EmptyDiffError{RepoPath: ".", Ref: "HEAD"}
				command.SetArgs([]string{"-b", "app:1.0", "-g", "/srv/app"})

				err := command.Execute()
				h.AssertNotNil(t, err)
				h.AssertContains(t, outBuf.String(), "is empty")
			})
		})
	})
}
