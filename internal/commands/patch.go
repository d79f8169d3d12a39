package commands

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/imgpatch/imgpatch/internal/config"
	"github.com/imgpatch/imgpatch/internal/style"
	"github.com/imgpatch/imgpatch/pkg/client"
	"github.com/imgpatch/imgpatch/pkg/logging"
	"github.com/imgpatch/imgpatch/pkg/patch"
)

type PatchFlags struct {
	BaseImage  string
	Repository string
	Tags       []string
	TagTime    bool
	Workdir    string
	User       string
	RunBefore  []string
	RunAfter   []string
	Copies     []string
	NoCache    bool
	Network    string
	Publish    bool

	// Directives collects --git and --patch occurrences in the order they
	// appeared on the command line. Both flag values append to this one slice;
	// pflag invokes Set left-to-right, so the interleaving the user wrote is
	// preserved without any re-parsing of argv.
	Directives []patch.Directive
}

func Patch(logger logging.Logger, cfg config.Config, patchClient PatchClient) *cobra.Command {
	var flags PatchFlags

	cmd := &cobra.Command{
		Use:   "patch",
		Args:  cobra.NoArgs,
		Short: "Derive a patched image from a base image",
		Long: "Apply source patches, shell commands and file copies on top of a base image " +
			"and build the result against the Docker daemon.\n\n" +
			"Patches are applied in the order their --git and --patch flags appear.",
		Example: "imgpatch patch -b app:1.0 --git HEAD~1,/srv/app --patch hotfix.patch,/srv/app",
		RunE: logError(logger, func(cmd *cobra.Command, args []string) error {
			copies, err := parseCopies(flags.Copies)
			if err != nil {
				return err
			}

			repository := flags.Repository
			if repository == "" {
				repository = cfg.DefaultRepository
			}
			network := flags.Network
			if network == "" {
				network = cfg.Network
			}

			result, err := patchClient.Patch(cmd.Context(), client.PatchOptions{
				BaseImage:  flags.BaseImage,
				Repository: repository,
				Tags:       flags.Tags,
				TagTime:    flags.TagTime || cfg.TagTime,
				Workdir:    flags.Workdir,
				User:       flags.User,
				Directives: flags.Directives,
				RunBefore:  flags.RunBefore,
				RunAfter:   flags.RunAfter,
				Copies:     copies,
				NoCache:    flags.NoCache,
				Network:    network,
				Publish:    flags.Publish,
			})
			if err != nil {
				return err
			}

			logger.Infof("Successfully patched image %s", style.Symbol(result.Tags[0]))
			return nil
		}),
	}
	patchCommandFlags(cmd, &flags)
	AddHelpFlag(cmd, "patch")
	return cmd
}

func patchCommandFlags(cmd *cobra.Command, flags *PatchFlags) {
	cmd.Flags().StringVarP(&flags.BaseImage, "base-image", "b", "", "Base image to patch, with an explicit tag (required)")
	cmd.Flags().StringVarP(&flags.Repository, "repository", "r", "", "Repository for the patched image (defaults to the base image minus its tag)")
	cmd.Flags().StringSliceVarP(&flags.Tags, "tags", "t", nil, "Tags to apply to the patched image (defaults to a timestamp tag)")
	cmd.Flags().BoolVar(&flags.TagTime, "tag-time", false, "Add a timestamp tag in addition to any explicit tags")
	cmd.Flags().StringVarP(&flags.Workdir, "workdir", "w", "", "Final working directory (defaults to the base image's)")
	cmd.Flags().StringVar(&flags.User, "user", "", "Final user (defaults to the base image's)")
	cmd.Flags().VarP(&gitDirectiveValue{directives: &flags.Directives}, "git", "g", "Patch from a git diff, in the form '[repo,]ref,target-dir'.\nCaptures committed and staged changes relative to ref"+multiValueHelp("patch source"))
	cmd.Flags().VarP(&fileDirectiveValue{directives: &flags.Directives}, "patch", "p", "Patch from existing files, in the form 'file[,file...],target-dir'"+multiValueHelp("patch source"))
	cmd.Flags().StringArrayVar(&flags.RunBefore, "run-before", nil, "Shell command to run before patching"+multiValueHelp("command"))
	cmd.Flags().StringArrayVar(&flags.RunAfter, "run-after", nil, "Shell command to run after patching"+multiValueHelp("command"))
	cmd.Flags().StringArrayVar(&flags.Copies, "copy", nil, "Host file or directory to copy into the image, in the form 'src,dest'"+multiValueHelp("copy entry"))
	cmd.Flags().BoolVar(&flags.NoCache, "no-cache", false, "Build without the daemon's layer cache")
	cmd.Flags().StringVar(&flags.Network, "network", "", "Connect the build container to a network")
	cmd.Flags().BoolVar(&flags.Publish, "publish", false, "Push every produced tag after a successful build")
	cmd.MarkFlagRequired("base-image")
}

func multiValueHelp(name string) string {
	return "\nRepeat for each " + name + " in order"
}

var (
	_ pflag.Value = (*gitDirectiveValue)(nil)
	_ pflag.Value = (*fileDirectiveValue)(nil)
)

// gitDirectiveValue parses one --git occurrence. The last part is always the
// target directory; repository and ref default to '.' and 'HEAD'.
type gitDirectiveValue struct {
	directives *[]patch.Directive
}

func (v *gitDirectiveValue) Set(s string) error {
	var d patch.GitDirective
	parts := strings.Split(s, ",")
	switch len(parts) {
	case 1:
		d = patch.GitDirective{TargetDir: parts[0]}
	case 2:
		d = patch.GitDirective{Ref: parts[0], TargetDir: parts[1]}
	case 3:
		d = patch.GitDirective{RepoPath: parts[0], Ref: parts[1], TargetDir: parts[2]}
	default:
		return errors.Errorf("--git takes '[repo,]ref,target-dir', got %s", style.Symbol(s))
	}
	if d.TargetDir == "" {
		return errors.Errorf("--git requires a target directory, got %s", style.Symbol(s))
	}
	*v.directives = append(*v.directives, d)
	return nil
}

func (v *gitDirectiveValue) String() string { return "" }
func (v *gitDirectiveValue) Type() string   { return "string" }

// fileDirectiveValue parses one --patch occurrence: one or more patch files
// followed by the target directory.
type fileDirectiveValue struct {
	directives *[]patch.Directive
}

func (v *fileDirectiveValue) Set(s string) error {
	parts := strings.Split(s, ",")
	if len(parts) < 2 {
		return errors.Errorf("--patch takes 'file[,file...],target-dir', got %s", style.Symbol(s))
	}
	d := patch.FileDirective{Paths: parts[:len(parts)-1], TargetDir: parts[len(parts)-1]}
	if d.TargetDir == "" {
		return errors.Errorf("--patch requires a target directory, got %s", style.Symbol(s))
	}
	*v.directives = append(*v.directives, d)
	return nil
}

func (v *fileDirectiveValue) String() string { return "" }
func (v *fileDirectiveValue) Type() string   { return "string" }

func parseCopies(raw []string) ([]client.CopyEntry, error) {
	copies := make([]client.CopyEntry, 0, len(raw))
	for _, entry := range raw {
		parts := strings.Split(entry, ",")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, errors.Errorf("--copy takes 'src,dest', got %s", style.Symbol(entry))
		}
		copies = append(copies, client.CopyEntry{Source: parts[0], Dest: parts[1]})
	}
	return copies, nil
}
