/*
Package client provides the functionality of imgpatch as a library through a Go API.

A Client orchestrates a whole patch run: pulling the base image, resolving
patch directives, staging the build context, building against the Docker
daemon, and tagging/pushing the result.
*/
package client

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/docker/docker/api/types"
	imagetypes "github.com/docker/docker/api/types/image"
	dockerClient "github.com/docker/docker/client"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/pkg/errors"

	"github.com/imgpatch/imgpatch/pkg/logging"
	"github.com/imgpatch/imgpatch/pkg/patch"
)

// DockerClient is the subset of the Docker daemon API the orchestrator needs.
type DockerClient interface {
	ImagePull(ctx context.Context, ref string, options imagetypes.PullOptions) (io.ReadCloser, error)
	ImageInspectWithRaw(ctx context.Context, ref string) (types.ImageInspect, []byte, error)
	ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)
	ImageTag(ctx context.Context, source, target string) error
	ImagePush(ctx context.Context, ref string, options imagetypes.PushOptions) (io.ReadCloser, error)
}

// Client is an orchestration object for deriving patched images. All settings
// on this object should be changed through Option functions.
type Client struct {
	logger   logging.Logger
	docker   DockerClient
	differ   patch.Differ
	keychain authn.Keychain
	clock    func() time.Time
}

// Option is a type of function that mutates settings on the client.
type Option func(c *Client)

// WithLogger supplies your own logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithDockerClient supplies your own Docker daemon client.
func WithDockerClient(docker DockerClient) Option {
	return func(c *Client) {
		c.docker = docker
	}
}

// WithDiffer supplies your own diff capture implementation.
func WithDiffer(differ patch.Differ) Option {
	return func(c *Client) {
		c.differ = differ
	}
}

// WithKeychain supplies your own registry keychain.
func WithKeychain(keychain authn.Keychain) Option {
	return func(c *Client) {
		c.keychain = keychain
	}
}

// WithClock supplies your own clock, used for time-based tags.
func WithClock(clock func() time.Time) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

// NewClient creates a Client with default behavior overridden by the given options.
func NewClient(opts ...Option) (*Client, error) {
	client := &Client{
		differ:   patch.GitDiffer{},
		keychain: authn.DefaultKeychain,
		clock:    time.Now,
	}

	for _, opt := range opts {
		opt(client)
	}

	if client.logger == nil {
		client.logger = logging.NewLogWithWriters(os.Stdout, os.Stderr)
	}

	if client.docker == nil {
		docker, err := dockerClient.NewClientWithOpts(dockerClient.FromEnv, dockerClient.WithAPIVersionNegotiation())
		if err != nil {
			return nil, errors.Wrap(err, "creating docker client")
		}
		client.docker = docker
	}

	return client, nil
}
