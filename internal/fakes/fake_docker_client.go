// Package fakes provides hand-written test doubles for the external
// collaborators of the patch orchestrator.
package fakes

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	imagetypes "github.com/docker/docker/api/types/image"
	"github.com/pkg/errors"
)

// DockerClient is a scriptable stand-in for the Docker daemon. Zero value
// behaves as a daemon that succeeds at everything with an empty base config.
type DockerClient struct {
	// knobs
	PullErr     error
	BaseConfig  container.Config
	BuildErrMsg string
	ImageID     string
	TagErr      error
	PushErrMsgs map[string]string

	// recorded calls
	PulledImages      []string
	InspectedImages   []string
	BuildOptions      types.ImageBuildOptions
	BuildContextFiles map[string][]byte
	BuildCount        int
	Tagged            map[string]string
	PushedTags        []string
}

func NewDockerClient() *DockerClient {
	return &DockerClient{
		PushErrMsgs: map[string]string{},
		Tagged:      map[string]string{},
	}
}

func (f *DockerClient) ImagePull(_ context.Context, ref string, _ imagetypes.PullOptions) (io.ReadCloser, error) {
	if f.PullErr != nil {
		return nil, f.PullErr
	}
	f.PulledImages = append(f.PulledImages, ref)
	return jsonStream(
		fmt.Sprintf(`{"status":"Pulling from %s"}`, ref),
		`{"status":"Status: Downloaded newer image"}`,
	), nil
}

func (f *DockerClient) ImageInspectWithRaw(_ context.Context, ref string) (types.ImageInspect, []byte, error) {
	f.InspectedImages = append(f.InspectedImages, ref)
	cfg := f.BaseConfig
	return types.ImageInspect{Config: &cfg}, nil, nil
}

func (f *DockerClient) ImageBuild(_ context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error) {
	f.BuildCount++
	f.BuildOptions = options

	files, err := readTar(buildContext)
	if err != nil {
		return types.ImageBuildResponse{}, errors.Wrap(err, "reading build context")
	}
	f.BuildContextFiles = files

	lines := []string{
		`{"stream":"Step 1/1 : FROM base"}`,
	}
	if f.BuildErrMsg != "" {
		lines = append(lines, fmt.Sprintf(`{"errorDetail":{"message":%[1]q},"error":%[1]q}`, f.BuildErrMsg))
	} else {
		if f.ImageID != "" {
			aux, _ := json.Marshal(types.BuildResult{ID: f.ImageID})
			lines = append(lines, fmt.Sprintf(`{"aux":%s}`, aux))
		}
		lines = append(lines, `{"stream":"Successfully built"}`)
	}

	return types.ImageBuildResponse{Body: jsonStream(lines...)}, nil
}

func (f *DockerClient) ImageTag(_ context.Context, source, target string) error {
	if f.TagErr != nil {
		return f.TagErr
	}
	f.Tagged[target] = source
	return nil
}

func (f *DockerClient) ImagePush(_ context.Context, ref string, _ imagetypes.PushOptions) (io.ReadCloser, error) {
	f.PushedTags = append(f.PushedTags, ref)
	if msg, ok := f.PushErrMsgs[ref]; ok {
		return jsonStream(
			`{"status":"The push refers to repository"}`,
			fmt.Sprintf(`{"errorDetail":{"message":%[1]q},"error":%[1]q}`, msg),
		), nil
	}
	return jsonStream(
		`{"status":"The push refers to repository"}`,
		`{"status":"latest: digest: sha256:deadbeef size: 2"}`,
	), nil
}

func jsonStream(lines ...string) io.ReadCloser {
	var buf bytes.Buffer
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	return io.NopCloser(&buf)
}

func readTar(r io.Reader) (map[string][]byte, error) {
	files := map[string][]byte{}
	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return files, nil
		}
		if err != nil {
			return nil, err
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		contents, err := io.ReadAll(tr)
		if err != nil {
			return nil, err
		}
		files[header.Name] = contents
	}
}
