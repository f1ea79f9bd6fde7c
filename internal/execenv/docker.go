package execenv

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"github.com/joss/genie/internal/fileset"
	"github.com/joss/genie/internal/logging"
)

const (
	// DefaultImage runs entrypoints that install their own dependencies.
	DefaultImage = "python:3.12-slim"
	workDir      = "/workspace"
)

// Limits bounds the resources of a run container.
type Limits struct {
	MemoryBytes int64
	NanoCPUs    int64
	Pids        int64
}

// DefaultLimits: 1 GiB, one CPU, 256 processes.
var DefaultLimits = Limits{MemoryBytes: 1 << 30, NanoCPUs: 1e9, Pids: 256}

// engine is the slice of the Docker API a run needs.
type engine interface {
	Create(ctx context.Context, cfg *container.Config, host *container.HostConfig, name string) (string, error)
	Pull(ctx context.Context, ref string) error
	CopyTo(ctx context.Context, id, dst string, content io.Reader) error
	Start(ctx context.Context, id string) error
	Wait(ctx context.Context, id string) (int64, error)
	Logs(ctx context.Context, id string) (io.ReadCloser, error)
	Remove(ctx context.Context, id string) error
	Close() error
}

// Docker runs the entrypoint inside a fresh container that is removed
// afterwards.
type Docker struct {
	Image   string
	Limits  Limits
	Timeout time.Duration
	Network string

	eng    engine
	logger *logging.Logger
}

// NewDocker connects to the daemon configured by the environment
// (DOCKER_HOST and friends).
func NewDocker(img string) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return newDocker(img, &dockerEngine{cli: cli}), nil
}

func newDocker(img string, eng engine) *Docker {
	if img == "" {
		img = DefaultImage
	}
	return &Docker{
		Image:   img,
		Limits:  DefaultLimits,
		Timeout: DefaultTimeout,
		eng:     eng,
		logger:  logging.New("execenv"),
	}
}

// Close releases the daemon connection.
func (d *Docker) Close() error {
	return d.eng.Close()
}

func (d *Docker) Execute(ctx context.Context, files *fileset.FileSet, entrypoint string) (RunResult, error) {
	entrypoint, err := checkEntrypoint(files, entrypoint)
	if err != nil {
		return RunResult{}, fmt.Errorf("entrypoint: %w", err)
	}
	archive, err := Tar(files)
	if err != nil {
		return RunResult{}, err
	}

	runCtx, cancel := withTimeout(ctx, d.Timeout)
	defer cancel()

	cfg := &container.Config{
		Image:      d.Image,
		Cmd:        []string{"sh", entrypoint},
		WorkingDir: workDir,
		Labels:     map[string]string{"genie.run": "true"},
	}
	host := &container.HostConfig{
		NetworkMode: container.NetworkMode(d.Network),
		Resources: container.Resources{
			Memory:    d.Limits.MemoryBytes,
			NanoCPUs:  d.Limits.NanoCPUs,
			PidsLimit: ptr(d.Limits.Pids),
		},
	}
	name := "genie-run-" + uuid.NewString()[:8]

	start := time.Now()
	id, err := d.create(runCtx, cfg, host, name)
	if err != nil {
		return RunResult{}, err
	}
	defer func() {
		// Cleanup must survive the run context being cancelled
		rmCtx, rmCancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer rmCancel()
		if err := d.eng.Remove(rmCtx, id); err != nil && !errdefs.IsNotFound(err) {
			d.logger.Warn("container_remove_failed", map[string]interface{}{"container": name}, err)
		}
	}()

	if err := d.eng.CopyTo(runCtx, id, workDir, bytes.NewReader(archive)); err != nil {
		return RunResult{}, fmt.Errorf("copy files: %w", err)
	}
	if err := d.eng.Start(runCtx, id); err != nil {
		return RunResult{}, fmt.Errorf("start container %s: %w", name, err)
	}

	code, waitErr := d.eng.Wait(runCtx, id)
	res := RunResult{ExitCode: int(code), Duration: time.Since(start)}
	if waitErr != nil {
		res.ExitCode = -1
	}

	// Logs stay readable after exit until the container is removed
	logCtx, logCancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer logCancel()
	if rc, err := d.eng.Logs(logCtx, id); err == nil {
		var stdout, stderr bytes.Buffer
		_, err := stdcopy.StdCopy(&stdout, &stderr, rc)
		rc.Close()
		if err != nil {
			d.logger.Warn("container_logs_truncated", map[string]interface{}{"container": name}, err)
		}
		res.Stdout, res.Stderr = stdout.Bytes(), stderr.Bytes()
	} else {
		d.logger.Warn("container_logs_failed", map[string]interface{}{"container": name}, err)
	}

	extra := map[string]interface{}{"container": name, "image": d.Image, "exit_code": res.ExitCode}
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		d.logger.TimedEvent("entrypoint_run", start, extra, ErrTimeout)
		return res, fmt.Errorf("%s: %w", entrypoint, ErrTimeout)
	case ctx.Err() != nil:
		return res, ctx.Err()
	case waitErr != nil:
		d.logger.TimedEvent("entrypoint_run", start, extra, waitErr)
		return res, fmt.Errorf("wait container %s: %w", name, waitErr)
	}
	d.logger.TimedEvent("entrypoint_run", start, extra, nil)
	return res, nil
}

func (d *Docker) create(ctx context.Context, cfg *container.Config, host *container.HostConfig, name string) (string, error) {
	id, err := d.eng.Create(ctx, cfg, host, name)
	if err == nil {
		return id, nil
	}
	if !errdefs.IsNotFound(err) {
		return "", fmt.Errorf("create container: %w", err)
	}

	d.logger.Info("image_pull", map[string]interface{}{"image": d.Image})
	if err := d.eng.Pull(ctx, d.Image); err != nil {
		return "", fmt.Errorf("pull %s: %w", d.Image, err)
	}
	id, err = d.eng.Create(ctx, cfg, host, name)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	return id, nil
}

// Tar packs files into an archive rooted at the working directory.
func Tar(files *fileset.FileSet) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	dirs := map[string]bool{}
	now := time.Now()

	for _, p := range files.Paths() {
		f, _ := files.Get(p)
		for dir := path.Dir(p); dir != "." && !dirs[dir]; dir = path.Dir(dir) {
			dirs[dir] = true
			if err := tw.WriteHeader(&tar.Header{Typeflag: tar.TypeDir, Name: dir + "/", Mode: 0755, ModTime: now}); err != nil {
				return nil, fmt.Errorf("tar %s: %w", dir, err)
			}
		}
		mode := int64(0644)
		if path.Ext(p) == ".sh" {
			mode = 0755
		}
		hdr := &tar.Header{Typeflag: tar.TypeReg, Name: p, Mode: mode, Size: int64(len(f.Data)), ModTime: now}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("tar %s: %w", p, err)
		}
		if _, err := tw.Write(f.Data); err != nil {
			return nil, fmt.Errorf("tar %s: %w", p, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("tar: %w", err)
	}
	return buf.Bytes(), nil
}

// dockerEngine adapts the Docker SDK client to engine.
type dockerEngine struct {
	cli *client.Client
}

func (e *dockerEngine) Create(ctx context.Context, cfg *container.Config, host *container.HostConfig, name string) (string, error) {
	resp, err := e.cli.ContainerCreate(ctx, cfg, host, nil, nil, name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (e *dockerEngine) Pull(ctx context.Context, ref string) error {
	rc, err := e.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	return err
}

func (e *dockerEngine) CopyTo(ctx context.Context, id, dst string, content io.Reader) error {
	return e.cli.CopyToContainer(ctx, id, dst, content, container.CopyToContainerOptions{})
}

func (e *dockerEngine) Start(ctx context.Context, id string) error {
	return e.cli.ContainerStart(ctx, id, container.StartOptions{})
}

func (e *dockerEngine) Wait(ctx context.Context, id string) (int64, error) {
	statusCh, errCh := e.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case st := <-statusCh:
		if st.Error != nil && st.Error.Message != "" {
			return st.StatusCode, errors.New(st.Error.Message)
		}
		return st.StatusCode, nil
	case err := <-errCh:
		return -1, err
	}
}

func (e *dockerEngine) Logs(ctx context.Context, id string) (io.ReadCloser, error) {
	return e.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
}

func (e *dockerEngine) Remove(ctx context.Context, id string) error {
	return e.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}

func (e *dockerEngine) Close() error {
	return e.cli.Close()
}

func ptr[T any](v T) *T {
	return &v
}
