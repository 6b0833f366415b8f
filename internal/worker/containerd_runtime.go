package worker

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// containerdRuntime spawns and reaps plugin workers as containerd
// tasks. Adapted from a containerd-client runtime wrapper: pull,
// create-with-env, start, stop with a SIGTERM-then-SIGKILL escalation,
// delete-with-snapshot-cleanup.
type containerdRuntime struct {
	client    *containerd.Client
	namespace string
}

// NewContainerdRuntime dials the containerd socket and returns a
// ContainerRuntime backed by it.
func NewContainerdRuntime(socketPath, namespace string) (ContainerRuntime, error) {
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("containerd: dial %s: %w", socketPath, err)
	}
	if namespace == "" {
		namespace = "metasort-plugins"
	}
	return &containerdRuntime{client: client, namespace: namespace}, nil
}

func (r *containerdRuntime) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, r.namespace)
}

// toOCIMounts translates the runtime-agnostic Mount list into the OCI
// runtime-spec mounts containerd's spec builders expect.
func toOCIMounts(mounts []Mount) []specs.Mount {
	out := make([]specs.Mount, 0, len(mounts))
	for _, m := range mounts {
		opts := []string{"rbind"}
		if m.ReadOnly {
			opts = append(opts, "ro")
		} else {
			opts = append(opts, "rw")
		}
		out = append(out, specs.Mount{
			Source:      m.Source,
			Destination: m.Target,
			Type:        "bind",
			Options:     opts,
		})
	}
	return out
}

func (r *containerdRuntime) PullImage(ctx context.Context, image string) error {
	ctx = r.ctx(ctx)
	_, err := r.client.Pull(ctx, image, containerd.WithPullUnpack)
	return err
}

func (r *containerdRuntime) ListLabelled(ctx context.Context, labelKey, labelValue string) ([]string, error) {
	ctx = r.ctx(ctx)
	containers, err := r.client.Containers(ctx)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, c := range containers {
		labels, err := c.Labels(ctx)
		if err != nil {
			continue
		}
		if labels[labelKey] == labelValue {
			names = append(names, c.ID())
		}
	}
	return names, nil
}

func (r *containerdRuntime) Spawn(ctx context.Context, spec ContainerSpec) (string, error) {
	ctx = r.ctx(ctx)

	image, err := r.client.GetImage(ctx, spec.Image)
	if err != nil {
		image, err = r.client.Pull(ctx, spec.Image, containerd.WithPullUnpack)
		if err != nil {
			return "", fmt.Errorf("containerd: pull %s: %w", spec.Image, err)
		}
	}

	var env []string
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	specOpts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(env),
		oci.WithHostname(spec.Name),
	}
	if len(spec.Mounts) > 0 {
		specOpts = append(specOpts, oci.WithMounts(toOCIMounts(spec.Mounts)))
	}

	container, err := r.client.NewContainer(
		ctx,
		spec.Name,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(spec.Name+"-snapshot", image),
		containerd.WithNewSpec(specOpts...),
		containerd.WithContainerLabels(spec.Labels),
	)
	if err != nil {
		return "", fmt.Errorf("containerd: create container %s: %w", spec.Name, err)
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return "", fmt.Errorf("containerd: create task for %s: %w", spec.Name, err)
	}
	if err := task.Start(ctx); err != nil {
		return "", fmt.Errorf("containerd: start task for %s: %w", spec.Name, err)
	}

	return container.ID(), nil
}

func (r *containerdRuntime) Stop(ctx context.Context, containerID string) error {
	ctx = r.ctx(ctx)
	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return err
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return nil // no running task
	}

	if err := task.Kill(ctx, syscall.SIGTERM); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	statusC, err := task.Wait(waitCtx)
	if err != nil {
		return err
	}
	select {
	case <-statusC:
	case <-waitCtx.Done():
		_ = task.Kill(ctx, syscall.SIGKILL)
	}
	return nil
}

func (r *containerdRuntime) Remove(ctx context.Context, containerID string) error {
	ctx = r.ctx(ctx)
	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return err
	}
	if task, err := container.Task(ctx, nil); err == nil {
		_, _ = task.Delete(ctx)
	}
	return container.Delete(ctx, containerd.WithSnapshotCleanup)
}
