package worker

import "context"

// ContainerRuntime abstracts spawning and reaping plugin containers,
// keeping the manager free of any engine specifics. One concrete
// containerd-backed implementation ships with the daemon.
type ContainerRuntime interface {
	// ListLabelled returns container names carrying the given label
	// key=value, used to reclaim stale instances left by a previous run.
	ListLabelled(ctx context.Context, labelKey, labelValue string) ([]string, error)
	PullImage(ctx context.Context, image string) error
	Spawn(ctx context.Context, spec ContainerSpec) (containerID string, err error)
	Stop(ctx context.Context, containerID string) error
	Remove(ctx context.Context, containerID string) error
}
