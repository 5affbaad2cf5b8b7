package docker

import "time"

const (
	ImagePullTimeout   = 10 * time.Minute
	ContainerOpTimeout = 30 * time.Second
	CleanupTimeout     = 15 * time.Second
	DefaultStopTimeout = 30 * time.Second
)
