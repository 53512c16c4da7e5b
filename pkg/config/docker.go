package config

import (
	"os"
	"sync"
)

// hostGatewayAlias reaches services published on the host from inside a container.
const hostGatewayAlias = "host.docker.internal"

var (
	containerOnce sync.Once
	inContainer   bool
)

// IsRunningInDocker reports whether the process runs inside a Docker container,
// detected by the /.dockerenv marker file. The result is cached.
func IsRunningInDocker() bool {
	containerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		inContainer = err == nil
	})
	return inContainer
}

// ResolveHostForDocker rewrites loopback hosts to the Docker host gateway when
// running in a container, so a local PostgreSQL or Redis stays reachable.
func ResolveHostForDocker(host string) string {
	return resolveLoopback(host, IsRunningInDocker())
}

func resolveLoopback(host string, containerized bool) string {
	if !containerized {
		return host
	}
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return hostGatewayAlias
	}
	return host
}
