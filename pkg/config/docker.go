package config

import (
	"os"
	"sync"
)

// dockerMarker exists in every Docker container.
var dockerMarker = "/.dockerenv"

var (
	inDockerOnce sync.Once
	inDocker     bool
)

// IsRunningInDocker reports whether the process runs inside a container.
// The result is computed once.
func IsRunningInDocker() bool {
	inDockerOnce.Do(func() {
		_, err := os.Stat(dockerMarker)
		inDocker = err == nil
	})
	return inDocker
}

// ResolveHostForDocker maps loopback hosts to host.docker.internal when
// running in a container, so warehouse and external datasource descriptors
// written for a developer machine keep working.
func ResolveHostForDocker(host string) string {
	return resolveHost(host, IsRunningInDocker())
}

func resolveHost(host string, docker bool) string {
	if !docker {
		return host
	}
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return "host.docker.internal"
	}
	return host
}
