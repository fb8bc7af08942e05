// Package docker provides Docker Engine API wrappers and container
// lifecycle management for the docker-build-step CLI.
//
// This package handles:
//   - Docker client initialization with automatic socket detection
//     (Linux, macOS, Windows) or an explicitly configured host
//   - Build labels that tie containers to the build that created them
//   - Container lifecycle operations: create, start, inspect, stop, remove
//   - Exec instances: create, start with demultiplexed output, exit codes
//
// The package uses github.com/docker/docker/client as the underlying
// Docker SDK, with version negotiation enabled unless a version is pinned.
package docker
