// Package testcontainer starts throwaway docker containers for integration tests.
package testcontainer

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"
)

// Container describes a running docker container and the host port mapped to its service port.
type Container struct {
	ID   string
	Host string
	Port int
}

// Endpoint returns host:port for the mapped service port.
func (c Container) Endpoint() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Spec describes the container to start.
type Spec struct {
	Image string
	// ContainerPort is the port the service listens on inside the container.
	ContainerPort int
	Env           map[string]string
	Cmd           []string
	ReadyTimeout  time.Duration
}

// Start runs the image detached, waits for the mapped port to accept connections and registers a
// cleanup that stops the container.
func Start(t testing.TB, spec Spec) Container {
	t.Helper()
	EnsureDocker(t)

	port := FreePort(t)
	args := []string{"run", "-d", "--rm", "-p", fmt.Sprintf("%d:%d", port, spec.ContainerPort)}
	for key, value := range spec.Env {
		args = append(args, "-e", key+"="+value)
	}
	args = append(args, spec.Image)
	args = append(args, spec.Cmd...)

	out, err := exec.Command("docker", args...).CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start %s: %v - %s", spec.Image, err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	t.Cleanup(func() { Stop(id) })

	container := Container{ID: id, Host: "127.0.0.1", Port: port}
	timeout := spec.ReadyTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	WaitForEndpoint(t, container.Endpoint(), timeout)
	return container
}

// FreePort asks the kernel for an unused TCP port.
func FreePort(t testing.TB) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

// EnsureDocker fails the test when the docker daemon cannot be reached.
func EnsureDocker(t testing.TB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		t.Fatalf("docker daemon not available: %v", err)
	}
}

// Stop stops the container, ignoring failures.
func Stop(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, "docker", "stop", id).Run()
}

// WaitForEndpoint polls until a TCP connection to endpoint succeeds.
func WaitForEndpoint(t testing.TB, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("endpoint %s did not become ready within %s", endpoint, timeout)
}
