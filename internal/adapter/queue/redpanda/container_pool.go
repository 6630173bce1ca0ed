package redpanda

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	containerTypes "github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// ContainerInfo holds one pooled Redpanda container and its broker address.
type ContainerInfo struct {
	Container tc.Container
	Broker    string
	ID        int
}

// ContainerPool shares a fixed set of Redpanda containers across the
// integration tests so each test does not pay the container startup cost.
type ContainerPool struct {
	containers chan ContainerInfo
	poolSize   int
	created    bool
	once       sync.Once
	mu         sync.RWMutex
}

var (
	globalPool *ContainerPool
	poolOnce   sync.Once
)

// GetContainerPool returns the process-wide container pool.
func GetContainerPool() *ContainerPool {
	poolOnce.Do(func() {
		globalPool = &ContainerPool{
			containers: make(chan ContainerInfo, 4),
			poolSize:   4,
		}
	})
	return globalPool
}

// InitializePool starts the pool's containers concurrently. It runs once;
// later calls return the first outcome.
func (p *ContainerPool) InitializePool(t *testing.T) error {
	var initErr error

	p.once.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		var wg sync.WaitGroup
		errs := make([]error, p.poolSize)

		for i := 0; i < p.poolSize; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()

				container, broker, err := p.createContainer(t, id)
				if err != nil {
					errs[id] = err
					return
				}

				select {
				case p.containers <- ContainerInfo{Container: container, Broker: broker, ID: id}:
				default:
					ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					_ = container.Terminate(ctx)
					errs[id] = fmt.Errorf("pool full")
				}
			}(i)
		}
		wg.Wait()

		for _, err := range errs {
			if err != nil {
				initErr = err
				break
			}
		}
		if initErr == nil {
			p.created = true
		}
	})

	return initErr
}

// GetContainer acquires a container, initializing the pool on first use.
func (p *ContainerPool) GetContainer(t *testing.T) (ContainerInfo, error) {
	p.mu.RLock()
	created := p.created
	p.mu.RUnlock()
	if !created {
		if err := p.InitializePool(t); err != nil {
			return ContainerInfo{}, err
		}
	}

	select {
	case container := <-p.containers:
		return container, nil
	case <-time.After(30 * time.Second):
		return ContainerInfo{}, fmt.Errorf("timeout waiting for container from pool")
	}
}

// ReturnContainer hands a container back for the next test.
func (p *ContainerPool) ReturnContainer(container ContainerInfo) {
	select {
	case p.containers <- container:
	default:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = container.Container.Terminate(ctx)
	}
}

// createContainer starts a single Redpanda container with a host port bound
// to 19092+id so parallel containers do not collide.
func (p *ContainerPool) createContainer(_ *testing.T, id int) (tc.Container, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	port := 19092 + id

	req := tc.ContainerRequest{
		Image:        "redpandadata/redpanda:v24.3.7",
		ExposedPorts: []string{"9092/tcp", "9644/tcp"},
		Cmd: []string{
			"redpanda", "start",
			"--overprovisioned",
			"--smp", "1",
			"--memory", "256M",
			"--reserve-memory", "0M",
			"--node-id", fmt.Sprintf("%d", id),
			"--check=false",
			"--kafka-addr", "PLAINTEXT://0.0.0.0:9092",
			"--advertise-kafka-addr", fmt.Sprintf("PLAINTEXT://127.0.0.1:%d", port),
			"--default-log-level=error",
			"--mode", "dev-container",
		},
		WaitingFor: wait.ForListeningPort("9092/tcp").WithStartupTimeout(30 * time.Second),
	}
	req.HostConfigModifier = func(hc *containerTypes.HostConfig) {
		if hc.PortBindings == nil {
			hc.PortBindings = nat.PortMap{}
		}
		hc.PortBindings[nat.Port("9092/tcp")] = []nat.PortBinding{
			{HostIP: "0.0.0.0", HostPort: fmt.Sprintf("%d", port)},
		}
	}

	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, "", fmt.Errorf("start redpanda container %d: %w", id, err)
	}

	return container, fmt.Sprintf("localhost:%d", port), nil
}

// CleanupPool terminates every pooled container.
func (p *ContainerPool) CleanupPool() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.created {
		return
	}
	close(p.containers)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for container := range p.containers {
		if err := container.Container.Terminate(ctx); err != nil {
			fmt.Printf("warning: failed to terminate container %d: %v\n", container.ID, err)
		}
	}
	p.created = false
}

// Stats reports available and total pool slots.
func (p *ContainerPool) Stats() (available, total int) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.created {
		return 0, p.poolSize
	}
	return len(p.containers), p.poolSize
}
