package executor

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"

	"github.com/dawsonblock/rfsnctl/internal/ctlerr"
)

// ServiceSpec describes a sidecar container a buildpack's test suite may
// depend on (e.g. a database), supplemented from
// original_source/rfsn_controller/services_lane.py — this is outside
// the "applying changes outside a disposable workspace" Non-goal since
// it launches a helper process, not a change to the repo under test.
type ServiceSpec struct {
	Name  string
	Image string
	Env   map[string]string
	// NetworkAlias is how the main test container reaches this
	// service (e.g. "db" for a Postgres sidecar at db:5432).
	NetworkAlias string
}

// ServicesLane starts and stops sidecar containers on a private,
// internal Docker network. Nothing in the controller constructs one: no
// buildpack declares services, and DockerExecutor does not attach its
// containers to that network.
type ServicesLane struct {
	cli        *client.Client
	networkID  string
	containers []string
}

func NewServicesLane(cli *client.Client) *ServicesLane {
	return &ServicesLane{cli: cli}
}

// Start creates a private network and one container per spec, each
// registered on that network under its NetworkAlias.
func (s *ServicesLane) Start(ctx context.Context, runID string, specs []ServiceSpec) error {
	if len(specs) == 0 {
		return nil
	}
	netName := "rfsnctl-svc-" + runID
	resp, err := s.cli.NetworkCreate(ctx, netName, network.CreateOptions{Internal: true})
	if err != nil {
		return ctlerr.New(ctlerr.SetupError, "services lane: create network", err)
	}
	s.networkID = resp.ID

	for _, spec := range specs {
		env := make([]string, 0, len(spec.Env))
		for k, v := range spec.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		created, err := s.cli.ContainerCreate(ctx,
			&container.Config{Image: spec.Image, Env: env},
			&container.HostConfig{NetworkMode: container.NetworkMode(s.networkID)},
			&network.NetworkingConfig{
				EndpointsConfig: map[string]*network.EndpointSettings{
					netName: {Aliases: []string{spec.NetworkAlias}},
				},
			}, nil, "rfsnctl-svc-"+spec.Name+"-"+runID)
		if err != nil {
			return ctlerr.New(ctlerr.SetupError, "services lane: create container "+spec.Name, err)
		}
		if err := s.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
			return ctlerr.New(ctlerr.SetupError, "services lane: start container "+spec.Name, err)
		}
		s.containers = append(s.containers, created.ID)
	}
	return nil
}

// Stop tears down every sidecar container and the private network. Best
// -effort: failures are collected but do not prevent the rest of
// teardown from running (mirrors EvidencePack's best-effort posture).
func (s *ServicesLane) Stop(ctx context.Context) error {
	var firstErr error
	for _, id := range s.containers {
		if err := s.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.containers = nil
	if s.networkID != "" {
		if err := s.cli.NetworkRemove(ctx, s.networkID); err != nil && firstErr == nil {
			firstErr = err
		}
		s.networkID = ""
	}
	return firstErr
}
