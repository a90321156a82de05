package runtime

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"time"
)

// DockerConfig configures the Docker-style runtime.
type DockerConfig struct {
	// Binary is the container CLI to invoke. Default "docker"; podman works
	// with the same surface.
	Binary string `json:"binary"`

	// Image is the container image commands run in.
	Image string `json:"image"`

	// MemoryLimit passed to --memory. Default "512m".
	MemoryLimit string `json:"memory_limit"`

	// CPULimit passed to --cpus. Default "1.0".
	CPULimit string `json:"cpu_limit"`

	// Network passed to --network. Default "none".
	Network string `json:"network"`

	// ExtraMounts are appended to every invocation in addition to the
	// per-execution mounts.
	ExtraMounts []Mount `json:"extra_mounts"`
}

func (c *DockerConfig) applyDefaults() {
	if c.Binary == "" {
		c.Binary = "docker"
	}
	if c.MemoryLimit == "" {
		c.MemoryLimit = "512m"
	}
	if c.CPULimit == "" {
		c.CPULimit = "1.0"
	}
	if c.Network == "" {
		c.Network = "none"
	}
}

// Docker wraps `docker run` (or a CLI-compatible equivalent) for isolated
// command execution.
type Docker struct {
	cfg DockerConfig
}

// NewDocker creates a Docker-style runtime.
func NewDocker(cfg DockerConfig) *Docker {
	cfg.applyDefaults()
	return &Docker{cfg: cfg}
}

func (d *Docker) Name() string {
	return "docker"
}

// IsAvailable probes both the version and the run subcommand's help text.
// The second probe catches installations whose binary exists but whose run
// syntax has drifted from what this wrapper emits.
func (d *Docker) IsAvailable(ctx context.Context) bool {
	probe := func(args ...string) bool {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return exec.CommandContext(probeCtx, d.cfg.Binary, args...).Run() == nil
	}
	return probe("version") && probe("run", "--help")
}

func (d *Docker) Execute(ctx context.Context, command string, cfg Config) (CommandOutput, error) {
	if d.cfg.Image == "" {
		return CommandOutput{}, &Error{
			Kind: ErrNotAvailable, Runtime: d.Name(),
			Cause: fmt.Errorf("no image configured"),
		}
	}
	cmd := exec.Command(d.cfg.Binary, d.buildArgs(command, cfg)...)
	return runWithTimeout(ctx, cmd, d.Name(), cfg.Timeout)
}

// buildArgs translates the execution config to docker run flags. Env vars
// are emitted in sorted key order so invocations are reproducible.
func (d *Docker) buildArgs(command string, cfg Config) []string {
	args := []string{"run", "--rm",
		"--memory", d.cfg.MemoryLimit,
		"--cpus", d.cfg.CPULimit,
		"--network", d.cfg.Network,
	}
	for _, m := range append(append([]Mount{}, cfg.Mounts...), d.cfg.ExtraMounts...) {
		args = append(args, "-v", formatMount(m))
	}
	keys := make([]string, 0, len(cfg.Env))
	for k := range cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", k+"="+cfg.Env[k])
	}
	if cfg.Workdir != "" {
		args = append(args, "-w", cfg.Workdir)
	}
	return append(args, d.cfg.Image, "sh", "-c", command)
}

func formatMount(m Mount) string {
	spec := m.Host + ":" + m.Guest
	if m.ReadOnly {
		spec += ":ro"
	}
	return spec
}
