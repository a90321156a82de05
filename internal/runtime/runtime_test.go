package runtime

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNativeEcho(t *testing.T) {
	n := NewNative()
	out, err := n.Execute(context.Background(), "echo hello", Config{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out.Stdout) != "hello" {
		t.Fatalf("stdout = %q", out.Stdout)
	}
	if out.ExitCode == nil || *out.ExitCode != 0 {
		t.Fatalf("exit code = %v", out.ExitCode)
	}
}

func TestNativeNonZeroExit(t *testing.T) {
	n := NewNative()
	out, err := n.Execute(context.Background(), "exit 3", Config{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if out.ExitCode == nil || *out.ExitCode != 3 {
		t.Fatalf("exit code = %v, want 3", out.ExitCode)
	}
}

func TestNativeTimeoutKillsProcessGroup(t *testing.T) {
	n := NewNative()
	start := time.Now()
	out, err := n.Execute(context.Background(), "sleep 10", Config{Timeout: 200 * time.Millisecond})
	elapsed := time.Since(start)

	var rtErr *Error
	if !errors.As(err, &rtErr) || rtErr.Kind != ErrTimeout {
		t.Fatalf("error = %v, want timeout", err)
	}
	if !out.TimedOut() {
		t.Fatal("exit code should be nil after timeout kill")
	}
	if elapsed > 3*time.Second {
		t.Fatalf("timeout enforcement took %v", elapsed)
	}
}

func TestNativeCleanEnvironment(t *testing.T) {
	t.Setenv("ZEPTOCLAW_LEAK_CHECK", "leaked")

	n := NewNative()
	out, err := n.Execute(context.Background(), "echo -n \"$ZEPTOCLAW_LEAK_CHECK\"", Config{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if out.Stdout != "" {
		t.Fatalf("host env leaked into child: %q", out.Stdout)
	}

	out, err = n.Execute(context.Background(), "echo -n \"$INJECTED\"", Config{
		Env:     map[string]string{"INJECTED": "yes"},
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Stdout != "yes" {
		t.Fatalf("configured env not applied: %q", out.Stdout)
	}
}

func TestNativeWorkdir(t *testing.T) {
	dir := t.TempDir()
	n := NewNative()
	out, err := n.Execute(context.Background(), "pwd", Config{Workdir: dir, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(strings.TrimSpace(out.Stdout), dir) {
		t.Fatalf("pwd = %q, want %q", out.Stdout, dir)
	}
}

func TestFormatMount(t *testing.T) {
	if got := formatMount(Mount{Host: "/a", Guest: "/b"}); got != "/a:/b" {
		t.Fatalf("formatMount = %q", got)
	}
	if got := formatMount(Mount{Host: "/a", Guest: "/b", ReadOnly: true}); got != "/a:/b:ro" {
		t.Fatalf("formatMount = %q", got)
	}
}

func TestFactoryUnknownType(t *testing.T) {
	if _, err := NewFromConfig(context.Background(), FactoryConfig{Type: "bogus"}); err == nil {
		t.Fatal("expected error for unknown runtime type")
	}
}

func TestFactoryFallback(t *testing.T) {
	cfg := FactoryConfig{
		Type:                  "docker",
		Docker:                DockerConfig{Binary: "definitely-not-a-real-binary"},
		AllowFallbackToNative: true,
	}
	rt, err := NewFromConfig(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if rt.Name() != "native" {
		t.Fatalf("expected native fallback, got %s", rt.Name())
	}

	cfg.AllowFallbackToNative = false
	if _, err := NewFromConfig(context.Background(), cfg); err == nil {
		t.Fatal("expected failure with fallback disabled")
	}
}

func TestDockerArgTranslation(t *testing.T) {
	d := NewDocker(DockerConfig{
		Image:       "alpine:3",
		ExtraMounts: []Mount{{Host: "/shared", Guest: "/shared", ReadOnly: true}},
	})
	args := d.buildArgs("echo hi", Config{
		Workdir: "/work",
		Mounts:  []Mount{{Host: "/data", Guest: "/data"}},
		Env:     map[string]string{"B": "2", "A": "1"},
	})

	want := []string{
		"run", "--rm",
		"--memory", "512m",
		"--cpus", "1.0",
		"--network", "none",
		"-v", "/data:/data",
		"-v", "/shared:/shared:ro",
		"-e", "A=1",
		"-e", "B=2",
		"-w", "/work",
		"alpine:3", "sh", "-c", "echo hi",
	}
	if len(args) != len(want) {
		t.Fatalf("args = %v", args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("args[%d] = %q, want %q (full: %v)", i, args[i], want[i], args)
		}
	}
}

func TestDockerExecuteWithoutImage(t *testing.T) {
	d := NewDocker(DockerConfig{})
	_, err := d.Execute(context.Background(), "true", Config{})
	var rtErr *Error
	if !errors.As(err, &rtErr) || rtErr.Kind != ErrNotAvailable {
		t.Fatalf("error = %v", err)
	}
}
