package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BTreeMap/PiDogd/internal/api"
	"github.com/BTreeMap/PiDogd/internal/camera"
	"github.com/BTreeMap/PiDogd/internal/config"
	"github.com/BTreeMap/PiDogd/internal/lockfile"
)

func clearPiDogEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"PIDOG_STATE_DIR", "API_ADDR", "PIDOG_ROBOT_DRIVER", "PIDOG_CONFIG",
		"PIDOG_CAMERA", "PIDOG_STREAM_FPS", "PIDOG_LOG_LEVEL"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func testFlags(t *testing.T, args ...string) Flags {
	t.Helper()
	fs := flag.NewFlagSet("pidogd", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	flags, err := parseCommandLineFlags(fs, args, loadEnvironmentConfig())
	if err != nil {
		t.Fatalf("parseCommandLineFlags(%v): %v", args, err)
	}
	return flags
}

func TestLoadEnvironmentConfigDefaults(t *testing.T) {
	clearPiDogEnv(t)

	config := loadEnvironmentConfig()

	if config.StateDir != DefaultStateDir {
		t.Errorf("Expected default state dir %q, got %q", DefaultStateDir, config.StateDir)
	}
	if config.APIAddr != api.DefaultAddr {
		t.Errorf("Expected default API address %q, got %q", api.DefaultAddr, config.APIAddr)
	}
	if config.RobotDriver != DefaultRobotDriver {
		t.Errorf("Expected default driver %q, got %q", DefaultRobotDriver, config.RobotDriver)
	}
	if !config.Camera {
		t.Error("Expected the camera to be enabled by default")
	}
	if config.StreamFPS != api.DefaultStreamFPS {
		t.Errorf("Expected default stream fps %d, got %d", api.DefaultStreamFPS, config.StreamFPS)
	}
}

func TestLoadEnvironmentConfigOverrides(t *testing.T) {
	clearPiDogEnv(t)
	t.Setenv("PIDOG_STATE_DIR", "/tmp/custom_pidogd")
	t.Setenv("API_ADDR", "127.0.0.1:8080")
	t.Setenv("PIDOG_ROBOT_DRIVER", "none")
	t.Setenv("PIDOG_CAMERA", "off")
	t.Setenv("PIDOG_STREAM_FPS", "5")
	t.Setenv("PIDOG_CONFIG", "/etc/pidogd.yaml")

	config := loadEnvironmentConfig()

	if config.StateDir != "/tmp/custom_pidogd" {
		t.Errorf("Expected custom state dir, got %q", config.StateDir)
	}
	if config.APIAddr != "127.0.0.1:8080" || config.RobotDriver != "none" {
		t.Errorf("Expected overrides, got %+v", config)
	}
	if config.Camera {
		t.Error("PIDOG_CAMERA=off should disable the camera")
	}
	if config.StreamFPS != 5 || config.ConfigPath != "/etc/pidogd.yaml" {
		t.Errorf("Expected overrides, got %+v", config)
	}
}

func TestParseCommandLineFlagsOverrideEnvironment(t *testing.T) {
	clearPiDogEnv(t)
	t.Setenv("API_ADDR", ":7000")

	flags := testFlags(t)
	if *flags.apiAddr != ":7000" {
		t.Errorf("Expected environment default for api-addr, got %q", *flags.apiAddr)
	}

	flags = testFlags(t, "-api-addr", ":9000", "-camera=false", "-robot-driver", "none", "-stream-fps", "30")
	if *flags.apiAddr != ":9000" || *flags.camera || *flags.robotDriver != "none" || *flags.streamFPS != 30 {
		t.Errorf("Flags should override the environment: addr=%q camera=%v driver=%q fps=%d",
			*flags.apiAddr, *flags.camera, *flags.robotDriver, *flags.streamFPS)
	}

	fs := flag.NewFlagSet("pidogd", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if _, err := parseCommandLineFlags(fs, []string{"-no-such-flag"}, loadEnvironmentConfig()); err == nil {
		t.Error("Expected an error for an unknown flag")
	}
}

func TestApplyLogLevel(t *testing.T) {
	defer logLevel.Set(slog.LevelDebug)

	applyLogLevel("warn")
	if logLevel.Level() != slog.LevelWarn {
		t.Errorf("Expected warn level, got %v", logLevel.Level())
	}
	applyLogLevel("")
	if logLevel.Level() != slog.LevelWarn {
		t.Errorf("An empty level should leave the level alone, got %v", logLevel.Level())
	}
	applyLogLevel("shouty")
	if logLevel.Level() != slog.LevelDebug {
		t.Errorf("An unknown level should fall back to debug, got %v", logLevel.Level())
	}
}

func TestBuildCameraOptions(t *testing.T) {
	clearPiDogEnv(t)

	flags := testFlags(t, "-camera=false")
	src := camera.NewSource(buildCameraOptions(flags, config.Default().Camera)...)
	defer src.Close()
	if src.Mode() != camera.ModeDisabled {
		t.Errorf("Expected a disabled camera, got %s", src.Mode())
	}
}

func TestBuildAPIOptions(t *testing.T) {
	clearPiDogEnv(t)

	flags := testFlags(t, "-api-addr", "127.0.0.1:5050")
	if opts := buildAPIOptions(flags, nil); len(opts) != 2 {
		t.Errorf("Expected address and fps options, got %d", len(opts))
	}
	s := api.NewServer(nil, buildAPIOptions(flags, nil)...)
	if s.Addr() != "127.0.0.1:5050" {
		t.Errorf("Expected configured address, got %q", s.Addr())
	}
}

func TestOpenRobot(t *testing.T) {
	if dog := openRobot("none"); dog != nil {
		t.Error("driver none should leave the robot uninitialized")
	}
	if dog := openRobot("sim"); dog == nil {
		t.Error("the simulated driver should always open")
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestRunShutsDownOnCancel(t *testing.T) {
	clearPiDogEnv(t)
	stateDir := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "pidogd.yaml")
	if err := os.WriteFile(cfgPath, []byte("schedules:\n  - cron: \"@every 1h\"\n    behavior: patrol\n"), 0644); err != nil {
		t.Fatal(err)
	}
	addr := freeAddr(t)
	flags := testFlags(t, "-state-dir", stateDir, "-api-addr", addr, "-camera=false", "-config", cfgPath)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, flags) }()

	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/status")
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("daemon never started serving: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// A second daemon on the same state directory must be refused while the first runs.
	var lockErr *lockfile.LockError
	if l, err := lockfile.AcquireLock(stateDir, "sim"); !errors.As(err, &lockErr) {
		if err == nil {
			l.Release()
		}
		t.Errorf("expected a LockError while the daemon runs, got %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	if _, err := os.Stat(filepath.Join(stateDir, lockfile.LockFileName)); !os.IsNotExist(err) {
		t.Errorf("lock file should be removed on shutdown: %v", err)
	}
}

func TestRunRejectsBadConfig(t *testing.T) {
	clearPiDogEnv(t)
	cfgPath := filepath.Join(t.TempDir(), "pidogd.yaml")
	if err := os.WriteFile(cfgPath, []byte("camera:\n  width: -1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	flags := testFlags(t, "-state-dir", t.TempDir(), "-api-addr", freeAddr(t), "-config", cfgPath)
	if err := run(context.Background(), flags); err == nil {
		t.Error("run should fail on an invalid config file")
	}
}
