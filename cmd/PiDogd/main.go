package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BTreeMap/PiDogd/internal/api"
	"github.com/BTreeMap/PiDogd/internal/behavior"
	"github.com/BTreeMap/PiDogd/internal/camera"
	"github.com/BTreeMap/PiDogd/internal/config"
	"github.com/BTreeMap/PiDogd/internal/lockfile"
	"github.com/BTreeMap/PiDogd/internal/robot"
	"github.com/BTreeMap/PiDogd/internal/scheduler"
	"github.com/BTreeMap/PiDogd/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for PiDogd state data
	DefaultStateDir = "/var/lib/pidogd"
	// DefaultRobotDriver is the driver used when none is configured
	DefaultRobotDriver = robot.DriverSim
)

// logLevel is adjustable after the logger is installed, once flags are known.
var logLevel = new(slog.LevelVar)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("Failed to parse command line flags", "error", err)
		os.Exit(2)
	}
	applyLogLevel(*flags.logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping PiDogd")
	if err := run(ctx, flags); err != nil {
		var lockErr *lockfile.LockError
		if errors.As(err, &lockErr) {
			fmt.Fprintln(os.Stderr, lockErr.Error())
		}
		slog.Error("PiDogd failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("PiDogd exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir    string
	APIAddr     string
	RobotDriver string
	ConfigPath  string
	Camera      bool
	StreamFPS   int
	LogLevel    string
}

// Flags holds command line flag values
type Flags struct {
	stateDir    *string
	apiAddr     *string
	robotDriver *string
	configPath  *string
	camera      *bool
	streamFPS   *int
	logLevel    *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logLevel.Set(slog.LevelDebug)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
}

// applyLogLevel switches the installed logger to the named level.
func applyLogLevel(name string) {
	if name == "" {
		return
	}
	level, ok := util.ParseLogLevel(name, slog.LevelDebug)
	if !ok {
		slog.Warn("Unknown log level, keeping debug", "log_level", name)
	}
	logLevel.Set(level)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:    os.Getenv("PIDOG_STATE_DIR"),
		APIAddr:     os.Getenv("API_ADDR"),
		RobotDriver: os.Getenv("PIDOG_ROBOT_DRIVER"),
		ConfigPath:  os.Getenv("PIDOG_CONFIG"),
		Camera:      util.ParseBoolEnv("PIDOG_CAMERA", true),
		StreamFPS:   util.ParseIntEnv("PIDOG_STREAM_FPS", api.DefaultStreamFPS),
		LogLevel:    os.Getenv("PIDOG_LOG_LEVEL"),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No PIDOG_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("PIDOG_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	if config.APIAddr == "" {
		config.APIAddr = api.DefaultAddr
	}
	if config.RobotDriver == "" {
		config.RobotDriver = DefaultRobotDriver
		slog.Debug("No PIDOG_ROBOT_DRIVER set, using default", "driver", config.RobotDriver)
	}

	slog.Debug("environment variables loaded",
		"PIDOG_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"PIDOG_ROBOT_DRIVER", config.RobotDriver,
		"PIDOG_CONFIG", config.ConfigPath,
		"PIDOG_CAMERA", config.Camera,
		"PIDOG_STREAM_FPS", config.StreamFPS,
		"PIDOG_LOG_LEVEL", config.LogLevel)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	flags := Flags{
		stateDir:    fs.String("state-dir", config.StateDir, "state directory holding the robot lock (overrides $PIDOG_STATE_DIR)"),
		apiAddr:     fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		robotDriver: fs.String("robot-driver", config.RobotDriver, "robot driver: sim or none (overrides $PIDOG_ROBOT_DRIVER)"),
		configPath:  fs.String("config", config.ConfigPath, "YAML file with tuning, camera and schedules (overrides $PIDOG_CONFIG)"),
		camera:      fs.Bool("camera", config.Camera, "enable the camera (overrides $PIDOG_CAMERA)"),
		streamFPS:   fs.Int("stream-fps", config.StreamFPS, "MJPEG stream polling rate (overrides $PIDOG_STREAM_FPS)"),
		logLevel:    fs.String("log-level", config.LogLevel, "debug, info, warn or error (overrides $PIDOG_LOG_LEVEL)"),
	}

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"apiAddr", *flags.apiAddr,
		"robotDriver", *flags.robotDriver,
		"config", *flags.configPath,
		"camera", *flags.camera,
		"streamFPS", *flags.streamFPS,
		"logLevel", *flags.logLevel)

	return flags, nil
}

// run wires the daemon together and blocks until ctx is canceled or the API server fails.
// Components shut down in reverse order of construction.
func run(ctx context.Context, flags Flags) error {
	lock, err := lockfile.AcquireLock(*flags.stateDir, *flags.robotDriver)
	if err != nil {
		return err
	}
	defer lock.Release()

	fileCfg, err := config.Load(*flags.configPath)
	if err != nil {
		return err
	}

	cam := camera.NewSource(buildCameraOptions(flags, fileCfg.Camera)...)
	defer cam.Close()

	dog := openRobot(*flags.robotDriver)

	var sup *behavior.Supervisor
	if dog != nil {
		vision := camera.NewBlobDetector(cam, fileCfg.Camera.BlobStride)
		sup = behavior.NewSupervisor(dog, buildSupervisorOptions(fileCfg, vision)...)
		defer sup.Close()

		if len(fileCfg.Schedules) > 0 {
			sched := scheduler.NewScheduler()
			defer sched.Stop()
			if err := sched.Load(fileCfg.Schedules, sup.Registry(), sup); err != nil {
				slog.Warn("Some schedules were not loaded", "error", err)
			}
			slog.Info("Behavior schedules loaded", "count", sched.Len())
		}
	}

	server := api.NewServer(sup, buildAPIOptions(flags, cam)...)
	return server.Run(ctx)
}

// openRobot opens the driver and moves the head to neutral. A nil Handle means the
// daemon runs without a robot and robot routes report it as not initialized.
func openRobot(driver string) robot.Handle {
	dog, err := robot.Open(driver)
	if err != nil {
		slog.Error("Robot not initialized, continuing without it", "error", err, "driver", driver)
		return nil
	}
	if err := dog.HeadMove(robot.NeutralHead, robot.DefaultHeadSpeed, true); err != nil {
		slog.Warn("Failed to move head to neutral", "error", err)
	}
	return dog
}

// buildCameraOptions constructs camera source options
func buildCameraOptions(flags Flags, cfg config.Camera) []camera.Option {
	if !*flags.camera {
		slog.Debug("Camera disabled by configuration")
		return []camera.Option{camera.WithDisabled()}
	}
	return cfg.SourceOptions()
}

// buildSupervisorOptions constructs behavior supervisor options
func buildSupervisorOptions(cfg config.File, vision behavior.BlobSource) []behavior.Option {
	return []behavior.Option{
		behavior.WithTuning(cfg.Behavior),
		behavior.WithVision(vision),
	}
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags, cam api.Camera) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.streamFPS > 0 {
		apiOpts = append(apiOpts, api.WithStreamFPS(*flags.streamFPS))
	}
	if cam != nil {
		apiOpts = append(apiOpts, api.WithCamera(cam))
	}
	return apiOpts
}
