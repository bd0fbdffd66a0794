package startup

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"motion-extractor/internal/compositor"
	"motion-extractor/internal/logging"
	"motion-extractor/internal/pipeline"

	"github.com/gorilla/mux"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// RouteInfo contains information about a registered route
type RouteInfo struct {
	Method string
	Path   string
	Name   string
}

// Config holds all application configuration
type Config struct {
	CacheDir        string
	DatabaseDir     string
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	LogHealthChecks bool

	// Run defaults, used when a request leaves them out
	FrameOffset int
	Brightness  float64

	MaxUploadBytes   int64
	MaxRetainedRuns  int
	MaxActiveRuns    int
	HistoryRetention time.Duration

	// Media runtime
	FFmpegPath         string
	FFprobePath        string
	EncoderPreset      string
	EncoderCRF         int
	DecodeWorkers      int
	SamplerCacheFrames int
	VipsEnabled        bool

	// Derived paths
	DatabasePath string
	UploadDir    string
}

// RunDefaults returns the configured frame offset and brightness.
func (c *Config) RunDefaults() pipeline.Config {
	return pipeline.Config{FrameOffset: c.FrameOffset, Brightness: c.Brightness}
}

// LoadConfig loads and validates configuration from environment variables
func LoadConfig() (*Config, error) {
	printBanner()
	logSystemInfo()

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")

	config := &Config{
		CacheDir:           getEnv("CACHE_DIR", "/cache"),
		DatabaseDir:        getEnv("DATABASE_DIR", "/database"),
		Port:               getEnv("PORT", "8080"),
		MetricsPort:        getEnv("METRICS_PORT", "9090"),
		MetricsEnabled:     getEnvBool("METRICS_ENABLED", true),
		LogHealthChecks:    getEnvBool("LOG_HEALTH_CHECKS", true),
		FrameOffset:        getEnvInt("FRAME_OFFSET", pipeline.DefaultFrameOffset),
		Brightness:         getEnvFloat("BRIGHTNESS", 0),
		MaxUploadBytes:     int64(getEnvInt("MAX_UPLOAD_MB", 512)) << 20,
		MaxRetainedRuns:    getEnvInt("RETAINED_RUNS", 8),
		MaxActiveRuns:      getEnvInt("MAX_ACTIVE_RUNS", 0),
		HistoryRetention:   getEnvDuration("HISTORY_RETENTION", 30*24*time.Hour),
		FFmpegPath:         getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:        getEnv("FFPROBE_PATH", "ffprobe"),
		EncoderPreset:      getEnv("ENCODER_PRESET", "slow"),
		EncoderCRF:         getEnvInt("ENCODER_CRF", 18),
		DecodeWorkers:      getEnvInt("DECODE_WORKERS", 0),
		SamplerCacheFrames: getEnvInt("SAMPLER_CACHE_FRAMES", 2),
		VipsEnabled:        getEnvBool("VIPS_ENABLED", false),
	}

	if err := (pipeline.Config{FrameOffset: config.FrameOffset}).Validate(); err != nil {
		logging.Warn("  Invalid FRAME_OFFSET %d, using default: %d", config.FrameOffset, pipeline.DefaultFrameOffset)
		config.FrameOffset = pipeline.DefaultFrameOffset
	}
	if err := (compositor.Options{Brightness: config.Brightness}).Validate(); err != nil {
		logging.Warn("  Invalid BRIGHTNESS %v, using default: 0", config.Brightness)
		config.Brightness = 0
	}
	if config.MaxUploadBytes <= 0 {
		logging.Warn("  Invalid MAX_UPLOAD_MB, using default: 512")
		config.MaxUploadBytes = 512 << 20
	}
	if config.EncoderCRF < 0 || config.EncoderCRF > 51 {
		logging.Warn("  Invalid ENCODER_CRF %d, using default: 18", config.EncoderCRF)
		config.EncoderCRF = 18
	}

	logging.Info("  CACHE_DIR:             %s", config.CacheDir)
	logging.Info("  DATABASE_DIR:          %s", config.DatabaseDir)
	logging.Info("  PORT:                  %s", config.Port)
	logging.Info("  METRICS_PORT:          %s", config.MetricsPort)
	logging.Info("  METRICS_ENABLED:       %v", config.MetricsEnabled)
	logging.Info("  FRAME_OFFSET:          %d", config.FrameOffset)
	logging.Info("  BRIGHTNESS:            %v", config.Brightness)
	logging.Info("  MAX_UPLOAD_MB:         %d", config.MaxUploadBytes>>20)
	logging.Info("  RETAINED_RUNS:         %d", config.MaxRetainedRuns)
	logging.Info("  MAX_ACTIVE_RUNS:       %d", config.MaxActiveRuns)
	logging.Info("  HISTORY_RETENTION:     %v", config.HistoryRetention)
	logging.Info("  ENCODER_PRESET:        %s", config.EncoderPreset)
	logging.Info("  ENCODER_CRF:           %d", config.EncoderCRF)
	logging.Info("  DECODE_WORKERS:        %d", config.DecodeWorkers)
	logging.Info("  SAMPLER_CACHE_FRAMES:  %d", config.SamplerCacheFrames)
	logging.Info("  VIPS_ENABLED:          %v", config.VipsEnabled)
	logging.Info("  LOG_HEALTH_CHECKS:     %v", config.LogHealthChecks)
	logging.Info("  LOG_LEVEL:             %s", logging.GetLevel())

	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DIRECTORY SETUP")
	logging.Info("------------------------------------------------------------")

	var err error
	config.CacheDir, err = filepath.Abs(config.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache directory path: %w", err)
	}
	logging.Info("  Cache directory (absolute): %s", config.CacheDir)

	config.DatabaseDir, err = filepath.Abs(config.DatabaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database directory path: %w", err)
	}
	logging.Info("  Database directory (absolute): %s", config.DatabaseDir)

	config.DatabasePath = filepath.Join(config.DatabaseDir, "runs.db")
	config.UploadDir = filepath.Join(config.CacheDir, "uploads")

	if err := ensureDirectory(config.DatabaseDir, "database"); err != nil {
		return nil, fmt.Errorf("database directory error: %w", err)
	}
	logging.Debug("  Testing database directory write access...")
	if err := testWriteAccess(config.DatabaseDir); err != nil {
		return nil, fmt.Errorf("database directory is not writable (required for run history): %w", err)
	}
	logging.Info("  [OK] Database directory is writable")

	// Uploads are staged on disk for ffmpeg, so the cache is required too.
	if err := ensureDirectory(config.UploadDir, "upload"); err != nil {
		return nil, fmt.Errorf("upload directory error: %w", err)
	}
	if err := testWriteAccess(config.UploadDir); err != nil {
		return nil, fmt.Errorf("upload directory is not writable (required for staging sources): %w", err)
	}
	logging.Info("  [OK] Upload directory is writable")

	logging.Info("")
	logging.Info("  Feature availability:")
	logging.Info("    Run history: ENABLED (required)")
	logging.Info("    Metrics:     %s", enabledString(config.MetricsEnabled))
	logging.Info("    libvips:     %s", enabledString(config.VipsEnabled))

	return config, nil
}

func enabledString(enabled bool) string {
	if enabled {
		return "ENABLED"
	}
	return "DISABLED"
}

// LogDatabaseInit logs database initialization
func LogDatabaseInit(duration time.Duration) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DATABASE INITIALIZATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  [OK] Run history initialized in %v", duration)
}

// LogRuntimeInit checks the ffmpeg and ffprobe binaries and reports whether
// runs can be processed.
func LogRuntimeInit(ffmpegPath, ffprobePath string) bool {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("MEDIA RUNTIME INITIALIZATION")
	logging.Info("------------------------------------------------------------")

	ok := true
	for _, bin := range []string{ffmpegPath, ffprobePath} {
		if err := checkBinary(bin); err != nil {
			logging.Warn("  %s check failed: %v", bin, err)
			ok = false
			continue
		}
		logging.Info("  [OK] %s is available", bin)
	}
	if !ok {
		logging.Warn("  Runs will fail until FFmpeg is installed")
	}
	return ok
}

// LogScaler logs which fill scaler runs will use.
func LogScaler(name string) {
	logging.Info("  [OK] Frame scaler: %s", name)
}

// GetRoutes extracts all registered routes from a mux.Router
func GetRoutes(router *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo

	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		pathTemplate, err := route.GetPathTemplate()
		if err != nil {
			return err
		}

		methods, err := route.GetMethods()
		if err != nil {
			methods = []string{"*"}
		}

		for _, method := range methods {
			routes = append(routes, RouteInfo{
				Method: method,
				Path:   pathTemplate,
				Name:   route.GetName(),
			})
		}
		return nil
	})

	return routes, err
}

// LogHTTPRoutes logs all registered HTTP routes
func LogHTTPRoutes(router *mux.Router, logHealthChecks bool) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("HTTP SERVER SETUP")
	logging.Info("------------------------------------------------------------")

	if logging.IsDebugEnabled() {
		routes, err := GetRoutes(router)
		if err != nil {
			logging.Warn("error walking routes: %v", err)
		}

		logging.Debug("  Registered routes (%d total):", len(routes))

		groups := make(map[string][]RouteInfo)
		for _, route := range routes {
			prefix := getRouteGroup(route.Path)
			groups[prefix] = append(groups[prefix], route)
		}

		groupKeys := make([]string, 0, len(groups))
		for k := range groups {
			groupKeys = append(groupKeys, k)
		}
		sort.Strings(groupKeys)

		for _, group := range groupKeys {
			if group != "" {
				logging.Debug("  [%s]", group)
			} else {
				logging.Debug("  [root]")
			}
			for _, route := range groups[group] {
				logging.Debug("    %-6s %s", route.Method, route.Path)
			}
		}
	}

	if logHealthChecks {
		logging.Info("  Health check logging: ON")
	} else {
		logging.Info("  Health check logging: OFF (set LOG_HEALTH_CHECKS=true to enable)")
	}
}

// getRouteGroup extracts a group name from a route path
func getRouteGroup(path string) string {
	path = strings.TrimPrefix(path, "/")

	parts := strings.SplitN(path, "/", 2)
	first := parts[0]

	if first == "api" && len(parts) > 1 {
		subParts := strings.SplitN(parts[1], "/", 2)
		return "api/" + subParts[0]
	}

	return first
}

// ServerConfig holds configuration for the server startup log
type ServerConfig struct {
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	StartupDuration time.Duration
}

// LogServerStarted logs successful server start with all endpoint information
func LogServerStarted(config ServerConfig) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SERVER STARTED")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Startup time:    %v", config.StartupDuration)
	logging.Info("")
	logging.Info("  Endpoints:")
	logging.Info("    Run API:       http://0.0.0.0:%s/api/runs", config.Port)
	if config.MetricsEnabled {
		logging.Info("    Metrics:       http://0.0.0.0:%s/metrics", config.MetricsPort)
	} else {
		logging.Info("    Metrics:       DISABLED")
	}
	logging.Info("")
	logging.Info("  Press Ctrl+C to stop the server")
	logging.Info("------------------------------------------------------------")
	logging.Info("")
}

// LogShutdownInitiated logs shutdown start
func LogShutdownInitiated(signal string) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SHUTDOWN INITIATED (received %s)", signal)
	logging.Info("------------------------------------------------------------")
}

// LogShutdownStep logs a shutdown step
func LogShutdownStep(step string) {
	logging.Debug("  %s...", step)
}

// LogShutdownStepComplete logs a completed shutdown step
func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

// LogShutdownComplete logs shutdown completion
func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}

// LogFatal logs a fatal error and exits
func LogFatal(format string, args ...interface{}) {
	logging.Fatal(format, args...)
}

func printBanner() {
	banner := `
------------------------------------------------------------
  __  __       _   _               _____      _
 |  \/  | ___ | |_(_) ___  _ __   | ____|_  _| |_
 | |\/| |/ _ \| __| |/ _ \| '_ \  |  _| \ \/ / __|
 | |  | | (_) | |_| | (_) | | | | | |___ >  <| |_
 |_|  |_|\___/ \__|_|\___/|_| |_| |_____/_/\_\\__|

------------------------------------------------------------`
	fmt.Println(banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("")
}

func logSystemInfo() {
	logging.Info("------------------------------------------------------------")
	logging.Info("SYSTEM INFORMATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))

	if runtime.GOMAXPROCS(0) < runtime.NumCPU() {
		logging.Info("  (Container CPU limit detected)")
	}

	if logging.IsDebugEnabled() {
		if wd, err := os.Getwd(); err == nil {
			logging.Debug("  Working dir:     %s", wd)
		}
		if hostname, err := os.Hostname(); err == nil {
			logging.Debug("  Hostname:        %s", hostname)
		}
	}

	logging.Info("")
}

func ensureDirectory(path, name string) error {
	logging.Debug("  Checking %s directory: %s", name, path)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		logging.Debug("    Directory does not exist, creating...")
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Debug("    [OK] Created directory: %s", path)
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory")
	}

	logging.Debug("    [OK] Directory exists")
	return nil
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return err
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("failed to remove write test file %s: %v", testFile, err)
	}
	return nil
}

func checkBinary(name string) error {
	path, err := exec.LookPath(name)
	if err != nil {
		return fmt.Errorf("%s not found in PATH", name)
	}
	logging.Debug("  %s path: %s", name, path)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		return fmt.Errorf("failed to get %s version: %w", name, err)
	}

	if line, _, _ := strings.Cut(string(output), "\n"); line != "" {
		logging.Debug("  %s", strings.TrimSpace(line))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		logging.Warn("Invalid boolean value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		logging.Warn("Invalid integer value for %s: %q, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		logging.Warn("Invalid number for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		logging.Warn("Invalid duration for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}
