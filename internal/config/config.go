package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// Application
	FirmwareVersion string
	Environment     string
	UnitID          string
	Port            int
	LogLevel        string

	// Logdy (lightweight web log viewer)
	LogdyEnabled bool
	LogdyHost    string
	LogdyPort    int

	// Companion server (optional; empty URL = permanent offline mode)
	ServerURL         string
	APIKey            string
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	BootRetryCount    int
	BootRetryDelay    time.Duration

	// NATS telemetry bus (optional LAN tooling; device runs fine without it)
	NatsEnabled        bool
	NatsURL            string
	NatsConnectTimeout time.Duration
	NatsReconnectWait  time.Duration
	NatsMaxReconnects  int
	DetectionsSubject  string
	SafetySubject      string

	// Camera
	CameraDevice    int
	SyntheticCamera bool
	FrameWidth      int
	FrameHeight     int
	TargetFPS       int
	CameraRetry     time.Duration
	CaptureTimeout  time.Duration

	// Motion detection
	LearningRate     float64
	InitLearningRate float64
	InitLearnFrames  int
	DiffThreshold    int
	MinRegionArea    int
	MaxRegionArea    int
	MinAspectRatio   float64
	MaxAspectRatio   float64
	// Foreground coverage above this fraction is treated as a lighting
	// transition, not motion.
	MaxForegroundFraction float64

	// Tracking and hover classification
	MatchRadiusPx int
	HistoryLength int
	GraceFrames   int
	HornetMinPx   int
	HornetMaxPx   int
	MaxObjectPx   int
	HoverRadiusPx int
	HoverConfirm  time.Duration

	// Targeting and safety
	ActuatorPort     string // empty runs the simulated driver
	PanMinDeg        float64
	PanMaxDeg        float64
	TiltMinDeg       float64
	TiltCeilingDeg   float64
	ClampTolerance   float64
	MaxServoRate     float64 // degrees per second
	SweepAmplitude   float64
	SweepFrequencyHz float64
	MaxFireTime      time.Duration
	Cooldown         time.Duration
	TargetLostAfter  time.Duration
	WatchdogTimeout  time.Duration
	BrownoutMV       int

	// Storage and spool
	DataDir       string
	ClipDir       string
	DBPath        string
	SpoolCapacity int
	PruneAfter    time.Duration
	MinFreeMB     int
	ClipPreroll   int // frames kept before the trigger
	ClipMaxFrames int

	// Uploads
	UploadTimeout  time.Duration
	ClipRetryMin   time.Duration
	ClipRetryMax   time.Duration
	EventRetryMin  time.Duration
	EventRetryMax  time.Duration
	RetryJitterPct int

	// Calibration
	CalibrationPath string

	// Graceful shutdown
	ShutdownTimeout time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file found, using environment variables and defaults")
	} else {
		log.Info().Msg("Loaded configuration from .env file")
	}

	return &Config{
		// Application
		FirmwareVersion: getEnv("FIRMWARE_VERSION", "0.9.0"),
		Environment:     getEnv("ENVIRONMENT", "production"),
		UnitID:          getEnv("UNIT_ID", "apis-unit-1"),
		Port:            getEnvInt("PORT", 8080),
		LogLevel:        getEnv("LOG_LEVEL", "info"),

		// Logdy
		LogdyEnabled: getEnvBool("LOGDY_ENABLED", false),
		LogdyHost:    getEnv("LOGDY_HOST", "localhost"),
		LogdyPort:    getEnvInt("LOGDY_PORT", 8081),

		// Companion server
		ServerURL:         getEnv("SERVER_URL", ""),
		APIKey:            getEnv("API_KEY", ""),
		HeartbeatInterval: getEnvDuration("HEARTBEAT_INTERVAL", 60*time.Second),
		HeartbeatTimeout:  getEnvDuration("HEARTBEAT_TIMEOUT", 10*time.Second),
		BootRetryCount:    getEnvInt("BOOT_RETRY_COUNT", 3),
		BootRetryDelay:    getEnvDuration("BOOT_RETRY_DELAY", 5*time.Second),

		// NATS
		NatsEnabled:        getEnvBool("NATS_ENABLED", false),
		NatsURL:            getEnv("NATS_URL", "nats://localhost:4222"),
		NatsConnectTimeout: getEnvDuration("NATS_CONNECT_TIMEOUT", 5*time.Second),
		NatsReconnectWait:  getEnvDuration("NATS_RECONNECT_WAIT", 2*time.Second),
		NatsMaxReconnects:  getEnvInt("NATS_MAX_RECONNECTS", -1),
		DetectionsSubject:  getEnv("DETECTIONS_SUBJECT", "apis.detections"),
		SafetySubject:      getEnv("SAFETY_SUBJECT", "apis.safety"),

		// Camera
		CameraDevice:    getEnvInt("CAMERA_DEVICE", 0),
		SyntheticCamera: getEnvBool("CAMERA_SYNTHETIC", false),
		FrameWidth:      getEnvInt("FRAME_WIDTH", 640),
		FrameHeight:     getEnvInt("FRAME_HEIGHT", 480),
		TargetFPS:       getEnvInt("TARGET_FPS", 10),
		CameraRetry:     getEnvDuration("CAMERA_RETRY", 30*time.Second),
		CaptureTimeout:  getEnvDuration("CAPTURE_TIMEOUT", 2*time.Second),

		// Motion detection
		LearningRate:          getEnvFloat("LEARNING_RATE", 0.001),
		InitLearningRate:      getEnvFloat("INIT_LEARNING_RATE", 0.05),
		InitLearnFrames:       getEnvInt("INIT_LEARN_FRAMES", 100),
		DiffThreshold:         getEnvInt("DIFF_THRESHOLD", 25),
		MinRegionArea:         getEnvInt("MIN_REGION_AREA", 100),
		MaxRegionArea:         getEnvInt("MAX_REGION_AREA", 50000),
		MinAspectRatio:        getEnvFloat("MIN_ASPECT_RATIO", 0.3),
		MaxAspectRatio:        getEnvFloat("MAX_ASPECT_RATIO", 3.0),
		MaxForegroundFraction: getEnvFloat("MAX_FOREGROUND_FRACTION", 0.5),

		// Tracking and hover classification
		MatchRadiusPx: getEnvInt("MATCH_RADIUS_PX", 100),
		HistoryLength: getEnvInt("HISTORY_LENGTH", 30),
		GraceFrames:   getEnvInt("GRACE_FRAMES", 3),
		HornetMinPx:   getEnvInt("HORNET_MIN_PX", 18),
		HornetMaxPx:   getEnvInt("HORNET_MAX_PX", 50),
		MaxObjectPx:   getEnvInt("MAX_OBJECT_PX", 100),
		HoverRadiusPx: getEnvInt("HOVER_RADIUS_PX", 50),
		HoverConfirm:  getEnvDuration("HOVER_CONFIRM", 1*time.Second),

		// Targeting and safety
		ActuatorPort:     getEnv("ACTUATOR_PORT", ""),
		PanMinDeg:        getEnvFloat("PAN_MIN_DEG", -45.0),
		PanMaxDeg:        getEnvFloat("PAN_MAX_DEG", 45.0),
		TiltMinDeg:       getEnvFloat("TILT_MIN_DEG", -30.0),
		TiltCeilingDeg:   getEnvFloat("TILT_CEILING_DEG", 0.0),
		ClampTolerance:   getEnvFloat("CLAMP_TOLERANCE_DEG", 2.0),
		MaxServoRate:     getEnvFloat("MAX_SERVO_RATE_DPS", 1000.0),
		SweepAmplitude:   getEnvFloat("SWEEP_AMPLITUDE_DEG", 10.0),
		SweepFrequencyHz: getEnvFloat("SWEEP_FREQUENCY_HZ", 2.0),
		MaxFireTime:      getEnvDuration("MAX_FIRE_TIME", 10*time.Second),
		Cooldown:         getEnvDuration("COOLDOWN", 5*time.Second),
		TargetLostAfter:  getEnvDuration("TARGET_LOST_AFTER", 500*time.Millisecond),
		WatchdogTimeout:  getEnvDuration("WATCHDOG_TIMEOUT", 30*time.Second),
		BrownoutMV:       getEnvInt("BROWNOUT_MV", 4500),

		// Storage and spool
		DataDir:       getEnv("DATA_DIR", "/data/apis"),
		ClipDir:       getEnv("CLIP_DIR", "/data/apis/clips"),
		DBPath:        getEnv("DB_PATH", "/data/apis/events.db"),
		SpoolCapacity: getEnvInt("SPOOL_CAPACITY", 50),
		PruneAfter:    getEnvDuration("PRUNE_AFTER", 30*24*time.Hour),
		MinFreeMB:     getEnvInt("MIN_FREE_MB", 100),
		ClipPreroll:   getEnvInt("CLIP_PREROLL_FRAMES", 20),
		ClipMaxFrames: getEnvInt("CLIP_MAX_FRAMES", 150),

		// Uploads
		UploadTimeout:  getEnvDuration("UPLOAD_TIMEOUT", 2*time.Minute),
		ClipRetryMin:   getEnvDuration("CLIP_RETRY_MIN", 1*time.Minute),
		ClipRetryMax:   getEnvDuration("CLIP_RETRY_MAX", 1*time.Hour),
		EventRetryMin:  getEnvDuration("EVENT_RETRY_MIN", 1*time.Second),
		EventRetryMax:  getEnvDuration("EVENT_RETRY_MAX", 60*time.Second),
		RetryJitterPct: getEnvInt("RETRY_JITTER_PCT", 20),

		// Calibration
		CalibrationPath: getEnv("CALIBRATION_PATH", "/data/apis/calibration.json"),

		// Graceful shutdown
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
