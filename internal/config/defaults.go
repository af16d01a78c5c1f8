package config

const (
	defaultStagingDir = "~/.local/share/curio/staging"
	defaultLibraryDir = "~/library"
	defaultLogDir     = "~/.local/share/curio/logs"
	defaultCacheDir   = "~/.cache/curio"
	defaultAPIBind    = "127.0.0.1:7319"

	defaultQueuePollInterval  = 5
	defaultErrorRetryInterval = 10
	defaultHeartbeatInterval  = 15
	defaultHeartbeatTimeout   = 120
	defaultStagingMaxAgeHours = 72

	defaultMaxAttempts    = 3
	defaultBackoffSeconds = 30
	defaultBackoffCap     = 1800

	defaultChunkBytes = 1 << 20

	defaultMaxNestingDepth = 3
	defaultMinModelFiles   = 1

	defaultNamingTemplate  = "{designer}/{title}"
	defaultUnknownDesigner = "Unknown"

	defaultFilenameSimilarity   = 0.85
	defaultSizeTolerance        = 0.02
	defaultMinMergeConfidence   = 0.6
	defaultHashOverlapThreshold = 0.3
	defaultAIMinConfidence      = 0.7

	defaultLogFormat = "text"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			LibraryDir: defaultLibraryDir,
			LogDir:     defaultLogDir,
			CacheDir:   defaultCacheDir,
			APIBind:    defaultAPIBind,
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
			StagingMaxAgeHours: defaultStagingMaxAgeHours,
		},
		Concurrency: Concurrency{
			Downloads:   2,
			Extractions: 1,
			Imports:     1,
			Previews:    1,
			Syncs:       1,
		},
		Retry: Retry{
			MaxAttempts:    defaultMaxAttempts,
			BackoffSeconds: defaultBackoffSeconds,
			BackoffCap:     defaultBackoffCap,
		},
		Downloads: Downloads{
			ChunkBytes: defaultChunkBytes,
		},
		ImportProfile: ImportProfile{
			ModelExtensions:   []string{".stl", ".3mf", ".obj", ".step", ".gcode"},
			PreviewExtensions: []string{".png", ".jpg", ".jpeg", ".webp"},
			IgnoreDirs:        []string{"__MACOSX", ".DS_Store"},
			IgnoreGlobs:       []string{"*.tmp", "Thumbs.db"},
			MaxNestingDepth:   defaultMaxNestingDepth,
			MinModelFiles:     defaultMinModelFiles,
		},
		Naming: Naming{
			Template:        defaultNamingTemplate,
			UnknownDesigner: defaultUnknownDesigner,
		},
		Dedup: Dedup{
			FilenameSimilarity: defaultFilenameSimilarity,
			SizeTolerance:      defaultSizeTolerance,
			MinMergeConfidence: defaultMinMergeConfidence,
		},
		Families: Families{
			HashOverlapThreshold: defaultHashOverlapThreshold,
			AIMinConfidence:      defaultAIMinConfidence,
			VariantSuffixes: []string{
				"v2", "v3", "remix", "supported", "unsupported", "presupported",
				"small", "medium", "large", "xl",
			},
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
