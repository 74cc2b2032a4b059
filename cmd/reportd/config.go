package main

type (
	ServiceConfig struct {
		Environment string `env:"ENVIRONMENT" env-default:"development"`
		Port        int    `env:"PORT" env-default:"8080"`

		SentryDSN string `env:"SENTRY_DSN"`

		// SourceDirs are searched for source files when a request asks
		// for source annotation.
		SourceDirs []string `env:"SOURCE_DIRS" env-separator:":"`

		// MaxCaptureSize bounds the accepted capture payload, in bytes.
		MaxCaptureSize int64 `env:"MAX_CAPTURE_SIZE" env-default:"134217728"`
	}
)
