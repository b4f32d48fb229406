package logger

import "os"

// SetupLogger installs and returns the default logger for the CLI.
func SetupLogger(logLevel string, logJSON, logSource bool) Logger {
	Init(&Config{
		Level:      LogLevel(logLevel),
		Output:     os.Stderr,
		JSON:       logJSON,
		AddSource:  logSource,
		TimeFormat: "15:04:05",
	})
	return GetDefault()
}
