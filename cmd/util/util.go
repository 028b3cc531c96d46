package util

import (
	"fmt"
	"strings"

	"github.com/coraldb/coral/lib/core"
	"github.com/coraldb/coral/lib/engine"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("coral")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// LogLevel reads the configured log level.
func LogLevel() string {
	if lvl := viper.GetString("log-level"); lvl != "" {
		return lvl
	}
	return "info"
}

// GetEngineOptions reads engine configuration from viper
func GetEngineOptions() (*engine.Options, error) {
	opts := engine.DefaultOptions()

	if n := viper.GetInt("shards"); n > 0 {
		opts.NumShards = n
	}
	if s := viper.GetString("max-memory"); s != "" {
		n, err := core.ParseHumanReadableBytes(s)
		if err != nil {
			return nil, fmt.Errorf("invalid max-memory: %w", err)
		}
		if n < 0 {
			return nil, fmt.Errorf("max-memory must not be negative")
		}
		opts.MaxMemory = uint64(n)
	}
	if d := viper.GetDuration("lock-timeout"); d > 0 {
		opts.Txn.LockTimeout = d
	}
	if n := viper.GetUint64("lock-attempts"); n > 0 {
		opts.Txn.MaxAttempts = n
	}

	return opts, nil
}
