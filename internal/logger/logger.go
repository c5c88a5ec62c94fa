package logger

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New constructs the service logger. Development builds get a console writer;
// everything else writes JSON lines to stdout.
func New(env, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	l := zerolog.New(os.Stdout).
		Level(lvl).
		With().
		Timestamp().
		Logger()

	if env == "development" {
		l = l.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return l
}

// Asynq adapts a zerolog.Logger to asynq's Logger interface.
type Asynq struct {
	L zerolog.Logger
}

func (a Asynq) Debug(args ...interface{}) { a.L.Debug().Msg(fmt.Sprint(args...)) }
func (a Asynq) Info(args ...interface{})  { a.L.Info().Msg(fmt.Sprint(args...)) }
func (a Asynq) Warn(args ...interface{})  { a.L.Warn().Msg(fmt.Sprint(args...)) }
func (a Asynq) Error(args ...interface{}) { a.L.Error().Msg(fmt.Sprint(args...)) }
func (a Asynq) Fatal(args ...interface{}) { a.L.Fatal().Msg(fmt.Sprint(args...)) }
