// Package logger provides the leveled, colored console logger used
// throughout q2mon-go, built on github.com/rs/zerolog. With attaches a
// structured field (the client uses it for its connection id); the
// messages themselves are printf-formatted.
package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorWhite  = "\033[37m"
	ColorCyan   = "\033[36m"
	ColorGray   = "\033[90m"
)

// Logger is a thin, colored-console wrapper around zerolog.Logger.
type Logger struct {
	z zerolog.Logger
}

var std = New(os.Stdout)

// New builds a Logger writing a colored console format to w, with the
// teacher's palette: gray debug, white info, yellow warn, red
// error/fatal, green success.
func New(w io.Writer) *Logger {
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	cw.FormatLevel = func(i interface{}) string {
		level, _ := i.(string)
		switch level {
		case "debug":
			return ColorGray + "[DEBUG]" + ColorReset
		case "info":
			return ColorWhite + "[INFO]" + ColorReset
		case "warn":
			return ColorYellow + "[WARN]" + ColorReset
		case "error", "fatal":
			return ColorRed + "[" + level + "]" + ColorReset
		default:
			return "[" + level + "]"
		}
	}
	return &Logger{z: zerolog.New(cw).With().Timestamp().Logger()}
}

// SetLevel sets the minimum level that reaches the writer.
func SetLevel(level zerolog.Level) { std.z = std.z.Level(level) }

// With returns a child logger carrying the given structured field,
// useful for attaching a connection id to every subsequent call.
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{z: l.z.With().Interface(key, value).Logger()}
}

func (l *Logger) Debug(format string, args ...interface{}) { l.z.Debug().Msgf(format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.z.Info().Msgf(format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.z.Warn().Msgf(format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.z.Error().Msgf(format, args...) }

// Success logs at info level with the message itself colored green,
// kept as a distinct call for the same "good outcome" voice the console
// banner/section helpers use, without inventing a custom zerolog level.
func (l *Logger) Success(format string, args ...interface{}) {
	l.z.Info().Bool("success", true).Msgf(ColorGreen+format+ColorReset, args...)
}

// Fatal logs at fatal level and exits the process.
func (l *Logger) Fatal(format string, args ...interface{}) {
	l.z.Fatal().Msgf(format, args...)
}

func Debug(format string, args ...interface{})   { std.Debug(format, args...) }
func Info(format string, args ...interface{})    { std.Info(format, args...) }
func Warn(format string, args ...interface{})    { std.Warn(format, args...) }
func Error(format string, args ...interface{})   { std.Error(format, args...) }
func Success(format string, args ...interface{}) { std.Success(format, args...) }
func Fatal(format string, args ...interface{})   { std.Fatal(format, args...) }
func With(key string, value interface{}) *Logger { return std.With(key, value) }

// Section prints a section header to stdout, kept as plain ANSI output
// since it is decorative chrome, not a structured log event.
func Section(title string) {
	border := "═══════════════════════════════════════════════════════════"
	printLine("\n" + ColorCyan + "╔" + border + "╗" + ColorReset)
	printLine(ColorCyan + "║" + ColorReset + " " + padRight(title, 57) + " " + ColorCyan + "║" + ColorReset)
	printLine(ColorCyan + "╚" + border + "╝" + ColorReset + "\n")
}

// Banner prints the application startup banner.
func Banner(title, version string) {
	printLine("")
	printLine(ColorCyan + "╔═══════════════════════════════════════════════════════════╗" + ColorReset)
	printLine(ColorCyan + "║" + ColorReset + "                       q2mon-go                           " + ColorCyan + "║" + ColorReset)
	printLine(ColorCyan + "║" + ColorReset + "              " + padRight(title, 37) + ColorCyan + "║" + ColorReset)
	printLine(ColorCyan + "║" + ColorReset + "                    " + ColorGreen + "Version " + padRight(version, 7) + ColorReset + "                      " + ColorCyan + "║" + ColorReset)
	printLine(ColorCyan + "╚═══════════════════════════════════════════════════════════╝" + ColorReset)
	printLine("")
}

func padRight(s string, n int) string {
	for len(s) < n {
		s += " "
	}
	return s
}

func printLine(s string) {
	os.Stdout.WriteString(s)
	os.Stdout.WriteString("\n")
}
