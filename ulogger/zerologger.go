package ulogger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ordishs/gocore"
	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// callerWidth is the column width of the caller in pretty output.
const callerWidth = 32

type levelInfo struct {
	name  string
	zl    zerolog.Level
	level int
	color int
}

var levels = []levelInfo{
	{"DEBUG", zerolog.DebugLevel, LevelDebug, colorBlue},
	{"INFO", zerolog.InfoLevel, LevelInfo, colorGreen},
	{"WARN", zerolog.WarnLevel, LevelWarn, colorYellow},
	{"ERROR", zerolog.ErrorLevel, LevelError, colorRed},
	{"FATAL", zerolog.FatalLevel, LevelFatal, colorRed},
	{"PANIC", zerolog.PanicLevel, LevelFatal, colorRed},
}

// lookupLevel finds a level by name, case-insensitively. Unknown names are INFO.
func lookupLevel(name string) levelInfo {
	for _, l := range levels {
		if strings.EqualFold(l.name, name) {
			return l
		}
	}

	return levels[1]
}

type ZLoggerWrapper struct {
	zerolog.Logger
	service string
	w       io.Writer
	pretty  bool
}

// NewZeroLogger returns a zerolog logger tagged with the service name. Output is JSON, or
// a console format when pretty, which defaults to the PRETTY_LOGS setting.
func NewZeroLogger(service string, options ...Option) *ZLoggerWrapper {
	if service == "" {
		service = "popnode"
	}

	opts := DefaultOptions()
	for _, o := range options {
		o(opts)
	}

	pretty := gocore.Config().GetBool("PRETTY_LOGS", true)
	if opts.pretty != nil {
		pretty = *opts.pretty
	}

	var ctx zerolog.Context

	if pretty {
		ctx = zerolog.New(consoleWriter(opts.writer, service)).With()
	} else {
		ctx = zerolog.New(opts.writer).With().Str("service", service)
	}

	z := &ZLoggerWrapper{
		Logger:  ctx.CallerWithSkipFrameCount(zerolog.CallerSkipFrameCount + 1 + opts.skip).Timestamp().Logger(),
		service: service,
		w:       opts.writer,
		pretty:  pretty,
	}

	z.SetLogLevel(opts.logLevel)

	return z
}

func consoleWriter(writer io.Writer, service string) zerolog.ConsoleWriter {
	noColor := true
	if f, ok := writer.(*os.File); ok {
		noColor = !term.IsTerminal(int(f.Fd()))
	}

	return zerolog.ConsoleWriter{
		Out:        writer,
		NoColor:    noColor,
		TimeFormat: time.RFC3339,
		FormatTimestamp: func(i interface{}) string {
			s, _ := i.(string)
			ts, _ := time.Parse(time.RFC3339, s)

			return ts.Format("15:04:05")
		},
		FormatLevel: func(i interface{}) string {
			s, _ := i.(string)
			l := lookupLevel(s)

			return "| " + colorize(fmt.Sprintf("%-6s", strings.ToUpper(s)), l.color, noColor) + "|"
		},
		FormatMessage: func(i interface{}) string {
			return fmt.Sprintf("| %-6s| %s", service, i)
		},
		FormatFieldName: func(i interface{}) string {
			return fmt.Sprintf("%s:", i)
		},
		FormatFieldValue: func(i interface{}) string {
			return strings.ToUpper(fmt.Sprintf("%s", i))
		},
		FormatCaller: func(i interface{}) string {
			c, _ := i.(string)
			if c == "" {
				return ""
			}

			return colorize(fmt.Sprintf("%-*s", callerWidth, shortCaller(c, callerWidth)), colorBold, noColor)
		},
	}
}

// shortCaller keeps as many trailing path elements of file as fit in width, always at
// least the file name.
func shortCaller(file string, width int) string {
	if cwd, err := os.Getwd(); err == nil {
		if rel, err := filepath.Rel(cwd, file); err == nil {
			file = rel
		}
	}

	parts := strings.Split(file, "/")
	short := parts[len(parts)-1]

	for i := len(parts) - 2; i >= 0; i-- {
		if len(short)+len(parts[i])+1 > width {
			break
		}

		short = parts[i] + "/" + short
	}

	return short
}

// New returns a logger for another service with this logger's writer, level and format,
// with options applied on top.
func (z *ZLoggerWrapper) New(service string, options ...Option) Logger {
	pretty := z.pretty

	o := append([]Option{
		WithWriter(z.w),
		WithLevel(z.Logger.GetLevel().String()),
		WithPretty(pretty),
	}, options...)

	return NewZeroLogger(service, o...)
}

// Duplicate returns a copy of the logger for the same service, with options applied on top.
func (z *ZLoggerWrapper) Duplicate(options ...Option) Logger {
	opts := &Options{writer: z.w, logLevel: z.Logger.GetLevel().String()}
	for _, o := range options {
		o(opts)
	}

	d := *z
	if opts.writer != z.w {
		d.Logger = z.Logger.Output(opts.writer)
		d.w = opts.writer
	}

	d.SetLogLevel(opts.logLevel)

	return &d
}

func (z *ZLoggerWrapper) SetLogLevel(logLevel string) {
	z.Logger = z.Logger.Level(lookupLevel(logLevel).zl)
}

func (z *ZLoggerWrapper) LogLevel() int {
	current := z.Logger.GetLevel()

	for _, l := range levels {
		if l.zl == current {
			return l.level
		}
	}

	return LevelInfo
}

func (z *ZLoggerWrapper) Debugf(format string, args ...interface{}) {
	z.Logger.Debug().Msgf(format, args...)
}

func (z *ZLoggerWrapper) Infof(format string, args ...interface{}) {
	z.Logger.Info().Msgf(format, args...)
}

func (z *ZLoggerWrapper) Warnf(format string, args ...interface{}) {
	z.Logger.Warn().Msgf(format, args...)
}

func (z *ZLoggerWrapper) Errorf(format string, args ...interface{}) {
	z.Logger.Error().Msgf(format, args...)
}

func (z *ZLoggerWrapper) Fatalf(format string, args ...interface{}) {
	z.Logger.Fatal().Msgf(format, args...)
}

// colorize returns the string s wrapped in ANSI code c, unless disabled is true, c is 0
// or NO_COLOR is set.
func colorize(s interface{}, c int, disabled bool) string {
	if disabled || c == 0 || os.Getenv("NO_COLOR") != "" {
		return fmt.Sprintf("%s", s)
	}

	return fmt.Sprintf("\x1b[%dm%v\x1b[0m", c, s)
}
