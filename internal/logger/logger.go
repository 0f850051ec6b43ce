package logger

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 项目统一的结构化日志接口，kv 为交替出现的键值对
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	Err(err error, msg string, kv ...any)
	With(kv ...any) Logger
}

// Options 日志输出配置
type Options struct {
	Level      string
	Writers    []string // console / file
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type zeroLogger struct {
	l zerolog.Logger
}

// New 根据配置创建基于 zerolog 的日志器
func New(opts Options) Logger {
	var writers []io.Writer
	for _, w := range opts.Writers {
		switch w {
		case "console":
			writers = append(writers, zerolog.ConsoleWriter{
				Out:        os.Stdout,
				TimeFormat: "15:04:05.000",
				NoColor:    !term.IsTerminal(int(os.Stdout.Fd())),
			})
		case "file":
			writers = append(writers, newFileWriter(opts))
		}
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}
	return NewWithWriter(zerolog.MultiLevelWriter(writers...), opts.Level)
}

// NewWithWriter 使用指定 writer 创建 JSON 日志器
func NewWithWriter(w io.Writer, level string) Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	l := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return &zeroLogger{l: l}
}

// NewNop 创建丢弃所有输出的日志器
func NewNop() Logger {
	return &zeroLogger{l: zerolog.Nop()}
}

func newFileWriter(opts Options) io.Writer {
	name := opts.File
	if name == "" {
		name = filepath.Join("logs", "repplus.log")
	}
	size := opts.MaxSizeMB
	if size <= 0 {
		size = 50
	}
	return &lumberjack.Logger{
		Filename:   name,
		MaxSize:    size,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		LocalTime:  true,
		Compress:   true,
	}
}

func (z *zeroLogger) Debug(msg string, kv ...any) { z.l.Debug().Fields(kv).Msg(msg) }

func (z *zeroLogger) Info(msg string, kv ...any) { z.l.Info().Fields(kv).Msg(msg) }

func (z *zeroLogger) Warn(msg string, kv ...any) { z.l.Warn().Fields(kv).Msg(msg) }

func (z *zeroLogger) Error(msg string, kv ...any) { z.l.Error().Fields(kv).Msg(msg) }

func (z *zeroLogger) Err(err error, msg string, kv ...any) {
	z.l.Error().Err(err).Fields(kv).Msg(msg)
}

func (z *zeroLogger) With(kv ...any) Logger {
	return &zeroLogger{l: z.l.With().Fields(kv).Logger()}
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
