package logger

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConf はログ出力の設定
type LogConf struct {
	ServiceName string `toml:"service_name" mapstructure:"service_name" json:"service_name"`
	Mode        string `toml:"mode" mapstructure:"mode" json:"mode"`   // console or file
	Level       string `toml:"level" mapstructure:"level" json:"level"` // debug, info, warn, error
	Encoding    string `toml:"encoding" mapstructure:"encoding" json:"encoding"`
	Path        string `toml:"path" mapstructure:"path" json:"path"`
	MaxSize     int    `toml:"max_size" mapstructure:"max_size" json:"max_size"` // MB
	MaxBackups  int    `toml:"max_backups" mapstructure:"max_backups" json:"max_backups"`
	MaxAge      int    `toml:"max_age" mapstructure:"max_age" json:"max_age"` // days
	Compress    bool   `toml:"compress" mapstructure:"compress" json:"compress"`
}

type ctxKey struct{}

var (
	mu     sync.RWMutex
	global = zap.NewNop()
)

// SetUp はグローバルロガーを構築して差し替える
func SetUp(c LogConf) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if c.Level != "" {
		if err := level.UnmarshalText([]byte(c.Level)); err != nil {
			return nil, errors.Wrapf(err, "invalid log level %q", c.Level)
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	if c.Encoding == "console" {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	var sink zapcore.WriteSyncer
	switch c.Mode {
	case "file":
		if c.Path == "" {
			return nil, errors.New("log path is required in file mode")
		}
		if err := os.MkdirAll(c.Path, 0o755); err != nil {
			return nil, errors.Wrap(err, "create log dir")
		}
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   filepath.Join(c.Path, serviceName(c)+".log"),
			MaxSize:    c.MaxSize,
			MaxBackups: c.MaxBackups,
			MaxAge:     c.MaxAge,
			Compress:   c.Compress,
		})
	default:
		sink = zapcore.Lock(os.Stdout)
	}

	l := zap.New(zapcore.NewCore(encoder, sink, level), zap.AddCaller()).
		With(zap.String("service", serviceName(c)))
	Replace(l)
	return l, nil
}

// Replace はグローバルロガーを差し替える（テスト用にも使う）
func Replace(l *zap.Logger) {
	mu.Lock()
	global = l
	mu.Unlock()
}

// L はグローバルロガー
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// NewContext はリクエスト単位のロガーを context に載せる
func NewContext(ctx context.Context, fields ...zap.Field) context.Context {
	return context.WithValue(ctx, ctxKey{}, WithContext(ctx).With(fields...))
}

// WithContext は context に載ったロガーか、なければグローバルロガーを返す
func WithContext(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
			return l
		}
	}
	return L()
}

func serviceName(c LogConf) string {
	if c.ServiceName == "" {
		return "nft-market"
	}
	return c.ServiceName
}
