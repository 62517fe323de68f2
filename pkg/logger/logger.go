package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger 全局日志实例
	Logger *logrus.Logger
	// currentLogFile 当前日志文件路径
	currentLogFile string
	// savedConfig 保存的日志配置（用于按市场窗口切换日志文件）
	savedConfig Config
	// currentWindowSlug 当前市场窗口 slug（如 btc-updown-15m-1765985400）
	currentWindowSlug string
	// logMu 日志文件切换锁
	logMu sync.Mutex
)

// Config 日志配置
type Config struct {
	Level       string // 日志级别: debug, info, warn, error
	OutputFile  string // 日志文件路径（可选，为空则只输出到控制台）
	MaxSize     int    // 日志文件最大大小（MB）
	MaxBackups  int    // 保留的旧日志文件数量
	MaxAge      int    // 保留旧日志文件的天数
	Compress    bool   // 是否压缩旧日志文件
	LogByWindow bool   // 是否按市场窗口命名日志文件
}

func newFormatter() *logrus.TextFormatter {
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "06-01-02 15:04:05",
		ForceColors:     true,
	}
}

// windowLogFileName 根据市场窗口 slug 生成日志文件名
// 例如 basePath=logs/sniper.log, slug=btc-updown-15m-1765985400
// -> logs/btc-updown-15m-1765985400.log
func windowLogFileName(basePath, slug string) string {
	dir := filepath.Dir(basePath)
	ext := filepath.Ext(basePath)
	if ext == "" {
		ext = ".log"
	}
	name := fmt.Sprintf("%s%s", slug, ext)
	if dir == "." || dir == "" {
		return name
	}
	return filepath.Join(dir, name)
}

func buildOutput(logFilePath string, cfg Config) (io.Writer, error) {
	writers := []io.Writer{os.Stdout}
	if logFilePath != "" {
		if err := os.MkdirAll(filepath.Dir(logFilePath), 0755); err != nil {
			return nil, err
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   logFilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		})
	}
	return io.MultiWriter(writers...), nil
}

// Init 初始化日志系统
func Init(config Config) error {
	logMu.Lock()
	defer logMu.Unlock()

	logger := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetFormatter(newFormatter())

	savedConfig = config

	logFilePath := config.OutputFile
	if config.LogByWindow && currentWindowSlug != "" && config.OutputFile != "" {
		logFilePath = windowLogFileName(config.OutputFile, currentWindowSlug)
	}

	out, err := buildOutput(logFilePath, config)
	if err != nil {
		return err
	}
	logger.SetOutput(out)
	currentLogFile = logFilePath

	// 同时设置全局 logrus 的输出，确保各组件用 logrus.WithField() 创建的
	// entry 也写入同一个文件
	logrus.SetOutput(out)
	logrus.SetLevel(level)
	logrus.SetFormatter(newFormatter())

	Logger = logger
	return nil
}

// InitDefault 使用默认配置初始化日志系统
func InitDefault() error {
	return Init(Config{
		Level:      "info",
		OutputFile: "logs/sniper.log",
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
	})
}

// RotateToWindow 市场窗口切换时切换日志文件（LogByWindow 未开启时为 no-op）
// 日志文件按窗口 slug 命名，便于逐窗口回放排查。
func RotateToWindow(slug string) error {
	logMu.Lock()
	defer logMu.Unlock()

	if !savedConfig.LogByWindow || savedConfig.OutputFile == "" || slug == "" {
		return nil
	}
	if slug == currentWindowSlug {
		return nil
	}
	currentWindowSlug = slug

	logFilePath := windowLogFileName(savedConfig.OutputFile, slug)
	if logFilePath == currentLogFile {
		return nil
	}

	out, err := buildOutput(logFilePath, savedConfig)
	if err != nil {
		return err
	}

	level, err := logrus.ParseLevel(savedConfig.Level)
	if err != nil {
		level = logrus.InfoLevel
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(newFormatter())
	logger.SetOutput(out)

	logrus.SetOutput(out)

	oldLogFile := currentLogFile
	currentLogFile = logFilePath
	Logger = logger
	if oldLogFile != "" {
		Logger.Infof("日志文件已切换到新窗口: %s -> %s", oldLogFile, logFilePath)
	}
	return nil
}

// Debug 记录 DEBUG 级别日志
func Debug(args ...interface{}) {
	if Logger != nil {
		Logger.Debug(args...)
	}
}

// Debugf 记录格式化的 DEBUG 级别日志
func Debugf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Debugf(format, args...)
	}
}

// Info 记录 INFO 级别日志
func Info(args ...interface{}) {
	if Logger != nil {
		Logger.Info(args...)
	}
}

// Infof 记录格式化的 INFO 级别日志
func Infof(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Infof(format, args...)
	}
}

// Warn 记录 WARN 级别日志
func Warn(args ...interface{}) {
	if Logger != nil {
		Logger.Warn(args...)
	}
}

// Warnf 记录格式化的 WARN 级别日志
func Warnf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Warnf(format, args...)
	}
}

// Error 记录 ERROR 级别日志
func Error(args ...interface{}) {
	if Logger != nil {
		Logger.Error(args...)
	}
}

// Errorf 记录格式化的 ERROR 级别日志
func Errorf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Errorf(format, args...)
	}
}

// WithField 添加字段到日志上下文
func WithField(key string, value interface{}) *logrus.Entry {
	if Logger != nil {
		return Logger.WithField(key, value)
	}
	return logrus.NewEntry(logrus.New())
}

// WithFields 添加多个字段到日志上下文
func WithFields(fields logrus.Fields) *logrus.Entry {
	if Logger != nil {
		return Logger.WithFields(fields)
	}
	return logrus.NewEntry(logrus.New())
}

// GetCurrentLogFile 获取当前日志文件路径
func GetCurrentLogFile() string {
	logMu.Lock()
	defer logMu.Unlock()
	return currentLogFile
}
