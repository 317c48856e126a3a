package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog  zerolog.Logger
	diagFile *os.File
	chatFile *os.File
	logMu    sync.Mutex
	logReady bool
	pid      int
	dir      string
)

const (
	diagFileName = "diagnostics_log.txt"
	chatFileName = "chat_log.txt"
)

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		return absFromWD(flagPath)
	}

	// Priority 2: NATTER_LOG_PATH environment variable
	if envPath := os.Getenv("NATTER_LOG_PATH"); envPath != "" {
		return absFromWD(envPath)
	}

	return getDefaultDir()
}

func absFromWD(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error
	diagFile, err = os.OpenFile(filepath.Join(dir, diagFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	chatFile, err = os.OpenFile(filepath.Join(dir, chatFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		diagFile = nil
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	logReady = false
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if chatFile != nil {
		chatFile.Close()
		chatFile = nil
	}
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func SessionStart(model, baseURL string, hasKey bool) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("model", model).
		Str("api_url", baseURL).
		Bool("api_key", hasKey).
		Msg("session_start")
}

func SessionEnd(entries int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("entries", entries).
		Msg("session_end")
}

type StreamMetricsData struct {
	FirstFragmentMs float64
	TotalMs         float64
	Fragments       int
	Skipped         int
	Chars           int
	Completed       bool
}

func StreamMetrics(m StreamMetricsData) {
	if !logReady {
		return
	}
	diagLog.Info().
		Float64("first_fragment_ms", m.FirstFragmentMs).
		Float64("total_ms", m.TotalMs).
		Int("fragments", m.Fragments).
		Int("skipped", m.Skipped).
		Int("chars", m.Chars).
		Bool("completed", m.Completed).
		Msg("chat_stream")
}

type TranscriptionMetricsData struct {
	AudioLengthS     float64
	RawSizeKB        float64
	CompressedSizeKB float64
	EncodeTimeMs     float64
	TTFBMs           float64
	TotalTimeMs      float64
	ConnReused       bool
}

func TranscriptionMetrics(m TranscriptionMetricsData) {
	if !logReady {
		return
	}
	connStatus := "new"
	if m.ConnReused {
		connStatus = "reused"
	}
	diagLog.Info().
		Str("conn", connStatus).
		Float64("audio_s", m.AudioLengthS).
		Float64("raw_kb", m.RawSizeKB).
		Float64("compressed_kb", m.CompressedSizeKB).
		Float64("encode_ms", m.EncodeTimeMs).
		Float64("ttfb_ms", m.TTFBMs).
		Float64("total_ms", m.TotalTimeMs).
		Msg("transcription")
}

// ChatEntry appends one finalized conversation entry to chat_log.txt.
// Newlines in text are flattened so each entry stays on one line.
func ChatEntry(role, text string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	if chatFile == nil {
		return
	}
	flat := strings.ReplaceAll(text, "\n", `\n`)
	line := fmt.Sprintf("%s\t[%d]\t%s\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, role, flat)
	chatFile.WriteString(line)
}
