package doctor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"natter/audio"
	"natter/chatstream"
	"natter/clipboard"
	"natter/config"
	"natter/recorder"
	"natter/transcriber"
)

const recordSeconds = 3

// Run executes interactive diagnostic checks and returns an exit code (0=all pass, 1=any fail).
func Run(cfg config.Config, deviceName string) int {
	resetTerminal()
	setupInterruptHandler()

	fmt.Println("natter doctor - interactive system diagnostics")
	fmt.Println("==============================================")

	allPass := checkConfig(cfg)
	if allPass && !checkChat(cfg) {
		allPass = false
	}
	if allPass && !checkMicAndTranscription(cfg, deviceName) {
		allPass = false
	}
	if !checkClipboard() {
		allPass = false
	}

	fmt.Println()
	if allPass {
		fmt.Println("All checks passed!")
		return 0
	}
	fmt.Println("Some checks failed. See details above.")
	return 1
}

func checkConfig(cfg config.Config) bool {
	fmt.Println()
	fmt.Println("[1/4] Configuration")

	if err := cfg.Validate(); err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	fmt.Printf("  chat:   %s\n", cfg.ChatURL())
	fmt.Printf("  speech: %s\n", cfg.SpeechURL())
	fmt.Printf("  model:  %s\n", cfg.Model)
	if cfg.APIKey == "" {
		fmt.Println("  Warning: no API key set (NATTER_API_KEY); requests are sent unauthenticated")
	}
	fmt.Println("  PASS: configuration valid")
	return true
}

func checkChat(cfg config.Config) bool {
	fmt.Println()
	fmt.Println("[2/4] Chat endpoint")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := chatstream.New(cfg.ChatURL(), cfg.APIKey, cfg.Model, chatstream.WithDetail(cfg.ImageDetail))
	fmt.Print("  Streaming")
	text, stats, err := client.StreamWithStats(ctx, "Reply with the single word: ready", nil, chatstream.ObserverFuncs{
		OnPartial: func(string) { fmt.Print(".") },
	})
	fmt.Println()
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	if strings.TrimSpace(text) == "" {
		fmt.Println("  FAIL: empty reply")
		return false
	}
	fmt.Printf("  Reply: %q (%d fragments, first after %dms)\n", text, stats.Fragments, stats.FirstFragment.Milliseconds())
	fmt.Println("  PASS: chat stream received")
	return true
}

func checkMicAndTranscription(cfg config.Config, deviceName string) bool {
	fmt.Println()
	fmt.Println("[3/4] Microphone and transcription")

	reader := bufio.NewReader(os.Stdin)

	actx, err := audio.NewContext()
	if err != nil {
		fmt.Printf("  FAIL: cannot connect to audio: %v\n", err)
		return false
	}
	defer actx.Close()

	device, err := audio.FindDevice(actx, deviceName)
	if err != nil {
		fmt.Printf("  FAIL: cannot list devices: %v\n", err)
		return false
	}
	if device == nil {
		fmt.Println("Using device: system default")
	} else {
		fmt.Printf("Using device: %s\n", device.Name)
	}

	var peak float64 = recorder.FloorDB
	rec := recorder.New(recorder.DeviceOpener(actx, device),
		transcriber.NewRemote(cfg.SpeechURL(), cfg.APIKey),
		recorder.WithInterval(500*time.Millisecond),
		recorder.WithLevelFunc(func(db float64) {
			peak = max(peak, db)
			fmt.Print(".")
		}),
		recorder.WithSilenceAfter(2*time.Second),
		recorder.WithSilenceFunc(func(ev recorder.SilenceEvent) {
			if ev == recorder.SilenceWarn {
				fmt.Print(" no voice detected ")
			}
		}),
	)

	fmt.Println()
	fmt.Printf("Press Enter and speak for %d seconds...", recordSeconds)
	reader.ReadString('\n')

	if err := rec.Start(context.Background()); err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	fmt.Print("  Recording")
	time.Sleep(recordSeconds * time.Second)
	text := rec.Stop(context.Background())
	fmt.Println(" done")
	fmt.Printf("  Peak level: %.1f dBFS\n", peak)

	if text == "" {
		fmt.Println("  FAIL: no transcription (see diagnostics log for details)")
		return false
	}
	fmt.Printf("\n  Transcribed text: %s\n\n", text)

	confirmReader := bufio.NewReader(os.Stdin)
	fmt.Print("Is this correct? [y/n]: ")
	confirm, _ := confirmReader.ReadString('\n')
	confirm = strings.TrimSpace(strings.ToLower(confirm))

	if confirm == "y" || confirm == "yes" {
		fmt.Println("  PASS: transcription verified by user")
		return true
	}
	fmt.Println("  FAIL: transcription not confirmed")
	return false
}

func checkClipboard() bool {
	fmt.Println()
	fmt.Println("[4/4] Clipboard")

	if !clipboard.Available() {
		fmt.Printf("  FAIL: %v\n", clipboard.ErrUnavailable)
		return false
	}

	sentinel := "natter-doctor-test"
	if err := clipboard.Copy(sentinel); err != nil {
		fmt.Printf("  FAIL: clipboard copy failed: %v\n", err)
		return false
	}
	got, err := clipboard.Read()
	if err != nil {
		fmt.Printf("  FAIL: could not read clipboard: %v\n", err)
		return false
	}
	if got != sentinel {
		fmt.Printf("  FAIL: clipboard mismatch (got %q, want %q)\n", got, sentinel)
		return false
	}
	fmt.Println("  PASS: clipboard copy verified")
	return true
}
