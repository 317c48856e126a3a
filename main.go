package main

import (
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"natter/audio"
	"natter/config"
	"natter/doctor"
	"natter/log"
	"natter/recorder"
	"natter/shutdown"
)

var version = "dev"

var shutdownOnce sync.Once

func gracefulShutdown() {
	shutdownOnce.Do(func() {
		tuiMu.Lock()
		p := tuiProgram
		tuiMu.Unlock()
		if p != nil {
			p.Quit()
		}
	})
}

func main() {
	os.Exit(run())
}

func run() int {
	configFlag := flag.String("config", "", "Config file path (default: $XDG_CONFIG_HOME/natter/config.toml)")
	envFlag := flag.String("env", ".env", "Optional .env file with NATTER_API_KEY and friends")
	apiURLFlag := flag.String("apiurl", "", "Chat service base URL (overrides config)")
	modelFlag := flag.String("model", "", "Completion model (overrides config)")
	setupFlag := flag.Bool("setup", false, "Select microphone device (otherwise uses system default)")
	deviceFlag := flag.String("device", "", "Use named microphone device")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	doctorFlag := flag.Bool("doctor", false, "Run system diagnostics and exit")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	profileFlag := flag.String("profile", "", "Enable pprof profiling server (e.g., :6060 or localhost:6060)")
	testFlag := flag.Bool("test", false, "Test mode (headless, stdin-driven)")
	realtimeFlag := flag.Bool("realtime", false, "In test mode, pace the WAV playback like a live microphone")
	quietFlag := flag.Bool("quiet", false, "Do not play recording start/stop tones")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("natter %s\n", version)
		return 0
	}

	// Resolve log directory early
	logPath, err := log.ResolveDir(*logPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logPath)

	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	if *profileFlag != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", *profileFlag)
			if err := http.ListenAndServe(*profileFlag, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	cfg, err := config.Load(*configFlag, *envFlag, config.Overrides{
		BaseURL: *apiURLFlag,
		Model:   *modelFlag,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if *doctorFlag {
		return doctor.Run(cfg, *deviceFlag)
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	} else {
		log.SessionStart(cfg.Model, cfg.BaseURL, cfg.APIKey != "")
	}
	defer log.Close()

	if *testFlag {
		args := flag.Args()
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "Usage: natter -test <wav-file>")
			return 1
		}
		return runTestMode(cfg, args[0], *realtimeFlag)
	}

	ctx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Printf("Error initializing audio context: %v\n", err)
		return 1
	}
	defer ctx.Close()

	var selectedDevice *audio.DeviceInfo
	if *deviceFlag != "" {
		selectedDevice, err = audio.FindDevice(ctx, *deviceFlag)
		if err != nil || selectedDevice == nil {
			log.Warnf("device %q not available (err=%v)", *deviceFlag, err)
			fmt.Printf("Warning: device %q not found\n", *deviceFlag)
			fmt.Println("Falling back to default device")
		}
	} else if *setupFlag {
		selectedDevice, err = audio.SelectDevice(ctx)
		if err != nil {
			log.Warnf("device selection failed: %v", err)
			fmt.Printf("Warning: device selection failed: %v\n", err)
			fmt.Println("Falling back to default device")
			selectedDevice = nil
		}
	}

	a := newApp(cfg, appDeps{
		open: recorder.DeviceOpener(ctx, selectedDevice),
		cues: !*quietFlag,
	}, tuiSink{})
	defer a.close()

	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)
	go func() {
		<-sigChan
		gracefulShutdown()
	}()

	tuiMu.Lock()
	tuiProgram = NewTUIProgram(a)
	p := tuiProgram
	tuiMu.Unlock()

	_, runErr := p.Run()

	tuiMu.Lock()
	tuiProgram = nil
	tuiMu.Unlock()

	if runErr != nil {
		log.Errorf("TUI error: %v", runErr)
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		return 1
	}
	return 0
}
