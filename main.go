package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"voxd/app"
	"voxd/audio"
	"voxd/config"
	"voxd/hotkey"
	"voxd/inject"
	"voxd/log"
	"voxd/recovery"
	"voxd/scribe"
	"voxd/shutdown"
)

var version = "dev"

var shutdownOnce sync.Once

func gracefulShutdown(co *app.Coordinator) {
	shutdownOnce.Do(func() {
		if co != nil {
			co.Deactivate()
		}
		log.Close()
		tuiMu.Lock()
		p := tuiProgram
		tuiMu.Unlock()
		if p != nil {
			p.Quit()
		}
		os.Exit(0)
	})
}

func initCrashLog() {
	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(crashFile, debug.CrashOptions{})
}

func run() {
	configFlag := flag.String("config", "", "Config file path (default: ~/.config/voxd/config.yaml)")
	deviceFlag := flag.String("device", "", "Use named microphone device")
	setupFlag := flag.Bool("setup", false, "Select microphone device interactively")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	profileFlag := flag.String("profile", "", "Enable pprof profiling server (e.g., :6060 or localhost:6060)")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	crashFlag := flag.Bool("crash", false, "Trigger synthetic panic for testing crash logging")
	archiveFlag := flag.String("archive", "", "Write per-dictation FLAC dumps to this directory")
	tuiFlag := flag.Bool("tui", true, "Run with terminal UI")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("voxd %s\n", version)
		os.Exit(0)
	}

	// Resolve log directory early
	logPath, err := log.ResolveDir(*logPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)
	initCrashLog()

	if *profileFlag != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", *profileFlag)
			if err := http.ListenAndServe(*profileFlag, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	if *crashFlag {
		panic("TEST CRASH: synthetic panic to verify crash logging")
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	cfgPath := *configFlag
	if cfgPath == "" {
		if cfgPath, err = config.DefaultPath(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if cfg.Provider.APIKey == "" {
		fmt.Fprintln(os.Stderr, "Error: no API key configured. Set VOXD_API_KEY or provider.api_key in the config.")
		os.Exit(1)
	}

	audioCtx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Fprintf(os.Stderr, "Error initializing audio: %v\n", err)
		os.Exit(1)
	}
	defer audioCtx.Close()

	// -device and -setup override the configured device for this process.
	var selectedDevice *audio.DeviceInfo
	if *deviceFlag != "" {
		if devices, err := audioCtx.Devices(); err == nil {
			for i := range devices {
				if devices[i].Name == *deviceFlag {
					selectedDevice = &devices[i]
					break
				}
			}
		}
		if selectedDevice == nil {
			fmt.Fprintf(os.Stderr, "Error: device %q not found\n", *deviceFlag)
			os.Exit(1)
		}
	} else if *setupFlag {
		selectedDevice, err = selectDevice(audioCtx)
		if err != nil {
			log.Warnf("device selection failed: %v", err)
			fmt.Printf("Warning: device selection failed: %v\n", err)
			fmt.Println("Falling back to default device")
		}
	}
	if selectedDevice != nil {
		cfg.Audio.DeviceID = selectedDevice.ID
	}
	if *archiveFlag != "" {
		cfg.Archive.Enabled = true
		cfg.Archive.Dir = *archiveFlag
	}

	store := config.NewStore(cfg)

	dispatcher := inject.NewDispatcher(
		inject.NewSystemTyper(),
		inject.SystemClipboard{},
		inject.NewSystemWindows(),
		inject.Config{
			ShortTextMax: cfg.Injection.ShortTextMax,
			SettleDelay:  time.Duration(cfg.Injection.SettleDelayMs) * time.Millisecond,
		},
	)

	co := app.NewCoordinator(store, audioCtx, scribe.WSDialer{}, dispatcher, recovery.NewEngine(nil))
	cred := scribe.Credential{APIKey: cfg.Provider.APIKey}

	hk, err := hotkey.New(cfg.Hotkey.Chord)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := hk.Register(); err != nil {
		log.Errorf("hotkey register error: %v", err)
		fmt.Fprintf(os.Stderr, "Error registering hotkey %q: %v\n", cfg.Hotkey.Chord, err)
		os.Exit(1)
	}
	defer hk.Unregister()

	if !*tuiFlag {
		tuiReadyOnce.Do(func() { close(tuiReady) })
	} else {
		tuiMu.Lock()
		tuiProgram = NewTUIProgram(cfg.Hotkey.Chord)
		tuiMu.Unlock()

		go func() {
			if _, err := tuiProgram.Run(); err != nil {
				log.Errorf("TUI error: %v", err)
				os.Exit(1)
			}
			gracefulShutdown(co)
		}()

		<-tuiReady
	}

	go forwardEvents(co)

	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)
	go func() {
		<-sigChan
		gracefulShutdown(co)
	}()

	log.Infof("voxd %s ready, hold %s to dictate", version, cfg.Hotkey.Chord)

	// Push-to-talk loop. Keydown starts an activation; the matching keyup
	// (buffered, so an early release is not lost) ends it.
	for range hk.Keydown() {
		if err := co.Activate(context.Background(), cred); err != nil {
			if !errors.Is(err, app.ErrActive) {
				tuiSend(ErrorMsg{Text: err.Error()})
			}
			continue
		}
		<-hk.Keyup()
		co.Deactivate()
	}
}

// forwardEvents relays coordinator output to the display layer.
func forwardEvents(co *app.Coordinator) {
	for ev := range co.Events() {
		switch ev.Kind {
		case app.EventState:
			tuiSend(StateMsg{State: ev.To})
		case app.EventLevel:
			tuiSend(LevelMsg{RMS: ev.RMS, Peak: ev.Peak})
		case app.EventPartial:
			tuiSend(PartialMsg{Text: ev.Text})
		case app.EventCommitted:
			tuiSend(CommittedMsg{Text: ev.Text, Confidence: ev.Confidence})
		case app.EventSilence:
			tuiSend(SilenceWarningMsg{})
		case app.EventError:
			if ev.Err != nil {
				tuiSend(ErrorMsg{Text: ev.Err.Error(), Recoverable: ev.Recoverable})
			}
		}
	}
}
