// Command questbot is the supervisor entrypoint: it loads configuration,
// wires the perception-and-control engine, and runs either one iteration
// (-once) or the autonomous loop until interrupted. Exit code 0 on clean
// shutdown, 1 on connection failure.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/questbot/engine/pkg/action"
	"github.com/questbot/engine/pkg/advisor"
	"github.com/questbot/engine/pkg/autohandler"
	"github.com/questbot/engine/pkg/autoloop"
	"github.com/questbot/engine/pkg/buildingfinder"
	"github.com/questbot/engine/pkg/closex"
	"github.com/questbot/engine/pkg/config"
	"github.com/questbot/engine/pkg/device"
	"github.com/questbot/engine/pkg/element"
	"github.com/questbot/engine/pkg/finger"
	"github.com/questbot/engine/pkg/gamestate"
	"github.com/questbot/engine/pkg/grid"
	"github.com/questbot/engine/pkg/logger"
	"github.com/questbot/engine/pkg/model"
	"github.com/questbot/engine/pkg/ocr"
	"github.com/questbot/engine/pkg/perception"
	"github.com/questbot/engine/pkg/profile"
	"github.com/questbot/engine/pkg/questbar"
	"github.com/questbot/engine/pkg/recovery"
	"github.com/questbot/engine/pkg/scene"
	"github.com/questbot/engine/pkg/template"
	"github.com/questbot/engine/pkg/usage"
	"github.com/questbot/engine/pkg/workflow"
)

func main() {
	configPath := flag.String("config", "", "path to config JSON (defaults used when empty)")
	once := flag.Bool("once", false, "run a single perceive-decide-act iteration and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.InfoC("main", "interrupt received, draining current iteration")
		cancel()
	}()

	loop, err := wire(cfg)
	if err != nil {
		logger.FatalCF("main", "wiring failed", map[string]interface{}{"error": err.Error()})
	}

	var runErr error
	if *once {
		runErr = loop.RunOnce(ctx)
	} else {
		runErr = loop.Run(ctx)
	}
	if runErr != nil {
		logger.ErrorCF("main", "engine stopped with error", map[string]interface{}{"error": runErr.Error()})
		os.Exit(1)
	}
	logger.InfoC("main", "clean shutdown")
}

func setupLogging(cfg *config.Config) {
	switch cfg.Logging.Level {
	case "debug":
		logger.SetLevel(logger.DEBUG)
	case "warn":
		logger.SetLevel(logger.WARN)
	case "error":
		logger.SetLevel(logger.ERROR)
	default:
		logger.SetLevel(logger.INFO)
	}
	if cfg.Logging.FilePath != "" {
		if err := logger.EnableFileLoggingWithRotation(
			cfg.Logging.FilePath, cfg.Logging.RotationEnabled,
			cfg.Logging.MaxSizeMB, cfg.Logging.MaxAgeDays,
		); err != nil {
			fmt.Fprintf(os.Stderr, "file logging: %v\n", err)
		}
	}
}

// wire builds the full engine stack from config, resuming GameState from
// the last snapshot when one exists.
func wire(cfg *config.Config) (*autoloop.Loop, error) {
	prof, err := profile.Load(cfg.Profile.ProfilePath)
	if err != nil {
		return nil, fmt.Errorf("loading profile: %w", err)
	}
	layout, err := profile.LoadCityLayout(cfg.Profile.CityLayoutPath)
	if err != nil {
		return nil, fmt.Errorf("loading city layout: %w", err)
	}
	if cfg.Profile.QuestScriptsPath != "" {
		if err := loadQuestScripts(cfg.Profile.QuestScriptsPath, prof); err != nil {
			return nil, err
		}
	}

	dev := device.NewADB(cfg.Device.Serial,
		time.Duration(cfg.Device.CaptureTimeoutS)*time.Second,
		time.Duration(cfg.Device.OpTimeoutS)*time.Second)

	templates := template.NewStore(cfg.Template.RootDir, []string{"icons/tutorial_finger"})
	ocrPort := ocr.NewPort(buildOCREngine(cfg), prof.OCRCorrections)

	gridOverlay := grid.NewOverlay(cfg.Device.ScreenW, cfg.Device.ScreenH, prof.GridCols, prof.GridRows)
	detector := element.NewDetector(templates, ocrPort, gridOverlay, cfg.Template.MatchThreshold)
	classifier := scene.NewClassifier(templates, cfg.Template.MatchThreshold)
	questBar := questbar.NewDetector(templates, ocrPort, cfg.Template.MatchThreshold)
	fingerDet := finger.NewDetector(templates, 0, prof.FingerNCCMin)
	closeX := closex.NewVerifier(templates)

	statePath := cfg.StatePath()
	state, err := gamestate.LoadSnapshot(statePath)
	if err != nil {
		logger.WarnCF("main", "snapshot unreadable, starting fresh", map[string]interface{}{"error": err.Error()})
	}
	if state == nil {
		state = model.NewGameState(prof.ResourceDefaults)
	}

	tracker := gamestate.NewTracker(state, classifier, questBar, ocrPort, detector, prof.ResourceOrder)

	usageStore := usage.NewStore(cfg.WorkspacePath())
	var adv advisor.Advisor
	if m := advisor.NewManager(cfg.Advisor, usageStore); m != nil {
		adv = m
	}

	bundle := perception.NewBundle(templates, ocrPort, classifier, cfg.Template.MatchThreshold)
	wf := workflow.New(workflow.Config{
		MaxExecuteIterations: cfg.Workflow.MaxExecuteIterations,
		MaxCheckRetries:      cfg.Workflow.MaxCheckRetries,
		MaxVerifyRetries:     cfg.Workflow.MaxVerifyRetries,
		MaxEnsureRetries:     10,
		ActionButtonExhaust:  cfg.Workflow.ActionButtonExhaust,
		Cooldown:             time.Duration(cfg.Workflow.CooldownSeconds * float64(time.Second)),
	}, bundle, questBar, fingerDet, closeX, prof, adv, state)

	var finderIface action.BuildingFinder
	if layout != nil {
		finderIface = buildingfinder.New(dev, ocrPort, layout, cfg.Device.ScreenW, cfg.Device.ScreenH)
	}
	pipeline := action.NewPipeline(dev, detector, state, finderIface, 2)
	recoverer := recovery.New(dev, dev, cfg.Device.AppPackage)
	handler := autohandler.New(ocrPort, prof.ClaimTexts)

	return autoloop.New(cfg, autoloop.Deps{
		Device:     dev,
		Templates:  templates,
		Classifier: classifier,
		Finger:     fingerDet,
		Tracker:    tracker,
		Workflow:   wf,
		Pipeline:   pipeline,
		Recoverer:  recoverer,
		Handler:    handler,
		Profile:    prof,
		State:      state,
		StatePath:  statePath,
	}), nil
}

func buildOCREngine(cfg *config.Config) ocr.Engine {
	if cfg.OCR.Command == "" {
		logger.WarnC("main", "no OCR command configured, text detection disabled")
		return &ocr.StubEngine{}
	}
	engine := ocr.NewCommandEngine(cfg.OCR.Command)
	if cfg.OCR.TimeoutS > 0 {
		engine.Timeout = time.Duration(cfg.OCR.TimeoutS) * time.Second
	}
	return engine
}

// loadQuestScripts replaces the profile's own quest-script list with a
// standalone quest-script table. A missing file is degraded mode, not an
// error.
func loadQuestScripts(path string, prof *profile.Profile) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.WarnCF("main", "quest script table not found", map[string]interface{}{"path": path})
			return nil
		}
		return fmt.Errorf("reading quest scripts %s: %w", path, err)
	}
	if err := prof.SetQuestScripts(data); err != nil {
		return err
	}
	return nil
}
