// bend5x post-processes flat 3-axis G-code for a 5-axis machine: it
// bends the toolpath along a configured curve, applies the two-link arm
// kinematics, and rewrites rotary motion into controller actuation
// commands.
//
// Usage:
//
//	bend5x -input part.gcode [options]
//
// Options:
//
//	-input string     Input G-code program (required unless -preview)
//	-config string    Configuration file (ini format)
//	-stage string     Run a single stage: bend, translate or emit
//	                  (default: full pipeline)
//	-preview          Print curve samples instead of processing
//	-step float       Preview sample step in mm (default 1.0)
//	-upload           Upload the final artifact and start printing
//	-printer string   Moonraker base URL (overrides config)
//	-setup string     Run a setup sequence: mass-production or five-axis
//	-metrics string   Serve Prometheus metrics on this address
//	-log string       Log level: debug, info, warn, error
//	-logfile string   Log file path (default: stderr)
//
// Examples:
//
//	# Full pipeline with the production defaults
//	bend5x -input part.gcode
//
//	# Re-run only the emission stage
//	bend5x -input part.gcode -stage emit
//
//	# Inspect the bending curve
//	bend5x -config custom.cfg -preview
//
//	# Process, upload and print
//	bend5x -input part.gcode -upload -printer http://172.20.10.4:7125
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bend5x/pkg/config"
	"bend5x/pkg/gcode"
	"bend5x/pkg/log"
	"bend5x/pkg/metrics"
	"bend5x/pkg/pipeline"
	"bend5x/pkg/printer"
	"bend5x/pkg/validation"
)

func main() {
	input := flag.String("input", "", "Input G-code program")
	configFile := flag.String("config", "", "Configuration file")
	stage := flag.String("stage", "", "Run a single stage: bend, translate or emit")
	preview := flag.Bool("preview", false, "Print curve samples instead of processing")
	step := flag.Float64("step", 1.0, "Preview sample step in mm")
	upload := flag.Bool("upload", false, "Upload the final artifact and start printing")
	printerURL := flag.String("printer", "", "Moonraker base URL (overrides config)")
	setup := flag.String("setup", "", "Run a setup sequence: mass-production or five-axis")
	metricsAddr := flag.String("metrics", "", "Serve Prometheus metrics on this address")
	logLevel := flag.String("log", "info", "Log level: debug, info, warn, error")
	logFile := flag.String("logfile", "", "Log file path (default: stderr)")
	flag.Parse()

	root := log.New("bend5x")
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			fatalf("opening log file: %v", err)
		}
		defer f.Close()
		root.SetWriter(f)
	}
	root.SetLevel(log.ParseLevel(*logLevel))
	log.SetDefault(root)
	logger := log.GetLogger("main")

	params := config.Default()
	if *configFile != "" {
		var err error
		params, err = config.Load(*configFile)
		if err != nil {
			fatalf("loading config: %v", err)
		}
	}
	if *printerURL != "" {
		params.MoonrakerURL = *printerURL
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *setup != "" {
		if err := runSetup(ctx, params, *setup); err != nil {
			fatalf("%v", err)
		}
		return
	}

	if !*preview && *input == "" {
		fmt.Fprintln(os.Stderr, "Error: -input is required")
		flag.Usage()
		os.Exit(1)
	}

	pm := metrics.NewPipelineMetrics()
	if *metricsAddr != "" {
		server := metrics.NewServer(pm.Registry(), *metricsAddr)
		go func() {
			if err := server.Start(); err != nil {
				logger.Error("metrics server: %v", err)
			}
		}()
		defer server.Shutdown(context.Background())
	}

	run, err := pipeline.New(*input, params)
	if err != nil {
		fatalf("%v", err)
	}
	run.SetMetrics(pm)

	if *preview {
		printPreview(run, *step)
		return
	}

	reports, err := runStages(ctx, run, *stage)
	printReports(reports)
	if err != nil {
		fatalf("%v", err)
	}

	if *upload {
		final := run.ArtifactPath(pipeline.StageEmit)
		client := printer.NewClient(params.MoonrakerURL, printer.WithAPIKey(params.APIKey), printer.WithMetrics(pm))
		if err := client.TestConnection(ctx); err != nil {
			fatalf("printer unreachable: %v", err)
		}
		if err := client.UploadAndPrint(ctx, final); err != nil {
			fatalf("upload failed: %v", err)
		}
		logger.Info("uploaded %s and started print", final)
	}
}

func runStages(ctx context.Context, run *pipeline.Run, stage string) ([]*pipeline.Report, error) {
	switch stage {
	case "":
		return run.RunAll(ctx)
	case "bend":
		r, err := run.RunBending(ctx)
		return []*pipeline.Report{r}, err
	case "translate":
		r, err := run.RunTranslation(ctx)
		return []*pipeline.Report{r}, err
	case "emit":
		r, err := run.RunEmission(ctx)
		return []*pipeline.Report{r}, err
	default:
		return nil, fmt.Errorf("unknown stage %q (want bend, translate or emit)", stage)
	}
}

func printReports(reports []*pipeline.Report) {
	for _, r := range reports {
		if r == nil {
			continue
		}
		fmt.Printf("%-10s %6d lines  %8s", r.Stage, r.Lines, r.Elapsed.Round(time.Millisecond))
		if r.Artifact != "" {
			fmt.Printf("  -> %s", r.Artifact)
		}
		fmt.Println()
		for _, issue := range r.Issues {
			marker := "warning"
			if issue.Severity == validation.Fatal {
				marker = "FATAL"
			}
			fmt.Printf("  [%s] %s\n", marker, issue)
		}
	}
}

func printPreview(run *pipeline.Run, step float64) {
	fmt.Println("height_mm lateral_mm angle_deg")
	for _, s := range run.Preview(step) {
		fmt.Printf("%s %s %s\n",
			gcode.FormatFloat(s.Height, 3),
			gcode.FormatFloat(s.LateralOffset, 3),
			gcode.FormatFloat(s.TangentAngle, 3))
	}
}

func runSetup(ctx context.Context, params config.Params, sequence string) error {
	client := printer.NewClient(params.MoonrakerURL, printer.WithAPIKey(params.APIKey))
	if err := client.TestConnection(ctx); err != nil {
		return fmt.Errorf("printer unreachable: %w", err)
	}
	switch sequence {
	case "mass-production":
		return client.MassProductionSetup(ctx)
	case "five-axis":
		return client.FiveAxisSetup(ctx)
	default:
		return fmt.Errorf("unknown setup sequence %q (want mass-production or five-axis)", sequence)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
