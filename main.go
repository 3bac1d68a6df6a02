package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rmachado/financedw/config"
	"github.com/rmachado/financedw/forecast"
	"github.com/rmachado/financedw/ingestion"
	"github.com/rmachado/financedw/models"
	"github.com/rmachado/financedw/orchestrator"
	"github.com/rmachado/financedw/registry"
	"github.com/rmachado/financedw/utils"
	"github.com/rmachado/financedw/validation"
	"github.com/rmachado/financedw/warehouse"
)

// Exit codes of the CLI.
const (
	exitSucceeded       = 0
	exitFailed          = 1
	exitPartiallyFailed = 2
)

// runtime bundles everything a CLI mode needs.
type runtime struct {
	cfg          config.Config
	conns        *config.DBConnections
	logger       *utils.PipelineLogger
	orchestrator *orchestrator.Orchestrator
	runlog       warehouse.RunLogRepository
}

func main() {
	modePtr := flag.String("mode", "serve", "Operating mode: serve, once, run, retrain or status")
	domainPtr := flag.String("domain", "", "Data domain for run/retrain/status modes")
	configPtr := flag.String("config", "pipeline.yaml", "Path to the pipeline configuration file")
	windowPtr := flag.Int("window", 0, "Override the forecast training window in days")
	horizonPtr := flag.Int("horizon", 0, "Override the forecast horizon in days")
	minR2Ptr := flag.Float64("min-r2", 0, "Override the minimum R² promotion threshold")

	flag.Parse()

	log.Println("Starting pipeline runner in mode:", *modePtr)

	cfg, err := config.Load(*configPtr)
	if err != nil {
		log.Fatalf("Could not load configuration: %v", err)
	}

	if *windowPtr > 0 {
		cfg.Forecast.WindowDays = *windowPtr
	}
	if *horizonPtr > 0 {
		cfg.Forecast.HorizonDays = *horizonPtr
	}
	if *minR2Ptr > 0 {
		cfg.Forecast.MinR2Threshold = *minR2Ptr
	}

	rt, err := setup(cfg)
	if err != nil {
		log.Fatalf("Could not initialize pipeline: %v", err)
	}
	defer config.CloseDatabases(rt.conns)

	var code int
	switch *modePtr {
	case "once":
		code = runOnce(rt)
	case "run":
		code = runDomain(rt, *domainPtr)
	case "retrain":
		code = retrainDomain(rt, *domainPtr)
	case "status":
		code = showStatus(rt, *domainPtr)
	case "serve":
		code = serve(rt)
	default:
		log.Println("Unknown mode:", *modePtr)
		log.Println("Available modes: serve, once, run, retrain, status")
		code = exitFailed
	}

	os.Exit(code)
}

// setup connects the warehouse, ensures its tables, registers contracts and
// builds the orchestrator.
func setup(cfg config.Config) (*runtime, error) {
	logger := utils.NewPipelineLogger(cfg.EnableDetailedLogging)
	logger.Info("Initializing pipeline runner")

	conns, err := config.ConnectDatabases(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting databases: %w", err)
	}

	// Warehouse-backed stores and their tables.
	store := warehouse.NewMySQLStore(conns.WarehouseDB, cfg.BatchLotSize, logger)
	marks := warehouse.NewMySQLWatermarkStore(conns.WarehouseDB)
	runlog := warehouse.NewMySQLRunLogRepository(conns.WarehouseDB)
	artifacts := forecast.NewMySQLArtifactRepository(conns.WarehouseDB)
	contracts := registry.NewMySQLStore(conns.WarehouseDB)

	for _, ensure := range []func() error{
		store.EnsureTableExists,
		marks.EnsureTableExists,
		runlog.EnsureTableExists,
		artifacts.EnsureTableExists,
		contracts.EnsureTableExists,
	} {
		if err := ensure(); err != nil {
			return nil, err
		}
	}

	// Schema contracts from the governance directory.
	if _, err := registry.LoadContractDir(contracts, cfg.ContractsDir, logger); err != nil {
		return nil, fmt.Errorf("loading schema contracts: %w", err)
	}

	staging, err := ingestion.NewStagingArchive(cfg.StagingDir, logger)
	if err != nil {
		return nil, err
	}

	// Per-domain adapters and enrichment tables.
	adapters := make(map[string]ingestion.Adapter, len(cfg.Domains))
	enrichers := make(map[string]*validation.Enricher, len(cfg.Domains))
	for _, domain := range cfg.Domains {
		adapter, err := ingestion.NewAdapter(domain, cfg.FetchLimit, logger)
		if err != nil {
			return nil, err
		}
		adapters[domain.Name] = adapter

		var accountPlan map[string]validation.AccountClass
		if domain.AccountPlanFile != "" {
			if accountPlan, err = validation.LoadAccountPlan(domain.AccountPlanFile); err != nil {
				return nil, err
			}
		}

		var regionals map[string]validation.Regional
		if domain.RegionalMapFile != "" {
			if regionals, err = validation.LoadRegionalMap(domain.RegionalMapFile); err != nil {
				return nil, err
			}
		}

		if accountPlan != nil || regionals != nil {
			enrichers[domain.Name] = validation.NewEnricher(accountPlan, regionals, logger)
		}
	}

	orch := orchestrator.New(cfg, orchestrator.Deps{
		Contracts: contracts,
		Adapters:  adapters,
		Enrichers: enrichers,
		Staging:   staging,
		Store:     store,
		Watermark: marks,
		RunLog:    runlog,
		Artifacts: artifacts,
	}, logger)

	return &runtime{
		cfg:          cfg,
		conns:        conns,
		logger:       logger,
		orchestrator: orch,
		runlog:       runlog,
	}, nil
}

// runOnce runs every configured domain once, in parallel.
func runOnce(rt *runtime) int {
	domains := make([]string, 0, len(rt.cfg.Domains))
	for _, d := range rt.cfg.Domains {
		domains = append(domains, d.Name)
	}

	outcome, reports := rt.orchestrator.RunAll(signalContext(), domains)
	for _, report := range reports {
		printReport(report)
	}

	return outcomeCode(outcome)
}

// runDomain runs one domain's pipeline.
func runDomain(rt *runtime, domain string) int {
	if domain == "" {
		log.Println("Mode run requires -domain")
		return exitFailed
	}

	report := rt.orchestrator.RunDomain(signalContext(), domain)
	printReport(report)
	return outcomeCode(report.Outcome)
}

// retrainDomain runs only the forecast pipeline of a domain.
func retrainDomain(rt *runtime, domain string) int {
	if domain == "" {
		log.Println("Mode retrain requires -domain")
		return exitFailed
	}

	err := rt.orchestrator.Retrain(signalContext(), domain)
	if err == nil {
		fmt.Printf("%s: model retrained and published\n", domain)
		return exitSucceeded
	}

	fmt.Printf("%s: retrain failed: %v\n", domain, err)
	if errors.Is(err, models.ErrBelowThreshold) {
		return exitPartiallyFailed
	}
	return exitFailed
}

// showStatus prints the last successful run and the live stage statuses of a
// domain.
func showStatus(rt *runtime, domain string) int {
	if domain == "" {
		log.Println("Mode status requires -domain")
		return exitFailed
	}

	last, err := rt.runlog.LastSuccessfulRun(domain)
	if err != nil {
		log.Printf("Could not read run journal: %v", err)
		return exitFailed
	}

	if last == nil {
		fmt.Printf("%s: no successful run recorded\n", domain)
	} else {
		fmt.Printf("%s: last successful run %s at %s (%d ingested, %d accepted, %d rejected, %d inserted, %d superseded)\n",
			domain, last.RunID, last.EndTime.Format("2006-01-02 15:04:05"),
			last.RecordsIngested, last.RecordsAccepted, last.RecordsRejected,
			last.RowsInserted, last.RowsSuperseded)
	}

	for _, stage := range orchestrator.PipelineStages {
		fmt.Printf("  %-10s %s\n", stage, rt.orchestrator.Tracker().Get(domain, stage))
	}
	return exitSucceeded
}

// serve runs the scheduler and the status server until a termination signal.
func serve(rt *runtime) int {
	ctx := signalContext()

	server := orchestrator.NewStatusServer(rt.orchestrator, rt.logger)
	go func() {
		if err := server.Serve(ctx, rt.cfg.StatusAddr); err != nil {
			rt.logger.Error("Status server stopped: %v", err)
		}
	}()

	scheduler := orchestrator.NewScheduler(rt.orchestrator, rt.logger)
	if err := scheduler.Start(ctx); err != nil {
		rt.logger.Error("Scheduler failed: %v", err)
		return exitFailed
	}
	return exitSucceeded
}

// signalContext returns a context cancelled by SIGINT/SIGTERM.
func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalCh
		log.Println("Termination signal received, stopping pipeline runner...")
		cancel()
	}()

	return ctx
}

func printReport(report *orchestrator.RunReport) {
	line := fmt.Sprintf("%s: %s (%d ingested, %d accepted, %d rejected, %d inserted, %d superseded)",
		report.Domain, report.Outcome,
		report.RecordsIngested, report.RecordsAccepted, report.RecordsRejected,
		report.RowsInserted, report.RowsSuperseded)
	if report.Error != "" {
		line += ": " + report.Error
	}
	fmt.Println(line)
}

func outcomeCode(outcome orchestrator.Outcome) int {
	switch outcome {
	case orchestrator.OutcomeSucceeded:
		return exitSucceeded
	case orchestrator.OutcomePartiallyFailed:
		return exitPartiallyFailed
	default:
		return exitFailed
	}
}
