package main

import (
	"database/sql"
	"log"
	"log/slog"
	"os"

	_ "modernc.org/sqlite"

	"convoflow/executors"
	"convoflow/runtime"
	"convoflow/server"
	"convoflow/services"
	"convoflow/store"
)

type appConfig struct {
	Addr          string `default:":8080"`
	DBPath        string `default:"convoflow.db" validate:"required"`
	FlowsDir      string `default:"flows"`
	ClassifierURL string `validate:"required,url"`
	GeneratorURL  string `validate:"required,url"`
	ToolsURL      string `validate:"omitempty,url"`
}

func loadConfig() (appConfig, error) {
	cfg := appConfig{
		Addr:          os.Getenv("CONVOFLOW_ADDR"),
		DBPath:        os.Getenv("CONVOFLOW_DB"),
		FlowsDir:      os.Getenv("CONVOFLOW_FLOWS_DIR"),
		ClassifierURL: os.Getenv("CONVOFLOW_CLASSIFIER_URL"),
		GeneratorURL:  os.Getenv("CONVOFLOW_GENERATOR_URL"),
		ToolsURL:      os.Getenv("CONVOFLOW_TOOLS_URL"),
	}
	err := runtime.InitializeConfig(&cfg)
	return cfg, err
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		log.Fatalf("Error opening database: %v", err)
	}
	defer db.Close()

	st, err := store.NewSQLiteStore(db)
	if err != nil {
		log.Fatalf("Error initializing store: %v", err)
	}

	classifier, err := services.NewHTTPClassifier(services.ClassifierConfig{BaseURL: cfg.ClassifierURL})
	if err != nil {
		log.Fatalf("Error initializing classifier: %v", err)
	}
	generator, err := services.NewHTTPGenerator(services.GeneratorConfig{BaseURL: cfg.GeneratorURL})
	if err != nil {
		log.Fatalf("Error initializing generator: %v", err)
	}

	var tools services.ToolRegistry = services.NewLocalToolRegistry()
	if cfg.ToolsURL != "" {
		tools, err = services.NewHTTPToolRegistry(services.ToolRegistryConfig{BaseURL: cfg.ToolsURL})
		if err != nil {
			log.Fatalf("Error initializing tool registry: %v", err)
		}
	}

	execRegistry := runtime.NewExecutorRegistry()
	executors.Register(execRegistry, executors.Deps{
		Classifier: classifier,
		Generator:  generator,
		Tools:      tools,
	})

	registry := runtime.NewDefinitionRegistry(execRegistry, logger)
	versions := runtime.NewVersionManager(registry, st, logger)

	defs, err := runtime.LoadDefinitions(cfg.FlowsDir)
	if err != nil {
		log.Fatalf("Error loading flows: %v", err)
	}
	for _, def := range defs {
		if err := versions.RegisterVersion(def, 1, false); err != nil {
			log.Fatalf("Error registering flow %s: %v", def.ID, err)
		}
		if err := st.SaveDefinition(def); err != nil {
			log.Fatalf("Error persisting flow %s: %v", def.ID, err)
		}
		logger.Info("loaded flow", "flow", def.ID, "version", def.Version)
	}

	// Replay definitions persisted through the API so suspended runs can
	// resume after a restart. Versions already loaded from disk are skipped.
	stored, err := st.ListDefinitions()
	if err != nil {
		log.Fatalf("Error loading stored flows: %v", err)
	}
	for _, def := range stored {
		if _, err := registry.GetVersion(def.ID, def.Version); err == nil {
			continue
		}
		if err := registry.Register(def); err != nil {
			logger.Warn("skipping stored flow", "flow", def.ID, "version", def.Version, "error", err)
			continue
		}
		logger.Info("restored flow", "flow", def.ID, "version", def.Version)
	}

	engine, err := runtime.NewEngine(runtime.EngineConfig{}, registry, execRegistry, versions, st, st, logger)
	if err != nil {
		log.Fatalf("Error initializing engine: %v", err)
	}

	srv := server.New(engine, registry, versions, st, logger)
	if err := srv.Router().Run(cfg.Addr); err != nil {
		log.Fatalf("Error running server: %v", err)
	}
}
