package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/iwvelando/margin-analysis/internal/config"
	"github.com/iwvelando/margin-analysis/internal/currency"
	"github.com/iwvelando/margin-analysis/internal/project"
	"github.com/iwvelando/margin-analysis/internal/store"
	"github.com/iwvelando/margin-analysis/internal/store/sqlite"
	"github.com/iwvelando/margin-analysis/pkg/constants"
	"github.com/iwvelando/margin-analysis/pkg/output"
	"github.com/iwvelando/margin-analysis/pkg/validation"
)

const unassignedClient = "Unassigned"

var cliCaller = project.Caller{UserID: "cli", Role: constants.RoleAdmin}

// evaluate computes every worksheet of conf against an in-memory store seeded
// from the configuration and returns the stored projects in worksheet order.
func evaluate(ctx context.Context, logger *zap.Logger, conf config.Configuration) ([]store.Project, error) {
	st, err := sqlite.Open(":memory:", logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = st.Close()
	}()

	if err := st.Seed(ctx,
		store.DefaultCostRates(conf.Seed.CostRateMap()),
		store.DefaultExchangeRates(conf.Seed.ExchangeRateMap()),
	); err != nil {
		return nil, err
	}

	var source currency.Source
	if !conf.Currency.Offline {
		source = currency.NewHTTPSource(conf.Currency.SourceURL, conf.Currency.Retries, logger)
	}
	fx := currency.NewNormalizer(st, source, currency.WithLogger(logger), currency.WithTTL(conf.Currency.TTL))
	svc := project.NewService(st, st, fx, logger)

	clients := make(map[string]int64)
	projects := make([]store.Project, 0, len(conf.Projects))
	for _, ws := range conf.Projects {
		name := ws.Client
		if name == "" {
			name = unassignedClient
		}
		clientID, ok := clients[name]
		if !ok {
			client, err := st.CreateClient(ctx, name)
			if err != nil {
				return nil, err
			}
			clientID = client.ID
			clients[name] = clientID
		}

		res, err := svc.Create(ctx, cliCaller, project.Input{
			ClientID:           clientID,
			CurrencyUsed:       ws.Currency,
			ProjectName:        ws.Name,
			LocalServiceValue:  ws.ServiceValue,
			BaselineHours:      ws.BaselineHours,
			TotalBaselineHours: ws.TotalBaselineHours,
			NonBillHours:       ws.NonBillHours,
			Resources:          ws.Resources,
			ThirdParty:         ws.ThirdParty,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate project '%s': %w", ws.Name, err)
		}
		for _, warning := range res.Warnings {
			logger.Warn(warning,
				zap.String("op", "main.evaluate"),
				zap.String("project_name", ws.Name),
			)
		}

		p, err := svc.Get(ctx, cliCaller, res.Project.ID)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, nil
}

func writeExample(path string) error {
	if path == "-" {
		return config.WriteExample(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := config.WriteExample(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func render(w io.Writer, format string, projects []store.Project) error {
	switch format {
	case constants.OutputFormatCSV:
		return output.CsvFormat(w, projects)
	default:
		output.PrettyFormat(w, projects)
		return nil
	}
}

func main() {
	configLocation := flag.String("config", constants.DefaultConfigFile, "path to configuration file")
	outputFormatFlag := flag.String("output-format", "", "type of output override: pretty, csv")
	logLevel := flag.String("log-level", "", "log level override (debug, info, warn, error)")
	initPath := flag.String("init", "", "write an example configuration to this path (- for stdout) and exit")
	flag.Parse()

	if *initPath != "" {
		if err := writeExample(*initPath); err != nil {
			fmt.Printf("{\"op\": \"main\", \"level\": \"fatal\", \"msg\": \"failed to write example configuration\", \"error\": \"%v\"}\n", err)
			os.Exit(1)
		}
		return
	}

	// A missing .env file is not an error.
	_ = godotenv.Load()

	conf, err := config.LoadConfiguration(*configLocation)
	if err != nil {
		fmt.Printf("{\"op\": \"main\", \"level\": \"fatal\", \"msg\": \"failed to load configuration at %s\", \"error\": \"%v\"}\n", *configLocation, err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(conf.Logging, *logLevel)
	if err != nil {
		fmt.Printf("{\"op\": \"main\", \"level\": \"fatal\", \"msg\": \"failed to initialize logger\", \"error\": \"%v\"}\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	outputFormat := conf.Output.Format
	if *outputFormatFlag != "" {
		outputFormat = *outputFormatFlag
	}
	if err := validation.ValidateOutputFormat(outputFormat); err != nil {
		logger.Fatal(err.Error(),
			zap.String("op", "main"),
		)
	}

	for _, warning := range conf.ValidateConfiguration() {
		logger.Warn("Configuration warning: "+warning,
			zap.String("op", "main"),
		)
	}

	projects, err := evaluate(context.Background(), logger, *conf)
	if err != nil {
		logger.Fatal("failed to compute project margins",
			zap.String("op", "main"),
			zap.Error(err),
		)
	}

	if err := render(os.Stdout, outputFormat, projects); err != nil {
		logger.Fatal("failed to write results",
			zap.String("op", "main"),
			zap.Error(err),
		)
	}
}
