package cli

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/lucasnoah/refinery/internal/db"
	"github.com/lucasnoah/refinery/internal/gateway"
	"github.com/lucasnoah/refinery/internal/orchestrator"
)

// databaseURLEnv names the environment variable read when --database-url is unset.
const databaseURLEnv = "REFINERY_DATABASE_URL"

var databaseURL string

// openRecorder connects the event recorder. Without a database URL events
// are discarded.
func openRecorder(ctx context.Context) (db.Recorder, func(), error) {
	url := databaseURL
	if url == "" {
		url = os.Getenv(databaseURLEnv)
	}
	if url == "" {
		return db.Nop{}, func() {}, nil
	}

	database, err := db.Open(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return database, database.Close, nil
}

// newOrchestrator builds the configured gateway for plan and wires it to rec.
func newOrchestrator(ctx context.Context, plan *orchestrator.Plan, rec db.Recorder) (*orchestrator.Orchestrator, error) {
	gw, err := gateway.New(ctx, plan.Config.Pipeline.Gateway, appLog)
	if err != nil {
		return nil, err
	}
	appLog.Debug("orchestrator ready",
		zap.String("pipeline", plan.Name()),
		zap.String("provider", plan.Config.Pipeline.Gateway.Provider),
		zap.Strings("stages", plan.StageIDs()),
	)
	return orchestrator.New(plan, gw, orchestrator.Options{Logger: appLog, Recorder: rec}), nil
}
