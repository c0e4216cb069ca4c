package migrations

import (
	"context"
	"fmt"
	"sort"

	"github.com/asaidimu/go-jsondb/core"
	"github.com/asaidimu/go-jsondb/core/jsondb"
	"github.com/asaidimu/go-jsondb/core/migration"
	"go.uber.org/zap"
)

const (
	IntegrationsPath = "/integrations"
	EnvironmentsPath = "/environments"

	continuousDeliveryState = "continuousDeliveryState"
)

// Up32 rekeys the continuous delivery state of every integration from
// environment name to environment id, creating the environments that do not
// exist yet.
func Up32(ctx context.Context, store jsondb.Store, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	_, err := migration.MigrateCollection(ctx, store, logger, "Integration", IntegrationsPath,
		func(integration core.Document) (bool, error) {
			return migrateContinuousDeliveryState(ctx, store, logger, integration)
		})
	return err
}

func migrateContinuousDeliveryState(ctx context.Context, store jsondb.Store, logger *zap.Logger, integration core.Document) (bool, error) {
	state, ok := integration.Object(continuousDeliveryState)
	if !ok {
		return false, nil
	}

	names := make([]string, 0, len(state))
	for name := range state {
		names = append(names, name)
	}
	sort.Strings(names)

	integrationID, _ := integration.String("id")
	byEnvironment := make(map[string]any, len(state))
	var pending []string

	for _, name := range names {
		entry, ok := core.AsDocument(state[name])
		if !ok {
			byEnvironment[name] = state[name]
			continue
		}
		// Already keyed by environment id.
		if envID, _ := entry.String("environmentId"); envID == name && !entry.Has("name") {
			byEnvironment[name] = entry
			continue
		}
		pending = append(pending, name)
	}

	for _, name := range pending {
		entry, _ := core.AsDocument(state[name])
		envID, err := resolveEnvironment(ctx, store, logger, name)
		if err != nil {
			return false, err
		}
		if _, taken := byEnvironment[envID]; taken {
			return false, fmt.Errorf("%w: integration %s has state for both %q and environment %s",
				migration.ErrConflict, integrationID, name, envID)
		}

		if integrationID != "" {
			statePath := jsondb.RecordPath(IntegrationsPath, integrationID) + "/" + continuousDeliveryState + "/" + name
			if _, err := store.Delete(ctx, statePath); err != nil {
				return false, fmt.Errorf("failed to delete %s: %w", statePath, err)
			}
		}

		delete(entry, "name")
		entry["environmentId"] = envID
		byEnvironment[envID] = entry
	}
	changed := len(pending) > 0

	if changed {
		integration[continuousDeliveryState] = byEnvironment
	}
	return changed, nil
}

// resolveEnvironment returns the id of the environment called name,
// creating it when there is none. Of several environments sharing a name the
// smallest id wins.
func resolveEnvironment(ctx context.Context, store jsondb.Store, logger *zap.Logger, name string) (string, error) {
	ids, err := store.FetchIdsByPropertyValue(ctx, EnvironmentsPath, "name", name)
	if err != nil {
		return "", fmt.Errorf("failed to look up environment %q: %w", name, err)
	}
	if ids != nil && ids.Size > 0 {
		return ids.Values[0], nil
	}

	envID := store.CreateKey()
	environment := core.Document{"id": envID, "name": name}
	if err := store.Set(ctx, jsondb.RecordPath(EnvironmentsPath, envID), environment); err != nil {
		return "", fmt.Errorf("failed to create environment %q: %w", name, err)
	}
	logger.Debug("Created environment", zap.String("name", name), zap.String("id", envID))
	return envID, nil
}
