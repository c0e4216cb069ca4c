package migrations

import (
	"context"
	"fmt"

	"github.com/asaidimu/go-jsondb/core"
	"github.com/asaidimu/go-jsondb/core/jsondb"
	"github.com/asaidimu/go-jsondb/core/migration"
	"go.uber.org/zap"
)

const (
	ConnectorsPath  = "/connectors"
	ConnectionsPath = "/connections"

	APIProviderConnectorID = "api-provider"
	APIProviderEndActionID = "io.syndesis:api-provider-end"

	APIProviderExceptionHandler   = "io.syndesis.connector.apiprovider.ApiProviderOnExceptionHandler"
	APIProviderErrorResponseCodes = `{"SERVER_ERROR":"500"}`
)

// Up43 fixes the defaults of the api-provider end action wherever its
// configuration is stored: the connector catalog, connections and the steps
// of every integration.
func Up43(ctx context.Context, store jsondb.Store, logger *zap.Logger) error {
	passes := []struct {
		label string
		path  string
		fn    migration.RecordFunc
	}{
		{"Connector", ConnectorsPath, migrateConnector},
		{"Connection", ConnectionsPath, migrateConnection},
		{"Integration", IntegrationsPath, migrateIntegration},
	}
	for _, p := range passes {
		if _, err := migration.MigrateCollection(ctx, store, logger, p.label, p.path, p.fn); err != nil {
			return err
		}
	}
	return nil
}

func migrateIntegration(integration core.Document) (bool, error) {
	changed := false

	if steps, ok := integration.Array("steps"); ok {
		c, err := migrateSteps(steps)
		if err != nil {
			return false, err
		}
		changed = changed || c
	}

	if flows, ok := integration.Array("flows"); ok {
		for _, f := range flows {
			flow, ok := core.AsDocument(f)
			if !ok {
				continue
			}
			steps, ok := flow.Array("steps")
			if !ok {
				continue
			}
			c, err := migrateSteps(steps)
			if err != nil {
				return false, err
			}
			changed = changed || c
		}
	}
	return changed, nil
}

func migrateSteps(steps []any) (bool, error) {
	changed := false
	for _, s := range steps {
		step, _ := core.AsDocument(s)
		c, err := migrateStep(step)
		if err != nil {
			return false, err
		}
		changed = changed || c
	}
	return changed, nil
}

// migrateStep checks both the inline action and the connection of a step.
func migrateStep(step core.Document) (bool, error) {
	if step == nil {
		return false, nil
	}
	action, _ := step.Object("action")
	actionChanged, err := migrateAction(action)
	if err != nil {
		return false, err
	}
	connection, _ := step.Object("connection")
	connectionChanged, err := migrateConnection(connection)
	if err != nil {
		return false, err
	}
	return actionChanged || connectionChanged, nil
}

func migrateConnection(connection core.Document) (bool, error) {
	if connection == nil {
		return false, nil
	}
	connector, _ := connection.Object("connector")
	return migrateConnector(connector)
}

func migrateConnector(connector core.Document) (bool, error) {
	if connector == nil {
		return false, nil
	}
	if id, _ := connector.String("id"); id != APIProviderConnectorID {
		return false, nil
	}

	actions, _ := connector.Array("actions")
	changed := false
	for _, a := range actions {
		action, _ := core.AsDocument(a)
		c, err := migrateAction(action)
		if err != nil {
			return false, err
		}
		changed = changed || c
	}
	return changed, nil
}

func migrateAction(action core.Document) (bool, error) {
	if action == nil {
		return false, nil
	}
	if id, _ := action.String("id"); id != APIProviderEndActionID {
		return false, nil
	}

	descriptor, ok := action.Object("descriptor")
	if !ok {
		return false, fmt.Errorf("%w: action %s has no descriptor", migration.ErrMalformedRecord, APIProviderEndActionID)
	}
	changed := descriptor.Set("exceptionHandler", APIProviderExceptionHandler)

	properties, err := firstStepProperties(descriptor)
	if err != nil {
		return false, err
	}
	errorResponseCodes, err := propertyDefinition(properties, "errorResponseCodes")
	if err != nil {
		return false, err
	}
	returnBody, err := propertyDefinition(properties, "returnBody")
	if err != nil {
		return false, err
	}

	if errorResponseCodes.Set("defaultValue", APIProviderErrorResponseCodes) {
		changed = true
	}
	if returnBody.Set("defaultValue", true) {
		changed = true
	}
	return changed, nil
}

func firstStepProperties(descriptor core.Document) (core.Document, error) {
	steps, ok := descriptor.Array("propertyDefinitionSteps")
	if !ok || len(steps) == 0 {
		return nil, fmt.Errorf("%w: action %s has no property definition steps", migration.ErrMalformedRecord, APIProviderEndActionID)
	}
	first, ok := core.AsDocument(steps[0])
	if !ok {
		return nil, fmt.Errorf("%w: action %s has an invalid first property definition step", migration.ErrMalformedRecord, APIProviderEndActionID)
	}
	properties, ok := first.Object("properties")
	if !ok {
		return nil, fmt.Errorf("%w: action %s has no properties", migration.ErrMalformedRecord, APIProviderEndActionID)
	}
	return properties, nil
}

func propertyDefinition(properties core.Document, name string) (core.Document, error) {
	definition, ok := properties.Object(name)
	if !ok {
		return nil, fmt.Errorf("%w: action %s has no %s property", migration.ErrMalformedRecord, APIProviderEndActionID, name)
	}
	return definition, nil
}
