package cmd

import (
	"log/slog"
	"os"
	"strings"

	"github.com/qbizns/Vodo.com-sub019/pkg/connector"
	"github.com/qbizns/Vodo.com-sub019/pkg/connectors/httpapi"
	"github.com/qbizns/Vodo.com-sub019/pkg/connectors/schedule"
	"github.com/qbizns/Vodo.com-sub019/pkg/connectors/slack"
	"github.com/qbizns/Vodo.com-sub019/pkg/vault"
)

// NewRegistry builds the connector registry with the built-in connectors
// registered.
func NewRegistry(logger *slog.Logger) *connector.Registry {
	registry := connector.NewRegistry(logger)

	registry.RegisterTrigger(httpapi.ConnectorID, "poll_endpoint", httpapi.NewPollTrigger())
	registry.RegisterAction(httpapi.ConnectorID, "request", httpapi.NewRequestAction())

	registry.RegisterTrigger(schedule.ConnectorID, "cron", schedule.NewCronTrigger())

	registry.RegisterTrigger(slack.ConnectorID, "event", slack.NewEventTrigger())
	registry.RegisterAction(slack.ConnectorID, "post_message", slack.NewPostMessageAction())

	return registry
}

// NewVault builds a static vault from VODO_CREDENTIAL_* environment
// variables: VODO_CREDENTIAL_<CONNECTION>_<KEY>=value. Production
// deployments swap in an external vault implementation.
func NewVault(logger *slog.Logger) vault.Vault {
	credentials := make(map[string]vault.Credentials)

	for _, entry := range os.Environ() {
		key, value, found := strings.Cut(entry, "=")
		if !found || !strings.HasPrefix(key, "VODO_CREDENTIAL_") {
			continue
		}

		rest := strings.TrimPrefix(key, "VODO_CREDENTIAL_")

		connectionID, credentialKey, found := strings.Cut(rest, "_")
		if !found {
			continue
		}

		connectionID = strings.ToLower(connectionID)
		credentialKey = strings.ToLower(credentialKey)

		if credentials[connectionID] == nil {
			credentials[connectionID] = vault.Credentials{}
		}

		credentials[connectionID][credentialKey] = value
	}

	logger.Debug("Static vault loaded", "connections", len(credentials))

	return vault.NewStatic(credentials)
}
