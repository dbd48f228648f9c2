package cli

import (
	"github.com/happytimeshere/kirby/internal/core"
	"github.com/happytimeshere/kirby/internal/observability"
	"github.com/happytimeshere/kirby/internal/storage"
)

// Service instances, set during app initialization in app.go.
var (
	Workspace   core.Workspace
	Users       storage.UserRegistry
	EventLog    observability.EventLog
	MetricsCalc observability.MetricsCalculator
)
