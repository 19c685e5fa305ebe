package agentmonitor

import (
	"github.com/kennethnrk/edgernetes-inference/internal/agent"
	"github.com/kennethnrk/edgernetes-inference/internal/common/constants"
)

// CheckHealth reports every assigned model and whether all of them are ready.
// An agent with no assigned models is healthy.
func CheckHealth(a *agent.Agent) ([]agent.ModelDetails, bool) {
	models := a.AssignedModels()
	healthy := true
	for _, m := range models {
		if m.Status != constants.ModelStatusReady {
			healthy = false
			break
		}
	}
	return models, healthy
}
