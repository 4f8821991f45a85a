package eventbus

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// generateNodeID returns a process-unique node identifier of the form
// node_<randomToken>_<timestampMs>, generated once per Bus instance and used
// as the broadcast source id for self-exclusion.
func generateNodeID() string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("node_%s_%d", random, time.Now().UnixMilli())
}
