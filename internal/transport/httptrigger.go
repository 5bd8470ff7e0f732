package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sbp-dev/blackboard/internal/blackboard"
	"github.com/sbp-dev/blackboard/internal/rpc"
)

// HTTPTriggerDispatcher delivers triggers to a scent's agent_endpoint
// as an outbound JSON-RPC sbp/trigger notification, implementing
// blackboard.Dispatcher. Used whenever a scent has no bound in-process
// handler.
type HTTPTriggerDispatcher struct {
	client *http.Client
}

// NewHTTPTriggerDispatcher constructs a dispatcher with a bounded
// default client timeout; callers still pass a per-call context
// timeout derived from the scent's max_execution_ms.
func NewHTTPTriggerDispatcher() *HTTPTriggerDispatcher {
	return &HTTPTriggerDispatcher{client: &http.Client{Timeout: 30 * time.Second}}
}

func (d *HTTPTriggerDispatcher) Dispatch(ctx context.Context, endpoint string, payload blackboard.TriggerPayload) error {
	notif := rpc.NewNotification(rpc.MethodTrigger, payload)
	body, err := json.Marshal(notif)
	if err != nil {
		return fmt.Errorf("marshal trigger notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build trigger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Sbp-Protocol-Version", rpc.ProtocolVersion)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver trigger: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("trigger endpoint %s returned status %d", endpoint, resp.StatusCode)
	}
	return nil
}
