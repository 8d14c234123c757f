package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
)

// AnalysisRequestedEvent carries a batch submitted for asynchronous analysis.
type AnalysisRequestedEvent struct {
	AnalysisID   string               `json:"analysisId"`
	TenantID     string               `json:"tenantId"`
	Transactions []domain.Transaction `json:"transactions"`
}

// AnalysisCompletedEvent signals a finished analysis. The full report is
// persisted; the event carries only the summary.
type AnalysisCompletedEvent struct {
	AnalysisID   string               `json:"analysisId"`
	TenantID     string               `json:"tenantId"`
	TriageStatus string               `json:"triageStatus"`
	Summary      domain.ReportSummary `json:"summary"`
}

// AnalysisFailedEvent signals an analysis that could not complete.
type AnalysisFailedEvent struct {
	AnalysisID string `json:"analysisId"`
	TenantID   string `json:"tenantId"`
	Error      string `json:"error"`
}

// AlertEvent signals a triage escalation on a completed analysis.
type AlertEvent struct {
	AnalysisID  string   `json:"analysisId"`
	TenantID    string   `json:"tenantId"`
	Escalations int      `json:"escalations"`
	Reviews     int      `json:"reviews"`
	Reasons     []string `json:"reasons"`
}

// PublishEvent marshals an event payload and publishes it to a topic.
func PublishEvent(ctx context.Context, b domain.EventBus, tenantID string, topic string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", topic, err)
	}
	return b.Publish(ctx, tenantID, topic, payload)
}

// DecodeEvent unmarshals a message payload into the given event type.
func DecodeEvent[T any](msg *domain.Message) (*T, error) {
	var event T
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", msg.Topic, err)
	}
	return &event, nil
}
