// Package bus moves analysis lifecycle events between the API, the
// pipeline, and async workers. Two transports implement the same
// contract: an in-process channel bus for the Community tier and NATS
// for the Pro tier.
package bus

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/domain"
)

// subjectPrefix namespaces every subject the service touches, so a
// shared NATS cluster can carry other traffic alongside Harrier's.
const subjectPrefix = "harrier"

// subjectFor builds the wire subject for a tenant-scoped topic:
//
//	harrier.<tenant>.<topic>
//
// Both transports key delivery on this subject, which is what makes
// tenant isolation hold regardless of backend.
func subjectFor(tenantID, topic string) string {
	return subjectPrefix + "." + tenantID + "." + topic
}

// envelope wraps a raw payload in the message both transports carry.
func envelope(tenantID, topic string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
}

// New selects the transport for the configured tier.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil
	case "nats":
		return NewNATSBus(cfg)
	default:
		return nil, fmt.Errorf("unsupported event bus type: %q", cfg.Type)
	}
}
