package events

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const auditGroup = "agrivoice-audit"

// NewAuditRouter builds a router that logs every session event. With Redis the
// handler joins a consumer group so each event is logged by one replica.
func (b *Bus) NewAuditRouter() (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{}, b.logger)
	if err != nil {
		return nil, errors.Wrap(err, "new router")
	}
	sub := b.sub
	if b.newGroupSubscriber != nil {
		if sub, err = b.newGroupSubscriber(auditGroup); err != nil {
			return nil, errors.Wrap(err, "audit subscriber")
		}
	}
	router.AddNoPublisherHandler("session-audit", Topic, sub, func(msg *message.Message) error {
		var e Event
		if err := json.Unmarshal(msg.Payload, &e); err != nil {
			log.Warn().Err(err).Str("uuid", msg.UUID).Msg("audit: undecodable event")
			return nil
		}
		log.Info().
			Str("session_id", e.SessionID).
			Str("status", e.Status).
			Str("stage", e.Stage).
			Time("at", e.At).
			Msg("session event")
		return nil
	})
	return router, nil
}
