package server

import (
	"github.com/NicolasHaas/gorelay/pkg/model"
	"github.com/NicolasHaas/gorelay/pkg/protocol"
)

// broadcast relays text from sender to every other live session, in accept
// order. Delivery is best effort: a failed write marks that recipient for
// removal and the rest still receive the message. Returns the number of
// successful deliveries.
func (s *Server) broadcast(sender *model.Session, text string) int {
	frame, err := protocol.Encode(protocol.ChatBroadcast(sender.Username, text))
	if err != nil {
		s.log.Warn("dropped oversized broadcast", "session", sender.ID, "user", sender.Username, "err", err)
		return 0
	}

	delivered := 0
	var failed []model.SessionID
	for _, id := range s.sessions.IDs() {
		if id == sender.ID {
			continue
		}
		if err := s.writeFrame(id, frame); err != nil {
			s.metrics.DeliveryFailures.Add(1)
			s.log.Debug("broadcast write failed", "session", id, "err", err)
			failed = append(failed, id)
			continue
		}
		delivered++
	}
	s.metrics.Deliveries.Add(int64(delivered))

	for _, id := range failed {
		s.removeSession(id, "broadcast write failed")
	}
	return delivered
}
