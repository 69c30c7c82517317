package service

import (
	"github.com/kiosknet-protocol/kiosknet-go/pkg/version"
	"github.com/kiosknet-protocol/kiosknet-go/pkg/wire"
)

// buildClientList snapshots the registered fleet as wire ClientInfo
// records, sorted by the registry's iteration order (callers that need
// a stable order sort themselves).
func (s *Service) buildClientList() []wire.ClientInfo {
	entries := s.devices.Registered()
	out := make([]wire.ClientInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, wire.ClientInfo{
			DeviceID: e.DeviceID,
			Name:     e.Name,
			Status:   e.Status,
			Online:   e.Session.IsOpen(),
			LastSeen: e.LastSeen,
		})
	}
	return out
}

// broadcastClientList sends the current roster to all authorized apps.
// A non-empty requestID stamps the update as the reply to one app's
// explicit RequestClientList.
func (s *Service) broadcastClientList(requestID string) {
	msg := &wire.ClientListUpdateMessage{
		Envelope:  wire.NewEnvelope(wire.TypeClientListUpdate, version.Current),
		RequestID: requestID,
		Clients:   s.buildClientList(),
	}
	data, err := wire.Encode(msg)
	if err != nil {
		s.logger.Error("encode client list", "err", err)
		return
	}
	for _, app := range s.apps.Authorized() {
		if err := app.Session.SendText(data); err != nil {
			s.logger.Debug("client list send failed", "conn", app.Session.ID(), "err", err)
		}
	}
}

// broadcastStatusChanged notifies all authorized apps that one device
// changed state.
func (s *Service) broadcastStatusChanged(deviceID, status string, online bool) {
	msg := &wire.ClientStatusChangedMessage{
		Envelope: wire.NewEnvelope(wire.TypeClientStatusChanged, version.Current),
		DeviceID: deviceID,
		Status:   status,
		Online:   online,
	}
	data, err := wire.Encode(msg)
	if err != nil {
		s.logger.Error("encode status change", "err", err)
		return
	}
	for _, app := range s.apps.Authorized() {
		if err := app.Session.SendText(data); err != nil {
			s.logger.Debug("status change send failed", "conn", app.Session.ID(), "err", err)
		}
	}
}
