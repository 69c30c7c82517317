package service

import (
	"encoding/json"

	"github.com/kiosknet-protocol/kiosknet-go/pkg/version"
	"github.com/kiosknet-protocol/kiosknet-go/pkg/wire"
)

// Server-initiated fleet operations. These are the push paths used by
// embedding applications (schedulers, content pipelines) rather than by
// a connected mobile app.

// PushDisplayUpdate instructs a device to refresh its display content.
func (s *Service) PushDisplayUpdate(deviceID, layoutID string, content json.RawMessage) error {
	entry, err := s.devices.Resolve(deviceID)
	if err != nil {
		return ErrDeviceOffline
	}
	s.sendTo(entry.Session, &wire.DisplayUpdateMessage{
		Envelope: wire.NewEnvelope(wire.TypeDisplayUpdate, version.Current),
		LayoutID: layoutID,
		Content:  content,
	})
	return nil
}

// PushConfig sends new configuration values to a device. The device
// acknowledges with UpdateConfigResponse.
func (s *Service) PushConfig(deviceID string, cfg wire.UpdateConfigMessage) error {
	entry, err := s.devices.Resolve(deviceID)
	if err != nil {
		return ErrDeviceOffline
	}
	cfg.Envelope = wire.NewEnvelope(wire.TypeUpdateConfig, version.Current)
	s.sendTo(entry.Session, &cfg)
	return nil
}

// PushData sends refreshed data-source content to a device.
func (s *Service) PushData(deviceID, source string, payload json.RawMessage) error {
	entry, err := s.devices.Resolve(deviceID)
	if err != nil {
		return ErrDeviceOffline
	}
	s.sendTo(entry.Session, &wire.DataUpdateMessage{
		Envelope: wire.NewEnvelope(wire.TypeDataUpdate, version.Current),
		Source:   source,
		Payload:  payload,
	})
	return nil
}

// PushDataAll sends refreshed data-source content to every registered
// device.
func (s *Service) PushDataAll(source string, payload json.RawMessage) int {
	msg := &wire.DataUpdateMessage{
		Envelope: wire.NewEnvelope(wire.TypeDataUpdate, version.Current),
		Source:   source,
		Payload:  payload,
	}
	data, err := wire.Encode(msg)
	if err != nil {
		s.logger.Error("encode data update", "err", err)
		return 0
	}
	sent := 0
	for _, entry := range s.devices.Registered() {
		if entry.Session.SendText(data) == nil {
			sent++
		}
	}
	return sent
}
