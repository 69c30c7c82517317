package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kiosknet-protocol/kiosknet-go/pkg/version"
	"github.com/kiosknet-protocol/kiosknet-go/pkg/wire"
)

// registerHandler completes device registration. Validation runs
// against the provisional registry entry; only an accepted
// registration rekeys the entry to the stable device ID, so a
// rejected attempt can never claim or evict an enrolled device.
type registerHandler struct {
	svc *Service
}

func (h *registerHandler) MessageType() string { return wire.TypeRegister }

func (h *registerHandler) Handle(ctx context.Context, env *wire.Header, raw []byte, connID string) error {
	var msg wire.RegisterMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("decode register: %w", err)
	}

	entry, err := h.svc.devices.ByConn(connID)
	if err != nil {
		return fmt.Errorf("register from untracked conn %s", connID)
	}

	reject := func(reason string) error {
		h.svc.sendTo(entry.Session, &wire.RegistrationResponse{
			Envelope:   wire.NewEnvelope(wire.TypeRegistrationResponse, version.Current),
			Accepted:   false,
			DeviceID:   msg.DeviceID,
			Reason:     reason,
			ServerTime: time.Now().UTC(),
		})
		return nil
	}

	if msg.DeviceID == "" {
		return reject("deviceId required")
	}
	if h.svc.config.EnrollmentToken != "" && msg.EnrollmentToken != h.svc.config.EnrollmentToken {
		return reject("invalid enrollment token")
	}

	entry, err = h.svc.devices.Rekey(connID, msg.DeviceID)
	if err != nil {
		return fmt.Errorf("claim device id %s: %w", msg.DeviceID, err)
	}
	if err := h.svc.devices.UpdateInfo(msg.DeviceID, msg.Name, msg.Model, msg.Firmware); err != nil {
		return fmt.Errorf("record device info: %w", err)
	}

	h.svc.sendTo(entry.Session, &wire.RegistrationResponse{
		Envelope:   wire.NewEnvelope(wire.TypeRegistrationResponse, version.Current),
		Accepted:   true,
		DeviceID:   msg.DeviceID,
		ServerTime: time.Now().UTC(),
	})

	h.svc.broadcastStatusChanged(msg.DeviceID, "", true)
	h.svc.broadcastClientList("")
	return nil
}

// heartbeatHandler refreshes device liveness.
type heartbeatHandler struct {
	svc *Service
}

func (h *heartbeatHandler) MessageType() string { return wire.TypeHeartbeat }

func (h *heartbeatHandler) Handle(ctx context.Context, env *wire.Header, raw []byte, connID string) error {
	entry, err := h.svc.devices.ByConn(connID)
	if err != nil {
		return fmt.Errorf("heartbeat from untracked conn %s", connID)
	}
	if !entry.Registered() {
		return fmt.Errorf("heartbeat before registration on conn %s", connID)
	}
	return h.svc.devices.Touch(entry.DeviceID)
}

// statusReportHandler records device playback state and fans it out.
type statusReportHandler struct {
	svc *Service
}

func (h *statusReportHandler) MessageType() string { return wire.TypeStatusReport }

func (h *statusReportHandler) Handle(ctx context.Context, env *wire.Header, raw []byte, connID string) error {
	var msg wire.StatusReportMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("decode status report: %w", err)
	}

	entry, err := h.svc.devices.ByConn(connID)
	if err != nil || !entry.Registered() {
		return fmt.Errorf("status report before registration on conn %s", connID)
	}

	if err := h.svc.devices.UpdateStatus(entry.DeviceID, msg.Status, msg.CurrentLayout); err != nil {
		return err
	}

	h.svc.emitEvent(Event{Type: EventDeviceStatus, ConnID: connID, DeviceID: entry.DeviceID})
	h.svc.broadcastStatusChanged(entry.DeviceID, msg.Status, true)
	return nil
}

// screenshotHandler relays a captured screenshot back to the app whose
// request it answers, or to all authorized apps if unsolicited.
type screenshotHandler struct {
	svc *Service
}

func (h *screenshotHandler) MessageType() string { return wire.TypeScreenshot }

func (h *screenshotHandler) Handle(ctx context.Context, env *wire.Header, raw []byte, connID string) error {
	var msg wire.ScreenshotMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("decode screenshot: %w", err)
	}

	entry, err := h.svc.devices.ByConn(connID)
	if err != nil || !entry.Registered() {
		return fmt.Errorf("screenshot before registration on conn %s", connID)
	}

	response := &wire.ScreenshotResponseMessage{
		Envelope:  wire.NewEnvelope(wire.TypeScreenshotResponse, version.Current),
		RequestID: msg.RequestID,
		DeviceID:  entry.DeviceID,
		Format:    msg.Format,
		ImageData: msg.ImageData,
	}

	if msg.RequestID != "" {
		if req, ok := h.svc.requests.Take(msg.RequestID); ok {
			if app, err := h.svc.apps.ByConn(req.AppConnID); err == nil {
				h.svc.sendTo(app.Session, response)
			}
			return nil
		}
	}

	// Unsolicited capture: deliver to every authorized app.
	data, err := wire.Encode(response)
	if err != nil {
		return err
	}
	for _, app := range h.svc.apps.Authorized() {
		_ = app.Session.SendText(data)
	}
	return nil
}

// commandResultHandler routes a device's command outcome back to the
// app that issued the command.
type commandResultHandler struct {
	svc *Service
}

func (h *commandResultHandler) MessageType() string { return wire.TypeCommandResult }

func (h *commandResultHandler) Handle(ctx context.Context, env *wire.Header, raw []byte, connID string) error {
	var msg wire.CommandResultMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("decode command result: %w", err)
	}

	entry, err := h.svc.devices.ByConn(connID)
	if err != nil || !entry.Registered() {
		return fmt.Errorf("command result before registration on conn %s", connID)
	}

	req, ok := h.svc.requests.Take(msg.RequestID)
	if !ok {
		h.svc.logger.Debug("command result for unknown request", "device", entry.DeviceID, "request", msg.RequestID)
		return nil
	}

	app, err := h.svc.apps.ByConn(req.AppConnID)
	if err != nil {
		return nil // requesting app is gone
	}
	h.svc.sendTo(app.Session, &wire.CommandResultMessage{
		Envelope:  wire.NewEnvelope(wire.TypeCommandResult, version.Current),
		RequestID: msg.RequestID,
		TargetID:  entry.DeviceID,
		Success:   msg.Success,
		Output:    msg.Output,
		Error:     msg.Error,
	})
	return nil
}

// deviceLogHandler forwards device-side log records into the server log.
type deviceLogHandler struct {
	svc *Service
}

func (h *deviceLogHandler) MessageType() string { return wire.TypeLog }

func (h *deviceLogHandler) Handle(ctx context.Context, env *wire.Header, raw []byte, connID string) error {
	var msg wire.LogMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("decode log: %w", err)
	}

	entry, err := h.svc.devices.ByConn(connID)
	if err != nil || !entry.Registered() {
		return fmt.Errorf("log before registration on conn %s", connID)
	}

	switch msg.Level {
	case "error":
		h.svc.logger.Error("device log", "device", entry.DeviceID, "msg", msg.Message)
	case "warn":
		h.svc.logger.Warn("device log", "device", entry.DeviceID, "msg", msg.Message)
	default:
		h.svc.logger.Info("device log", "device", entry.DeviceID, "level", msg.Level, "msg", msg.Message)
	}
	return nil
}

// updateConfigResponseHandler records the outcome of a config push.
type updateConfigResponseHandler struct {
	svc *Service
}

func (h *updateConfigResponseHandler) MessageType() string { return wire.TypeUpdateConfigResponse }

func (h *updateConfigResponseHandler) Handle(ctx context.Context, env *wire.Header, raw []byte, connID string) error {
	var msg wire.UpdateConfigResponseMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("decode config response: %w", err)
	}

	entry, err := h.svc.devices.ByConn(connID)
	if err != nil || !entry.Registered() {
		return fmt.Errorf("config response before registration on conn %s", connID)
	}

	if !msg.Applied {
		h.svc.logger.Warn("device rejected config", "device", entry.DeviceID, "err", msg.Error)
	} else {
		h.svc.logger.Debug("device applied config", "device", entry.DeviceID)
	}
	return nil
}
