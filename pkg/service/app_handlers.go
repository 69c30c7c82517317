package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/kiosknet-protocol/kiosknet-go/pkg/registry"
	"github.com/kiosknet-protocol/kiosknet-go/pkg/version"
	"github.com/kiosknet-protocol/kiosknet-go/pkg/wire"
)

// appRegisterHandler classifies a connection as a mobile app. The
// provisional device-registry entry is dropped and the connection moves
// to the app registry; a valid bearer token authorizes immediately,
// otherwise the app waits for operator approval.
type appRegisterHandler struct {
	svc *Service
}

func (h *appRegisterHandler) MessageType() string { return wire.TypeAppRegister }

func (h *appRegisterHandler) Handle(ctx context.Context, env *wire.Header, raw []byte, connID string) error {
	var msg wire.AppRegisterMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("decode app register: %w", err)
	}

	entry, err := h.svc.devices.ByConn(connID)
	if err != nil {
		return fmt.Errorf("app register from untracked conn %s", connID)
	}
	if entry.Registered() {
		// A registered display cannot re-identify as an app.
		h.svc.sendTo(entry.Session, &wire.AppRejectedMessage{
			Envelope: wire.NewEnvelope(wire.TypeAppRejected, version.Current),
			Reason:   "connection already registered as a device",
		})
		return nil
	}

	if msg.AppID == "" {
		h.svc.sendTo(entry.Session, &wire.AppRejectedMessage{
			Envelope: wire.NewEnvelope(wire.TypeAppRejected, version.Current),
			Reason:   "appId required",
		})
		return nil
	}

	// Classification: leave the device registry, enter the app registry.
	if _, err := h.svc.devices.RemoveByConn(connID); err != nil {
		return fmt.Errorf("declassify conn %s: %w", connID, err)
	}
	appEntry := h.svc.apps.Add(entry.Session, msg.AppID, msg.Name, msg.Platform)
	h.svc.emitEvent(Event{Type: EventAppConnected, ConnID: connID, AppID: msg.AppID})

	if h.svc.minter.Verify(msg.AppID, msg.Token) || h.svc.config.AutoAuthorizeApps {
		return h.svc.AuthorizeApp(msg.AppID)
	}

	h.svc.sendTo(appEntry.Session, &wire.AppAuthorizationRequiredMessage{
		Envelope: wire.NewEnvelope(wire.TypeAppAuthorizationRequired, version.Current),
		Reason:   "operator approval required",
	})
	return nil
}

// appHeartbeatHandler refreshes app liveness.
type appHeartbeatHandler struct {
	svc *Service
}

func (h *appHeartbeatHandler) MessageType() string { return wire.TypeAppHeartbeat }

func (h *appHeartbeatHandler) Handle(ctx context.Context, env *wire.Header, raw []byte, connID string) error {
	return h.svc.apps.Touch(connID)
}

// requireAuthorizedApp resolves the app behind connID and ensures it
// holds a token, sending an error envelope otherwise.
func (s *Service) requireAuthorizedApp(connID string) (*registry.AppEntry, error) {
	entry, err := s.apps.ByConn(connID)
	if err != nil {
		return nil, fmt.Errorf("%w: conn %s is not an app", ErrUnauthorized, connID)
	}
	if !entry.Authorized() {
		s.sendTo(entry.Session, &wire.ErrorMessage{
			Envelope: wire.NewEnvelope(wire.TypeError, version.Current),
			Code:     wire.ErrorCodeUnauthorized,
			Message:  "authorization required",
		})
		return nil, fmt.Errorf("%w: app %s", ErrUnauthorized, entry.AppID)
	}
	return entry, nil
}

// requestClientListHandler replies with the current fleet roster.
type requestClientListHandler struct {
	svc *Service
}

func (h *requestClientListHandler) MessageType() string { return wire.TypeRequestClientList }

func (h *requestClientListHandler) Handle(ctx context.Context, env *wire.Header, raw []byte, connID string) error {
	var msg wire.RequestClientListMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("decode client list request: %w", err)
	}

	app, err := h.svc.requireAuthorizedApp(connID)
	if err != nil {
		return err
	}

	h.svc.sendTo(app.Session, &wire.ClientListUpdateMessage{
		Envelope:  wire.NewEnvelope(wire.TypeClientListUpdate, version.Current),
		RequestID: msg.RequestID,
		Clients:   h.svc.buildClientList(),
	})
	return nil
}

// sendCommandHandler relays a command to the target device and tracks
// the request so the device's result can be routed back.
type sendCommandHandler struct {
	svc *Service
}

func (h *sendCommandHandler) MessageType() string { return wire.TypeSendCommand }

func (h *sendCommandHandler) Handle(ctx context.Context, env *wire.Header, raw []byte, connID string) error {
	var msg wire.SendCommandMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("decode send command: %w", err)
	}

	app, err := h.svc.requireAuthorizedApp(connID)
	if err != nil {
		return err
	}

	requestID := msg.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	device, err := h.svc.devices.Resolve(msg.TargetID)
	if err != nil {
		h.svc.sendTo(app.Session, &wire.CommandResultMessage{
			Envelope:  wire.NewEnvelope(wire.TypeCommandResult, version.Current),
			RequestID: requestID,
			TargetID:  msg.TargetID,
			Success:   false,
			Error:     ErrDeviceOffline.Error(),
		})
		return nil
	}

	h.svc.requests.Add(requestID, connID, msg.TargetID, requestCommand)
	h.svc.sendTo(device.Session, &wire.CommandMessage{
		Envelope:  wire.NewEnvelope(wire.TypeCommand, version.Current),
		RequestID: requestID,
		Name:      msg.Name,
		Args:      msg.Args,
	})
	return nil
}

// assignLayoutHandler pushes a layout assignment to the target device.
type assignLayoutHandler struct {
	svc *Service
}

func (h *assignLayoutHandler) MessageType() string { return wire.TypeAssignLayout }

func (h *assignLayoutHandler) Handle(ctx context.Context, env *wire.Header, raw []byte, connID string) error {
	var msg wire.AssignLayoutMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("decode assign layout: %w", err)
	}

	app, err := h.svc.requireAuthorizedApp(connID)
	if err != nil {
		return err
	}

	result := &wire.CommandResultMessage{
		Envelope:  wire.NewEnvelope(wire.TypeCommandResult, version.Current),
		RequestID: msg.RequestID,
		TargetID:  msg.TargetID,
	}

	layout, err := h.svc.layouts.Resolve(msg.LayoutID)
	if err != nil {
		result.Error = err.Error()
		h.svc.sendTo(app.Session, result)
		return nil
	}

	device, err := h.svc.devices.Resolve(msg.TargetID)
	if err != nil {
		result.Error = ErrDeviceOffline.Error()
		h.svc.sendTo(app.Session, result)
		return nil
	}

	h.svc.sendTo(device.Session, &wire.LayoutAssignedMessage{
		Envelope:   wire.NewEnvelope(wire.TypeLayoutAssigned, version.Current),
		LayoutID:   layout.ID,
		LayoutName: layout.Name,
	})
	_ = h.svc.devices.UpdateStatus(msg.TargetID, device.Status, layout.ID)

	result.Success = true
	h.svc.sendTo(app.Session, result)
	return nil
}

// requestScreenshotHandler asks the target device for a screen capture.
// The device answers with a Screenshot message carrying the request ID.
type requestScreenshotHandler struct {
	svc *Service
}

func (h *requestScreenshotHandler) MessageType() string { return wire.TypeRequestScreenshot }

func (h *requestScreenshotHandler) Handle(ctx context.Context, env *wire.Header, raw []byte, connID string) error {
	var msg wire.RequestScreenshotMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("decode screenshot request: %w", err)
	}

	app, err := h.svc.requireAuthorizedApp(connID)
	if err != nil {
		return err
	}

	requestID := msg.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	device, err := h.svc.devices.Resolve(msg.TargetID)
	if err != nil {
		h.svc.sendTo(app.Session, &wire.ScreenshotResponseMessage{
			Envelope:  wire.NewEnvelope(wire.TypeScreenshotResponse, version.Current),
			RequestID: requestID,
			DeviceID:  msg.TargetID,
			Error:     ErrDeviceOffline.Error(),
		})
		return nil
	}

	h.svc.requests.Add(requestID, connID, msg.TargetID, requestScreenshot)
	h.svc.sendTo(device.Session, &wire.CommandMessage{
		Envelope:  wire.NewEnvelope(wire.TypeCommand, version.Current),
		RequestID: requestID,
		Name:      "screenshot",
	})
	return nil
}

// requestLayoutListHandler replies with the layout catalogue.
type requestLayoutListHandler struct {
	svc *Service
}

func (h *requestLayoutListHandler) MessageType() string { return wire.TypeRequestLayoutList }

func (h *requestLayoutListHandler) Handle(ctx context.Context, env *wire.Header, raw []byte, connID string) error {
	var msg wire.RequestLayoutListMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("decode layout list request: %w", err)
	}

	app, err := h.svc.requireAuthorizedApp(connID)
	if err != nil {
		return err
	}

	h.svc.sendTo(app.Session, &wire.LayoutListResponseMessage{
		Envelope:  wire.NewEnvelope(wire.TypeLayoutListResponse, version.Current),
		RequestID: msg.RequestID,
		Layouts:   h.svc.layouts.Layouts(),
	})
	return nil
}
