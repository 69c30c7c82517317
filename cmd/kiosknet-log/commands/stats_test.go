package commands

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/kiosknet-protocol/kiosknet-go/pkg/log"
)

func TestStatsCountsByLayer(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	events := []log.Event{
		{Timestamp: ts, Layer: log.LayerTransport, Category: log.CategoryMessage},
		{Timestamp: ts, Layer: log.LayerTransport, Category: log.CategoryMessage},
		{Timestamp: ts, Layer: log.LayerWire, Category: log.CategoryMessage},
		{Timestamp: ts, Layer: log.LayerService, Category: log.CategoryMessage},
	}

	path := createTestLogFile(t, events)

	var buf bytes.Buffer
	err := RunStats(path, &buf)
	if err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}

	output := buf.String()

	if !strings.Contains(output, "Total Events: 4") {
		t.Errorf("expected total count, got: %s", output)
	}
	if !strings.Contains(output, "TRANSPORT:") {
		t.Error("expected TRANSPORT layer in output")
	}
	if !strings.Contains(output, "WIRE:") {
		t.Error("expected WIRE layer in output")
	}
	if !strings.Contains(output, "SERVICE:") {
		t.Error("expected SERVICE layer in output")
	}
}

func TestStatsCountsByCategory(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	events := []log.Event{
		{Timestamp: ts, Category: log.CategoryMessage},
		{Timestamp: ts, Category: log.CategoryControl},
		{Timestamp: ts, Category: log.CategoryState},
		{Timestamp: ts, Category: log.CategoryError, Error: &log.ErrorEventData{Message: "test"}},
	}

	path := createTestLogFile(t, events)

	var buf bytes.Buffer
	err := RunStats(path, &buf)
	if err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}

	output := buf.String()

	if !strings.Contains(output, "MESSAGE:") {
		t.Error("expected MESSAGE category in output")
	}
	if !strings.Contains(output, "CONTROL:") {
		t.Error("expected CONTROL category in output")
	}
	if !strings.Contains(output, "STATE:") {
		t.Error("expected STATE category in output")
	}
	if !strings.Contains(output, "ERROR:") {
		t.Error("expected ERROR category in output")
	}
	if !strings.Contains(output, "Errors: 1") {
		t.Errorf("expected error count, got: %s", output)
	}
}

func TestStatsCountsConnections(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	events := []log.Event{
		{Timestamp: ts, ConnectionID: "conn-aaaa-bbbb", Category: log.CategoryMessage,
			Peer: log.PeerDevice, DeviceID: "lobby-display-1"},
		{Timestamp: ts.Add(time.Second), ConnectionID: "conn-aaaa-bbbb", Category: log.CategoryMessage},
		{Timestamp: ts, ConnectionID: "conn-cccc-dddd", Category: log.CategoryMessage,
			Peer: log.PeerApp, AppID: "ops-console"},
	}

	path := createTestLogFile(t, events)

	var buf bytes.Buffer
	err := RunStats(path, &buf)
	if err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}

	output := buf.String()

	if !strings.Contains(output, "Connections: 2") {
		t.Errorf("expected 2 connections, got: %s", output)
	}
	if !strings.Contains(output, "Device: lobby-display-1") {
		t.Errorf("expected device ID, got: %s", output)
	}
	if !strings.Contains(output, "App: ops-console") {
		t.Errorf("expected app ID, got: %s", output)
	}
	if !strings.Contains(output, "DEVICE") {
		t.Errorf("expected peer kind, got: %s", output)
	}
}

func TestStatsCountsMessageTypes(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	events := []log.Event{
		{Timestamp: ts, Category: log.CategoryMessage, Message: &log.MessageEvent{Type: "heartbeat"}},
		{Timestamp: ts, Category: log.CategoryMessage, Message: &log.MessageEvent{Type: "heartbeat"}},
		{Timestamp: ts, Category: log.CategoryMessage, Message: &log.MessageEvent{Type: "statusUpdate"}},
	}

	path := createTestLogFile(t, events)

	var buf bytes.Buffer
	err := RunStats(path, &buf)
	if err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}

	output := buf.String()

	if !strings.Contains(output, "heartbeat:") {
		t.Errorf("expected heartbeat type count, got: %s", output)
	}
	if !strings.Contains(output, "statusUpdate:") {
		t.Errorf("expected statusUpdate type count, got: %s", output)
	}

	// Most frequent type listed first
	hbIdx := strings.Index(output, "heartbeat:")
	suIdx := strings.Index(output, "statusUpdate:")
	if hbIdx > suIdx {
		t.Errorf("expected heartbeat before statusUpdate, got: %s", output)
	}
}

func TestStatsTimeRange(t *testing.T) {
	start := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	end := start.Add(5 * time.Minute)
	events := []log.Event{
		{Timestamp: start, Category: log.CategoryMessage},
		{Timestamp: end, Category: log.CategoryMessage},
	}

	path := createTestLogFile(t, events)

	var buf bytes.Buffer
	err := RunStats(path, &buf)
	if err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}

	output := buf.String()

	if !strings.Contains(output, "Duration:   5m0s") {
		t.Errorf("expected 5 minute duration, got: %s", output)
	}
}

func TestStatsEmptyFile(t *testing.T) {
	path := createTestLogFile(t, nil)

	var buf bytes.Buffer
	err := RunStats(path, &buf)
	if err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}

	if !strings.Contains(buf.String(), "Total Events: 0") {
		t.Errorf("expected zero total, got: %s", buf.String())
	}
}
