// Package wire defines the KioskNet message envelope and its JSON codec.
//
// Every message is a JSON object carrying a "type" discriminator, an
// optional "version" field, and type-specific payload fields:
//
//	{"type": "Register", "version": "1.2.0", "deviceId": "lobby-01", ...}
//
// The discriminator is case-insensitive on the wire and normalized to a
// canonical form at decode time. Unknown types are not an error: they are
// surfaced to the caller for fallback routing so newer clients degrade
// gracefully against older servers.
package wire
