// Package log provides structured protocol event logging for the KioskNet
// server. Events are captured at the transport, wire, and service layers and
// can be written to the console (SlogAdapter), to a CBOR event file
// (FileLogger), or both (MultiLogger). The Reader streams captured events
// back for offline inspection, e.g. by the kiosknet-log command.
package log
