package discovery

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// TXT record keys for the advertised endpoint.
const (
	// TXTKeyVersion carries the protocol version the coordinator speaks.
	TXTKeyVersion = "version"

	// TXTKeyFingerprint carries the SHA-256 fingerprint of the server
	// certificate, hex encoded.
	TXTKeyFingerprint = "fp"

	// TXTKeyName carries the operator-facing coordinator name (optional).
	TXTKeyName = "name"
)

// TXT record errors.
var (
	// ErrMissingRequired indicates a required TXT record key is absent.
	ErrMissingRequired = errors.New("missing required TXT record")
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeEndpointTXT creates TXT records for an advertised endpoint.
func EncodeEndpointTXT(info *Info) TXTRecordMap {
	txt := make(TXTRecordMap)

	txt[TXTKeyVersion] = info.Version
	txt[TXTKeyFingerprint] = info.Fingerprint

	if info.Name != "" {
		txt[TXTKeyName] = info.Name
	}

	return txt
}

// DecodeEndpointTXT parses endpoint TXT records. Unknown keys are ignored
// so newer coordinators can add records without breaking older displays.
func DecodeEndpointTXT(txt TXTRecordMap) (*Info, error) {
	info := &Info{}

	var ok bool
	info.Version, ok = txt[TXTKeyVersion]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyVersion)
	}

	info.Fingerprint, ok = txt[TXTKeyFingerprint]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyFingerprint)
	}

	info.Name = txt[TXTKeyName]

	return info, nil
}

// TXTRecordsToStrings converts a TXT record map to the "key=value" string
// slice form mDNS libraries expect, in deterministic key order.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	keys := make([]string, 0, len(txt))
	for key := range txt {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	records := make([]string, 0, len(keys))
	for _, key := range keys {
		records = append(records, key+"="+txt[key])
	}
	return records
}

// StringsToTXTRecords parses "key=value" strings into a TXT record map.
// Entries without "=" are ignored.
func StringsToTXTRecords(records []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, record := range records {
		key, value, found := strings.Cut(record, "=")
		if !found || key == "" {
			continue
		}
		txt[key] = value
	}
	return txt
}
