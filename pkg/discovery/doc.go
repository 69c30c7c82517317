// Package discovery advertises a running coordinator on the local network
// via mDNS (DNS-SD) so unattended displays can locate it without static
// configuration. The service is published as "_kiosknet._tcp" with TXT
// records carrying the protocol version and the fingerprint of the server
// certificate, which displays use to verify they reached the coordinator
// they were enrolled against.
package discovery
