// Package registry tracks live connections for the two peer populations
// of a fleet server: display devices and companion mobile apps.
//
// Devices enter the registry under their provisional connection ID and are
// rekeyed to their stable device ID once they register. Apps are indexed
// three ways (by connection, by app ID, and by pending-authorization state)
// and all three indexes are updated under one lock so a removal is atomic.
package registry
