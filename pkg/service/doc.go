// Package service implements the fleet coordination layer on top of the
// transport package: it classifies incoming connections into display
// devices and mobile apps, dispatches decoded wire messages to typed
// handlers, relays app-issued requests to target devices, and fans
// device state out to authorized apps.
package service
