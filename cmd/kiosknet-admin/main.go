// kiosknet-admin is an interactive operator console for a KioskNet
// coordinator. It connects over the same app protocol the mobile
// companion apps use, so everything it does exercises the real fleet
// surface: roster listing, device commands, layout assignment, and
// screenshot capture.
//
// Usage:
//
//	kiosknet-admin [flags]
//
// Flags:
//
//	-server string
//		coordinator address as host:port (default "127.0.0.1:9443")
//	-app-id string
//		app identity to register as (default derived from hostname)
//	-token string
//		bearer token from a previous authorization
//	-insecure
//		skip TLS certificate verification (default true; coordinators
//		typically run with self-signed certificates)
//	-timeout duration
//		connection timeout (default 10s)
//
// Examples:
//
//	kiosknet-admin -server 192.168.1.50:9443
//	kiosknet-admin -server kiosk-hub.local:9443 -app-id ops-console -token $KIOSKNET_TOKEN
//
// On first connect the coordinator may defer the registration until an
// operator authorizes the app ID (or lists it in auth.authorizedApps).
// The console waits for the approval and prints the issued token so it
// can be passed with -token on later runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var flags struct {
	server   string
	appID    string
	token    string
	insecure bool
	timeout  time.Duration
}

func init() {
	flag.StringVar(&flags.server, "server", "127.0.0.1:9443", "coordinator address as host:port")
	flag.StringVar(&flags.appID, "app-id", "", "app identity to register as")
	flag.StringVar(&flags.token, "token", "", "bearer token from a previous authorization")
	flag.BoolVar(&flags.insecure, "insecure", true, "skip TLS certificate verification")
	flag.DurationVar(&flags.timeout, "timeout", 10*time.Second, "connection timeout")
}

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "kiosknet-admin: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	appID := flags.appID
	if appID == "" {
		appID = defaultAppID()
	}

	rl, err := newReadline()
	if err != nil {
		return err
	}
	defer rl.Close()

	dialCtx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	conn, err := dialFleet(dialCtx, flags.server, flags.insecure)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", flags.server, err)
	}

	client := newFleetClient(conn, appID, rl.Stdout())
	defer client.Close()

	fmt.Fprintf(rl.Stdout(), "connected to %s as %s\n", flags.server, appID)

	state, err := client.Register(flags.token)
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}
	if state.Pending {
		reason := state.Reason
		if reason == "" {
			reason = "waiting for operator approval"
		}
		fmt.Fprintf(rl.Stdout(), "authorization pending: %s\n", reason)
		fmt.Fprintf(rl.Stdout(), "approve app %q on the coordinator to continue (^C to abort)\n", appID)

		waitCtx, stopWait := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		state, err = client.WaitAuthorized(waitCtx)
		stopWait()
		if err != nil {
			return fmt.Errorf("authorization not granted: %w", err)
		}
	}
	if state.Token != "" && state.Token != flags.token {
		fmt.Fprintf(rl.Stdout(), "authorized; token for future sessions: %s\n", state.Token)
	}

	console := newConsole(client, rl)
	console.Run()
	return nil
}

// defaultAppID derives a stable identity from the hostname so a given
// operator machine only needs to be authorized once.
func defaultAppID() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "kiosknet-admin"
	}
	return "kiosknet-admin-" + hostname
}
