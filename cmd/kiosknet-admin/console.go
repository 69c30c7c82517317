package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/chzyer/readline"
)

// console is the interactive operator shell. All fleet traffic goes
// through the fleetClient; the console only parses commands and formats
// output.
type console struct {
	client *fleetClient
	rl     *readline.Instance
}

// newReadline is created before the client so that asynchronous
// notifications can be routed through readline from the start. Writing
// through readline keeps broadcasts from mangling the prompt line.
func newReadline() (*readline.Instance, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "kiosknet> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize console: %w", err)
	}
	return rl, nil
}

func newConsole(client *fleetClient, rl *readline.Instance) *console {
	return &console{client: client, rl: rl}
}

// Run reads and dispatches commands until exit or connection loss.
func (c *console) Run() {
	c.printHelp()

	for {
		select {
		case <-c.client.Done():
			fmt.Fprintln(c.rl.Stderr(), "connection to coordinator lost")
			return
		default:
		}

		line, err := c.rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err == io.EOF {
			return
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "help", "?":
			c.printHelp()
		case "list", "ls":
			c.cmdList()
		case "layouts":
			c.cmdLayouts()
		case "command", "cmd":
			c.cmdCommand(fields[1:])
		case "assign":
			c.cmdAssign(fields[1:])
		case "screenshot", "ss":
			c.cmdScreenshot(fields[1:])
		case "status":
			c.cmdStatus()
		case "quit", "exit":
			return
		default:
			fmt.Fprintf(c.rl.Stderr(), "unknown command %q, try 'help'\n", fields[0])
		}
	}
}

func (c *console) printHelp() {
	fmt.Fprintln(c.rl.Stdout(), `Commands:
  list                              show the fleet roster
  layouts                           show available layouts
  command <device> <name> [k=v...]  send a command to a device
  assign <device> <layout>          assign a layout to a device
  screenshot <device> [file]        capture a device's screen
  status                            show connection status
  help                              show this help
  quit                              exit`)
}

func (c *console) cmdList() {
	clients, err := c.client.ClientList()
	if err != nil {
		fmt.Fprintf(c.rl.Stderr(), "list failed: %v\n", err)
		return
	}
	if len(clients) == 0 {
		fmt.Fprintln(c.rl.Stdout(), "no devices registered")
		return
	}

	sort.Slice(clients, func(i, j int) bool { return clients[i].DeviceID < clients[j].DeviceID })
	w := c.rl.Stdout()
	fmt.Fprintf(w, "%-28s %-20s %-8s %-12s %s\n", "DEVICE", "NAME", "ONLINE", "STATUS", "LAST SEEN")
	for _, info := range clients {
		lastSeen := "-"
		if !info.LastSeen.IsZero() {
			lastSeen = info.LastSeen.Local().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%-28s %-20s %-8v %-12s %s\n",
			info.DeviceID, info.Name, info.Online, info.Status, lastSeen)
	}
}

func (c *console) cmdLayouts() {
	layouts, err := c.client.Layouts()
	if err != nil {
		fmt.Fprintf(c.rl.Stderr(), "layouts failed: %v\n", err)
		return
	}
	if len(layouts) == 0 {
		fmt.Fprintln(c.rl.Stdout(), "no layouts configured")
		return
	}
	for _, layout := range layouts {
		fmt.Fprintf(c.rl.Stdout(), "%-24s %s\n", layout.ID, layout.Name)
	}
}

func (c *console) cmdCommand(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.rl.Stderr(), "usage: command <device> <name> [key=value ...]")
		return
	}
	deviceID, name := args[0], args[1]

	cmdArgs := make(map[string]string)
	for _, arg := range args[2:] {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			fmt.Fprintf(c.rl.Stderr(), "invalid argument %q, expected key=value\n", arg)
			return
		}
		cmdArgs[key] = value
	}

	result, err := c.client.SendCommand(deviceID, name, cmdArgs)
	if err != nil {
		fmt.Fprintf(c.rl.Stderr(), "command failed: %v\n", err)
		return
	}
	c.printResult(result.Success, result.Output, result.Error)
}

func (c *console) cmdAssign(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(c.rl.Stderr(), "usage: assign <device> <layout>")
		return
	}
	result, err := c.client.AssignLayout(args[0], args[1])
	if err != nil {
		fmt.Fprintf(c.rl.Stderr(), "assign failed: %v\n", err)
		return
	}
	c.printResult(result.Success, result.Output, result.Error)
}

func (c *console) cmdScreenshot(args []string) {
	if len(args) < 1 || len(args) > 2 {
		fmt.Fprintln(c.rl.Stderr(), "usage: screenshot <device> [file]")
		return
	}
	deviceID := args[0]

	fmt.Fprintf(c.rl.Stdout(), "requesting screenshot from %s...\n", deviceID)
	resp, err := c.client.Screenshot(deviceID)
	if err != nil {
		fmt.Fprintf(c.rl.Stderr(), "screenshot failed: %v\n", err)
		return
	}
	if resp.Error != "" {
		fmt.Fprintf(c.rl.Stderr(), "device reported: %s\n", resp.Error)
		return
	}

	filename := fmt.Sprintf("%s-%s.%s", deviceID,
		time.Now().Format("20060102-150405"), screenshotExtension(resp.Format))
	if len(args) == 2 {
		filename = args[1]
	}
	if err := os.WriteFile(filename, resp.ImageData, 0o644); err != nil {
		fmt.Fprintf(c.rl.Stderr(), "failed to save screenshot: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "saved %d bytes to %s\n", len(resp.ImageData), filename)
}

func (c *console) cmdStatus() {
	w := c.rl.Stdout()
	fmt.Fprintf(w, "App ID:     %s\n", c.client.appID)
	fmt.Fprintf(w, "Authorized: %v\n", c.client.Authorized())
	if token := c.client.Token(); token != "" {
		fmt.Fprintf(w, "Token:      %s\n", token)
	}
}

func (c *console) printResult(success bool, output, errMsg string) {
	if success {
		if output != "" {
			fmt.Fprintln(c.rl.Stdout(), output)
		} else {
			fmt.Fprintln(c.rl.Stdout(), "ok")
		}
		return
	}
	if errMsg == "" {
		errMsg = "device reported failure"
	}
	fmt.Fprintf(c.rl.Stderr(), "failed: %s\n", errMsg)
}

func screenshotExtension(format string) string {
	switch strings.ToLower(format) {
	case "jpeg", "jpg":
		return "jpg"
	default:
		return "png"
	}
}
