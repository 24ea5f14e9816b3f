// Command gcode-host is an interactive console that loads a machine
// configuration and drives the motion core over stdin, the host-side
// analog of gopper-host now that there is no MCU dictionary to retrieve:
// the console talks G-code straight to a standalone.Manager instead of a
// serial link, and can optionally expose the same machine over HTTP.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"motioncore/standalone"
	"motioncore/standalone/config"
	"motioncore/standalone/httpapi"
)

var (
	configPath = flag.String("config", "", "Path to a YAML machine configuration file")
	demo       = flag.Bool("demo", false, "Use the built-in default cartesian configuration instead of -config")
	httpAddr   = flag.String("http", "", "Optional listen address for the HTTP/websocket API (e.g. :7125)")
)

func main() {
	flag.Parse()

	fmt.Println("Motion Core Host - G-Code Interactive Console")
	fmt.Println("==============================================")
	fmt.Println()

	mgr, err := buildManager()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to build machine: %v\n", err)
		os.Exit(1)
	}
	if err := mgr.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to start machine: %v\n", err)
		os.Exit(1)
	}
	defer mgr.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if *httpAddr != "" {
		srv := httpapi.NewServer(mgr)
		go func() {
			if err := srv.Run(ctx, *httpAddr); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "Error: http server: %v\n", err)
			}
		}()
		fmt.Printf("HTTP API listening on %s\n", *httpAddr)
	}

	fmt.Println("Machine ready.")

	fmt.Println("Enter G-code or a console command (type 'help' for available commands, 'quit' to exit):")
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch strings.ToLower(strings.Fields(line)[0]) {
		case "quit", "exit", "q":
			fmt.Println("Goodbye!")
			return

		case "help", "?":
			printHelp()

		case "status":
			printStatus(mgr)

		default:
			reply, err := mgr.ProcessLine(line)
			if err != nil {
				fmt.Fprintf(os.Stderr, "!! %v\n", err)
				continue
			}
			if reply != "" {
				fmt.Println(reply)
			}
			fmt.Println("ok")
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(1)
	}
}

func buildManager() (*standalone.Manager, error) {
	if *demo {
		return standalone.NewManagerWithConfig(config.DefaultCartesianConfig())
	}
	if *configPath == "" {
		return nil, fmt.Errorf("either -config or -demo must be given")
	}
	data, err := os.ReadFile(*configPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", *configPath, err)
	}
	return standalone.NewManager(data)
}

func printHelp() {
	fmt.Println()
	fmt.Println("Available console commands:")
	fmt.Println("  help           - Show this help message")
	fmt.Println("  status         - Print the current position and homed axes")
	fmt.Println("  quit/exit/q    - Exit the program")
	fmt.Println()
	fmt.Println("Anything else is sent as a line of G-code (G0/G1/G28/G90/G91/G92/")
	fmt.Println("M82/M83/M104/M114/M220/M221/SET_GCODE_OFFSET/SAVE_GCODE_STATE/")
	fmt.Println("RESTORE_GCODE_STATE/GET_POSITION/ACTIVATE_EXTRUDER).")
	fmt.Println()
}

func printStatus(mgr *standalone.Manager) {
	st := mgr.Status()
	fmt.Printf("homed: %q position: %v gcode: %v speed_factor: %.2f\n",
		st.HomedAxes, st.Position, st.GCodePosition, st.SpeedFactor)
}
