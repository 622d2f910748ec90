// Command gatectl is an operator CLI that inspects a running
// gatecored's gate pools, active sessions, and pending reflex overrides
// over the read-only admin HTTP surface.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/nugget/gatecore/internal/buildinfo"
)

const (
	colorReset  = "\x1b[0m"
	colorDim    = "\x1b[2m"
	colorBold   = "\x1b[1m"
	colorRed    = "\x1b[31m"
	colorGreen  = "\x1b[32m"
	colorYellow = "\x1b[33m"
)

func main() {
	addr := flag.String("addr", "http://localhost:9090", "gatecored admin HTTP base URL")
	flag.Parse()

	color := isatty.IsTerminal(os.Stdout.Fd())

	if flag.NArg() == 0 {
		usage()
		os.Exit(1)
	}

	client := &http.Client{Timeout: 5 * time.Second}

	var err error
	switch flag.Arg(0) {
	case "healthz":
		err = getAndPrint(client, *addr+"/healthz", color)
	case "pools":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "usage: gatectl pools <sink|drop|tool>")
			os.Exit(1)
		}
		err = getAndPrint(client, *addr+"/pools/"+flag.Arg(1), color)
	case "sessions":
		err = getAndPrint(client, *addr+"/sessions", color)
	case "overrides":
		err = getAndPrint(client, *addr+"/overrides", color)
	case "version":
		fmt.Println(buildinfo.String())
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", colorize(color, colorRed, fmt.Sprintf("error: %v", err)))
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("gatectl - inspect a running gatecored instance")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  healthz              Check daemon health")
	fmt.Println("  pools <sink|drop|tool>  Dump a gate pool's contents")
	fmt.Println("  sessions             List active session keys")
	fmt.Println("  overrides            List pending reflex override keys")
	fmt.Println("  version              Show version")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}

// getAndPrint fetches url, pretty-prints the JSON body, and colorizes
// the output when attached to a real terminal.
func getAndPrint(client *http.Client, url string, color bool) error {
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %s", url, colorize(color, colorYellow, resp.Status))
	}

	var v any
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return fmt.Errorf("decode response from %s: %w", url, err)
	}

	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("format response: %w", err)
	}

	if color {
		fmt.Printf("%s%s%s\n", colorGreen, string(pretty), colorReset)
	} else {
		fmt.Println(string(pretty))
	}
	return nil
}

func colorize(color bool, code, s string) string {
	if !color {
		return s
	}
	return code + colorBold + s + colorReset
}
