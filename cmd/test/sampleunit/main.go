// Sampleunit is a stand-in managed unit for the process host. It announces
// itself, ticks until stopped and exits cleanly on interrupt.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Name         string `long:"name" description:"unit name printed in every line" default:"sampleunit"`
	RunDuration  int    `long:"run-duration" description:"Duration in seconds to run the unit (debug feature)"`
	TickSeconds  int    `long:"tick" description:"Interval in seconds between heartbeat lines" default:"5"`
	ReadySeconds int    `long:"ready-after" description:"Seconds before the unit reports itself operational" default:"1"`
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("[%s] Running, pid: %d, opts: %+v...\n", opts.Name, os.Getpid(), opts)

	ctx := context.Background()
	if opts.RunDuration > 0 {
		fmt.Printf("[%s] Using RUN DURATION of %d seconds\n", opts.Name, opts.RunDuration)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.RunDuration)*time.Second)
		defer cancel()
	}

	// Enable signal handling
	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}

	tick := opts.TickSeconds
	if tick <= 0 {
		tick = 5
	}
	ticker := time.NewTicker(time.Duration(tick) * time.Second)
	defer ticker.Stop()

	ready := time.After(time.Duration(opts.ReadySeconds) * time.Second)
	started := time.Now()

	for {
		select {
		case <-ready:
			fmt.Printf("[%s] Fully operational\n", opts.Name)
		case <-ticker.C:
			fmt.Printf("[%s] Alive for %v\n", opts.Name, time.Since(started).Round(time.Second))
		case receivedSignal := <-sig:
			fmt.Printf("[%s] Received signal: %v\n", opts.Name, receivedSignal)
			fmt.Printf("[%s] Stopped\n", opts.Name)
			return
		case <-ctx.Done():
			fmt.Printf("[%s] Timed out\n", opts.Name)
			fmt.Printf("[%s] Stopped\n", opts.Name)
			return
		}
	}
}
