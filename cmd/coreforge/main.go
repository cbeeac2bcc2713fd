// Copyright © 2024 Jeff Berkowitz (pdxjjb@gmail.com)
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"coreforge/internal/config"
	"coreforge/internal/core"
	"coreforge/internal/cpucontainer"
	"coreforge/internal/device"
	"coreforge/internal/irq"
	"coreforge/internal/machine"
	"coreforge/internal/memory"
	"coreforge/internal/vmlog"
)

var (
	configFile  = flag.String("config", "", "TOML configuration file ([memory]/[cpu]/[machine])")
	entryPoint  = flag.Uint("entry", 0, "Boot entry address")
	traceFile   = flag.String("trace", "", "Write a structured execution log to file")
	debugLog    = flag.Bool("debug", false, "Mirror every log record to stderr")
	showVersion = flag.Bool("version", false, "Show version and exit")
)

const version = "1.0.0"

var savedTermState *term.State

// setupTerminal puts the terminal in raw mode for the console device.
func setupTerminal() error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil
	}
	state, err := term.GetState(int(os.Stdin.Fd()))
	if err != nil {
		return fmt.Errorf("failed to get terminal state: %v", err)
	}
	savedTermState = state
	if _, err := term.MakeRaw(int(os.Stdin.Fd())); err != nil {
		return fmt.Errorf("failed to set raw mode: %v", err)
	}
	return nil
}

func restoreTerminal() {
	if savedTermState != nil && term.IsTerminal(int(os.Stdin.Fd())) {
		term.Restore(int(os.Stdin.Fd()), savedTermState)
	}
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("coreforge v%s\n", version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) != 1 {
		usage()
		os.Exit(1)
	}
	imagePath := args[0]

	data, err := os.ReadFile(imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading boot image: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	var logOut io.Writer = io.Discard
	if *traceFile != "" {
		f, err := os.Create(*traceFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating trace file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logOut = f
	}
	log := vmlog.New(logOut, *debugLog)

	mem, err := memory.New(uint32(cfg.Memory.SizeBytes), cfg.Memory.ForceAlignedAccess)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building memory controller: %v\n", err)
		os.Exit(1)
	}
	if err := mem.LoadImage(uint32(*entryPoint), data); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading boot image: %v\n", err)
		os.Exit(1)
	}

	m := machine.New(mem, log)

	console := device.NewConsole(os.Stdin, os.Stderr, consoleIRQIndex, func() {
		m.RaiseIRQ(consoleIRQIndex)
	})
	m.AddDevice(console)

	cores := make([]*core.Core, cfg.Machine.Cores)
	for i := range cores {
		coreCfg := m.NewCoreConfig()
		coreCfg.ID = i
		coreCfg.IVTAddress = cfg.CPU.IVTAddress
		coreCfg.IVTEntries = irq.DefaultEntries
		coreCfg.PTAddress = cfg.CPU.PTAddress
		coreCfg.InstCacheSize = cfg.CPU.InstCacheSize
		coreCfg.DataCacheEnabled = cfg.CPU.DataCacheEnabled
		coreCfg.DataCacheSize = cfg.CPU.DataCacheSize
		cores[i] = core.New(mem, m.Coh, coreCfg)
	}
	m.AddCPU(cpucontainer.New(0, cores))

	if err := setupTerminal(); err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up terminal: %v\n", err)
		os.Exit(1)
	}
	defer restoreTerminal()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		restoreTerminal()
		os.Exit(130)
	}()

	if err := m.Boot(uint32(*entryPoint)); err != nil {
		fmt.Fprintf(os.Stderr, "Error booting machine: %v\n", err)
		os.Exit(1)
	}

	startTime := time.Now()
	exitCode := m.Run()
	elapsed := time.Since(startTime)

	restoreTerminal()

	fmt.Fprintf(os.Stderr, "\n========================================\n")
	fmt.Fprintf(os.Stderr, "Execution completed\n")
	fmt.Fprintf(os.Stderr, "Time: %v\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(os.Stderr, "Exit: %d\n", exitCode)

	os.Exit(exitCode)
}

// consoleIRQIndex is the IVT entry the reference console device raises
// on input readiness; a real deployment would make this configurable,
// but the port/IRQ contract itself (not device policy) is this spec's
// scope.
const consoleIRQIndex = 1

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options] <boot-image>\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "coreforge - run a flat boot image on the multi-core VM\n\n")
	fmt.Fprintf(os.Stderr, "Options:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nArguments:\n")
	fmt.Fprintf(os.Stderr, "  <boot-image>    raw binary loaded at -entry and executed\n")
	fmt.Fprintf(os.Stderr, "\nConsole I/O is connected to stdin/stderr; use -trace for a structured log.\n")
}
