package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"

	"github.com/tliron/commonlog"

	"bridgejs/pkg/config"
	"bridgejs/pkg/driver"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	configFlag := flag.String("config", "", "Read runtime configuration from this TOML file")
	verbosityFlag := flag.Int("v", -1, "Log verbosity (0 silences, higher is chattier; overrides the config)")
	disFlag := flag.Bool("dis", false, "Print the program's bytecode listing before running it")
	outFlag := flag.String("o", "", "Compile the program to a bytecode image at this path instead of running it")
	heapdumpFlag := flag.String("heapdump", "", "Write a SQLite heap snapshot to this path after the program finishes")
	cacheStatsFlag := flag.Bool("cache-stats", false, "Show inline cache statistics after execution")
	gcStatsFlag := flag.Bool("gc-stats", false, "Show garbage collector statistics after execution")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: bridgejs [flags] program.{yaml,jsbc} [args...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(64) // Exit code 64: command line usage error
	}

	cfg, err := loadConfig(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(78) // Exit code 78: configuration error
	}
	if *verbosityFlag >= 0 {
		cfg.Log.Verbosity = *verbosityFlag
	}
	var logFile *string
	if cfg.Log.File != "" {
		logFile = &cfg.Log.File
	}
	commonlog.Configure(cfg.Log.Verbosity, logFile)

	// Ctrl-C aborts the running script through the interrupt handler.
	var interrupted atomic.Bool
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt)
	go func() {
		for range signals {
			interrupted.Store(true)
		}
	}()

	program := flag.Arg(0)
	session, err := driver.NewSession(driver.Options{
		Config:    cfg,
		Stdout:    os.Stdout,
		Argv:      append([]string{os.Args[0]}, flag.Args()...),
		Interrupt: interrupted.Load,
	})
	if err != nil {
		driver.DisplayError(os.Stderr, err)
		os.Exit(70) // Exit code 70: internal software error
	}
	os.Exit(run(session, program, *outFlag, *heapdumpFlag, *disFlag, *cacheStatsFlag, *gcStatsFlag))
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default()
	}
	return config.Load(path)
}

func run(s *driver.Session, program, out, heapdump string, dis, cacheStats, gcStats bool) int {
	defer s.Close()

	if out != "" {
		if err := s.Compile(program, out); err != nil {
			driver.DisplayError(os.Stderr, err)
			return 65 // Exit code 65: data format error
		}
		return 0
	}

	b, err := s.Load(program)
	if err != nil {
		driver.DisplayError(os.Stderr, err)
		return 65
	}
	defer s.Release(b)
	if dis {
		fmt.Print(s.Disassemble(b))
	}

	code := 0
	v, err := s.Run(b)
	if err != nil {
		var exit *driver.ExitError
		if stderrors.As(err, &exit) {
			code = exit.Code
		} else {
			driver.DisplayError(os.Stderr, err)
			code = 70
		}
	} else {
		s.Runtime().FreeValue(v)
	}

	if cacheStats {
		s.PrintCacheStats(os.Stderr)
	}
	if gcStats {
		s.PrintGCStats(os.Stderr)
	}
	if heapdump != "" {
		st, err := s.WriteHeapDump(context.Background(), heapdump)
		if err != nil {
			fmt.Fprintf(os.Stderr, "heap dump failed: %v\n", err)
			if code == 0 {
				code = 74 // Exit code 74: I/O error
			}
		} else {
			fmt.Fprintf(os.Stderr, "Heap dump: %d nodes, %d edges written to %s\n", st.Nodes, st.Edges, heapdump)
		}
	}
	return code
}
