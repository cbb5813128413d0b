//go:build profile

package prof

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	rpprof "runtime/pprof"
	"sync"

	"github.com/ardnew/usbstream/pkg"
)

var (
	mu      sync.Mutex
	active  bool
	current Config
	cpuFile *os.File
	server  *http.Server
)

// Start begins the profiles requested by cfg.
func Start(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	if active {
		return ErrActive
	}
	if cfg.Empty() {
		return nil
	}

	if cfg.CPUPath != "" {
		f, err := os.Create(cfg.CPUPath)
		if err != nil {
			return fmt.Errorf("create cpu profile: %w", err)
		}
		if err := rpprof.StartCPUProfile(f); err != nil {
			return errors.Join(fmt.Errorf("start cpu profile: %w", err), f.Close())
		}
		cpuFile = f
	}
	if cfg.BlockPath != "" {
		runtime.SetBlockProfileRate(1)
	}
	if cfg.Listen != "" {
		if err := serve(cfg.Listen); err != nil {
			stopCPU()
			return err
		}
	}

	current, active = cfg, true
	pkg.LogDebug(pkg.ComponentCLI, "profiling started",
		"cpu", cfg.CPUPath, "heap", cfg.HeapPath, "block", cfg.BlockPath, "listen", cfg.Listen)
	return nil
}

func serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen for pprof: %w", err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	server = &http.Server{Handler: mux}
	go func(s *http.Server) {
		if err := s.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			pkg.LogWarn(pkg.ComponentCLI, "pprof server stopped", "error", err)
		}
	}(server)
	pkg.LogInfo(pkg.ComponentCLI, "serving pprof", "addr", ln.Addr().String())
	return nil
}

func stopCPU() error {
	if cpuFile == nil {
		return nil
	}
	rpprof.StopCPUProfile()
	err := cpuFile.Close()
	cpuFile = nil
	return err
}

// Stop ends sampling and writes the snapshot profiles. Stopping when no
// run is active does nothing.
func Stop() error {
	mu.Lock()
	defer mu.Unlock()

	if !active {
		return nil
	}
	active = false

	errs := []error{stopCPU()}
	if current.HeapPath != "" {
		runtime.GC()
		errs = append(errs, writeProfile("heap", current.HeapPath))
	}
	if current.BlockPath != "" {
		errs = append(errs, writeProfile("block", current.BlockPath))
		runtime.SetBlockProfileRate(0)
	}
	if server != nil {
		errs = append(errs, server.Close())
		server = nil
	}
	current = Config{}
	return errors.Join(errs...)
}

// Active reports whether a run is in progress.
func Active() bool {
	mu.Lock()
	defer mu.Unlock()
	return active
}

func writeProfile(name, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s profile: %w", name, err)
	}
	if err := rpprof.Lookup(name).WriteTo(f, 0); err != nil {
		return errors.Join(fmt.Errorf("write %s profile: %w", name, err), f.Close())
	}
	return f.Close()
}
