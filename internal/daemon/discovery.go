package daemon

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"
)

// DaemonInfo describes a registered daemon and its liveness, as returned by
// Registry.List and DiscoverDaemons.
type DaemonInfo struct {
	ProjectHash  string
	ProjectDir   string
	DatabasePath string
	HealthPort   int
	PID          int
	Version      string
	StartedAt    time.Time
	Alive        bool
	Error        string
}

// DiscoverDaemons lists every daemon registered in ~/.claudia/registry.json,
// with dead-PID entries pruned as a side effect of Registry.List.
func DiscoverDaemons() ([]DaemonInfo, error) {
	registry, err := NewRegistry()
	if err != nil {
		return nil, err
	}
	return registry.List()
}

// discoverDaemon turns a registry entry into a DaemonInfo, probing the
// health endpoint when a port is registered and falling back to a bare PID
// liveness check otherwise (health_port defaults to 0, disabled).
func discoverDaemon(entry RegistryEntry) DaemonInfo {
	info := DaemonInfo{
		ProjectHash:  entry.ProjectHash,
		ProjectDir:   entry.ProjectDir,
		DatabasePath: entry.DatabasePath,
		HealthPort:   entry.HealthPort,
		PID:          entry.PID,
		Version:      entry.Version,
		StartedAt:    entry.StartedAt,
	}

	if !isProcessAlive(entry.PID) {
		info.Error = "process not running"
		return info
	}

	if entry.HealthPort == 0 {
		info.Alive = true
		return info
	}

	client := http.Client{Timeout: 500 * time.Millisecond}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", entry.HealthPort))
	if err != nil {
		info.Error = fmt.Sprintf("health probe failed: %v", err)
		info.Alive = true // process exists; health port may just not be bound yet
		return info
	}
	defer resp.Body.Close()

	var body struct {
		Status string `json:"status"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	info.Alive = resp.StatusCode == http.StatusOK && body.Status == "healthy"
	return info
}

// FindByProjectDir is a package-level convenience wrapping Registry.FindByProjectDir.
func FindByProjectDir(projectDir string) (*DaemonInfo, error) {
	registry, err := NewRegistry()
	if err != nil {
		return nil, err
	}
	return registry.FindByProjectDir(projectDir)
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 checks existence/permission without actually signaling.
	return process.Signal(syscall.Signal(0)) == nil
}
