package startup

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Unit describes the long-running monitor service.
type Unit struct {
	Description string
	User        string
	WorkDir     string
	ExecStart   string
	EnvFile     string
}

// runCommand is swapped in tests.
var runCommand = func(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// Render produces the systemd unit text.
func (u Unit) Render() string {
	description := u.Description
	if description == "" {
		description = "Blackout monitor"
	}

	var lines []string
	lines = append(lines,
		"[Unit]",
		"Description="+description,
		"Wants=network-online.target",
		"After=network-online.target",
		"",
		"[Service]",
		"Type=simple",
	)
	if u.User != "" {
		lines = append(lines, "User="+u.User)
	}
	if u.WorkDir != "" {
		lines = append(lines, "WorkingDirectory="+u.WorkDir)
	}
	if u.EnvFile != "" {
		// leading '-' keeps the unit startable without a .env file
		lines = append(lines, "EnvironmentFile=-"+u.EnvFile)
	}
	lines = append(lines,
		"ExecStart="+u.ExecStart,
		"Restart=on-failure",
		"RestartSec=10s",
		"",
		"[Install]",
		"WantedBy=multi-user.target",
	)
	return strings.Join(lines, "\n") + "\n"
}

// InstallService writes the unit to unitPath.
func InstallService(unitPath string, u Unit) error {
	if u.ExecStart == "" {
		return fmt.Errorf("service unit needs an ExecStart command")
	}
	if err := os.WriteFile(unitPath, []byte(u.Render()), 0644); err != nil {
		return fmt.Errorf("failed to write unit %s: %w", unitPath, err)
	}
	return nil
}

// EnableService reloads systemd and enables the unit installed at unitPath.
func EnableService(unitPath string) error {
	name := filepath.Base(unitPath)
	if err := runCommand("systemctl", "daemon-reload"); err != nil {
		return fmt.Errorf("systemctl daemon-reload: %w", err)
	}
	if err := runCommand("systemctl", "enable", name); err != nil {
		return fmt.Errorf("systemctl enable %s: %w", name, err)
	}
	return nil
}
