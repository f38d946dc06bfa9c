package startup

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnitRender(t *testing.T) {
	u := Unit{
		User:      "monitor",
		WorkDir:   "/opt/blackout-monitor",
		ExecStart: "/opt/blackout-monitor/blackout-monitor -config-file /opt/blackout-monitor/config.json",
		EnvFile:   "/opt/blackout-monitor/.env",
	}
	text := u.Render()

	assert.Contains(t, text, "Description=Blackout monitor\n")
	assert.Contains(t, text, "User=monitor\n")
	assert.Contains(t, text, "WorkingDirectory=/opt/blackout-monitor\n")
	assert.Contains(t, text, "EnvironmentFile=-/opt/blackout-monitor/.env\n")
	assert.Contains(t, text, "ExecStart=/opt/blackout-monitor/blackout-monitor -config-file")
	assert.True(t, strings.HasSuffix(text, "WantedBy=multi-user.target\n"))
}

func TestUnitRender_OmitsEmptyFields(t *testing.T) {
	text := Unit{ExecStart: "/usr/bin/blackout-monitor"}.Render()

	assert.NotContains(t, text, "User=")
	assert.NotContains(t, text, "WorkingDirectory=")
	assert.NotContains(t, text, "EnvironmentFile=")
}

func TestInstallService(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blackout-monitor.service")

	require.NoError(t, InstallService(path, Unit{ExecStart: "/usr/bin/blackout-monitor"}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ExecStart=/usr/bin/blackout-monitor\n")

	assert.Error(t, InstallService(path, Unit{}))
}

func TestEnableService(t *testing.T) {
	orig := runCommand
	defer func() { runCommand = orig }()

	var calls []string
	runCommand = func(name string, args ...string) error {
		calls = append(calls, name+" "+strings.Join(args, " "))
		return nil
	}

	require.NoError(t, EnableService("/etc/systemd/system/blackout-monitor.service"))
	assert.Equal(t, []string{
		"systemctl daemon-reload",
		"systemctl enable blackout-monitor.service",
	}, calls)
}

func TestEnableService_ReloadFails(t *testing.T) {
	orig := runCommand
	defer func() { runCommand = orig }()

	calls := 0
	runCommand = func(name string, args ...string) error {
		calls++
		return errors.New("exit status 1")
	}

	err := EnableService("/etc/systemd/system/blackout-monitor.service")
	assert.ErrorContains(t, err, "daemon-reload")
	assert.Equal(t, 1, calls)
}
