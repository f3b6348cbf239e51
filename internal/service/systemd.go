// Package service writes a systemd user unit for the worker daemon.
package service

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/template"
)

const DefaultName = "callsense"

const unitTemplate = `[Unit]
Description=callsense call analysis worker
After=network-online.target

[Service]
Type=simple
ExecStart={{.Binary}} serve --config {{.Config}}
Restart=on-failure
RestartSec=5
{{- range .Env }}
Environment={{.}}
{{- end }}

[Install]
WantedBy=default.target
`

type UnitParams struct {
	Name   string
	Binary string
	Config string
	Env    map[string]string
}

// UnitDir is the systemd user unit directory, honouring XDG_CONFIG_HOME.
func UnitDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, "systemd", "user")
}

// UnitPath returns the unit file path for name.
func UnitPath(name string) string {
	return filepath.Join(UnitDir(), fmt.Sprintf("%s.service", name))
}

// WriteUnit renders and writes the unit file.
func WriteUnit(params UnitParams) (string, error) {
	if params.Name == "" {
		params.Name = DefaultName
	}
	if err := os.MkdirAll(UnitDir(), 0o755); err != nil {
		return "", err
	}
	path := UnitPath(params.Name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	env := make([]string, 0, len(params.Env))
	for k, v := range params.Env {
		env = append(env, fmt.Sprintf("%q", k+"="+v))
	}
	sort.Strings(env)
	data := struct {
		UnitParams
		Env []string
	}{params, env}

	tpl := template.Must(template.New("unit").Parse(unitTemplate))
	if err := tpl.Execute(f, data); err != nil {
		return "", err
	}
	return path, nil
}

// Status returns the unit path and whether it exists.
func Status(name string) (string, bool) {
	path := UnitPath(name)
	if _, err := os.Stat(path); err == nil {
		return path, true
	}
	return path, false
}
