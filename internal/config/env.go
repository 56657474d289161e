// Package config provides environment helpers for go-walkie commands.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix is prepended to every variable name looked up by this package.
const EnvPrefix = "WALKIE_"

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// RobotIP returns WALKIE_IP, then ROBOT_IP, then defaultIP.
func RobotIP(defaultIP string) string {
	if ip, ok := lookup("IP"); ok {
		return ip
	}
	if ip := os.Getenv("ROBOT_IP"); ip != "" {
		return ip
	}
	return defaultIP
}

// String returns WALKIE_<name> or def.
func String(name, def string) string {
	if v, ok := lookup(name); ok {
		return v
	}
	return def
}

// Int returns WALKIE_<name> parsed as an int, or def when unset or invalid.
func Int(name string, def int) int {
	v, ok := lookup(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Duration returns WALKIE_<name> parsed as a duration, or def.
// Bare numbers are read as seconds.
func Duration(name string, def time.Duration) time.Duration {
	v, ok := lookup(name)
	if !ok {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return def
}

// List returns WALKIE_<name> split on commas, or def.
func List(name string, def []string) []string {
	v, ok := lookup(name)
	if !ok {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
