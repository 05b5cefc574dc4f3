/*
Package config provides typed extraction from decoded YAML or JSON documents.

# Overview

config wraps a map[string]any and offers accessors that return a default
when a key is missing or holds an incompatible value. Keys may be dotted
paths into nested maps. It backs flow definition files and the streamsync
command's settings.

# Basic Usage

	cfg, err := config.FromFile("flow.yaml")
	if err != nil {
	    log.Fatal(err)
	}

	workers := cfg.Int("scheduler.workers", runtime.NumCPU())
	poll := cfg.Duration("scheduler.poll_interval", 10*time.Millisecond)
	maxBytes := cfg.Bytes("defaults.capacity.size", 1<<30) // "64 MiB" -> 67108864

	for _, p := range cfg.List("processors") {
	    props := p.StringMap("properties") // scalars formatted as strings
	    _ = props
	}

# Type Coercion

Duration accepts duration strings, or numbers interpreted as seconds.
Bytes accepts humanized sizes ("10 MB", "64KiB") or plain byte counts.
Int, Float, and Bool also parse strings, so values may be quoted.

# Environment Expansion

FromYAML expands ${NAME} references against the process environment before
parsing.

# Thread Safety

Config is safe for concurrent reads. The underlying map must not be modified
after creation.
*/
package config
