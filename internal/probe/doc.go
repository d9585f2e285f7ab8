// Package probe runs ffprobe through the command runner and parses its JSON
// into typed results. Video cleaning uses it to verify that the rewritten
// container is readable, keeps its duration, and carries no identifying tags.
package probe
