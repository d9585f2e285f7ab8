//go:build !unix

package runner

import "os/exec"

// killGroup keeps the default cancellation, which kills only the direct child.
func killGroup(*exec.Cmd) {}
