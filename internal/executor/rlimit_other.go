//go:build !linux

package executor

import (
	"os/exec"

	"github.com/heig-tin-info/baygon2/internal/schema"
)

// Resource limits are advisory; hosts without prlimit run without them.
func applyLimits(cmd *exec.Cmd, limits *schema.Limits) {}
