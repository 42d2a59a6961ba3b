package coordinator

import (
	"context"
	"time"

	"github.com/jmikh/recordio/internal/logging"
)

// PermissionProber checks whether a capture permission is currently granted
// without prompting the user.
type PermissionProber interface {
	// HasScreenPermission reports whether screen capture is permitted. It must
	// return quickly; the coordinator bounds it with a deadline regardless.
	HasScreenPermission(ctx context.Context) (bool, error)
}

// HelperOpener opens the platform's permission-granting surface (a settings
// pane, a helper page). Opening is fire-and-forget.
type HelperOpener interface {
	OpenPermissionHelper() error
}

// probeTimeout bounds the permission probe so a wedged platform API cannot
// stall a start request.
const probeTimeout = 1500 * time.Millisecond

// EnsureScreenPermission probes for the screen-capture grant and, when it is
// missing, opens the helper without waiting for the user. The caller decides
// whether to retry the start; this never blocks on user action.
func EnsureScreenPermission(ctx context.Context, prober PermissionProber, opener HelperOpener) bool {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	granted, err := prober.HasScreenPermission(probeCtx)
	if err != nil {
		// An inconclusive probe is treated as granted; the capture attempt
		// itself is the authoritative check.
		logging.CoordinatorDebug("Permission probe inconclusive: %v", err)
		return true
	}
	if granted {
		return true
	}

	logging.Coordinator("Screen permission missing, opening helper")
	if opener != nil {
		if err := opener.OpenPermissionHelper(); err != nil {
			logging.CoordinatorError("Permission helper open failed: %v", err)
		}
	}
	return false
}
