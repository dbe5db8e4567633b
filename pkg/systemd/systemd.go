// Package systemd reports service state to the systemd manager through the
// sd_notify protocol. Every call is a no-op outside a unit with NOTIFY_SOCKET.
package systemd

import (
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// notify is swapped in tests.
var notify = daemon.SdNotify

// Ready tells systemd that startup finished (Type=notify units).
func Ready() (bool, error) { return notify(false, daemon.SdNotifyReady) }

// Stopping tells systemd that shutdown began.
func Stopping() (bool, error) { return notify(false, daemon.SdNotifyStopping) }

// Status publishes a free-form status line shown by systemctl status.
func Status(format string, args ...any) (bool, error) {
	return notify(false, "STATUS="+fmt.Sprintf(format, args...))
}

// WatchdogInterval returns the keep-alive period requested by the unit, or 0
// when the watchdog is disabled.
func WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return 0
	}
	return d
}

// Watchdog sends one keep-alive ping.
func Watchdog() (bool, error) { return notify(false, daemon.SdNotifyWatchdog) }
