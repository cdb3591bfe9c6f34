package systemd

import (
	"context"
	"testing"

	logx "tagtimer/pkg/logx"
)

func TestNoopOutsideSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")

	if sent, err := Ready(); sent || err != nil {
		t.Fatalf("Ready: sent=%v err=%v", sent, err)
	}
	if sent, err := Stopping(); sent || err != nil {
		t.Fatalf("Stopping: sent=%v err=%v", sent, err)
	}
	if err := Watchdog(context.Background(), logx.Nop()); err != nil {
		t.Fatalf("Watchdog: %v", err)
	}
}
