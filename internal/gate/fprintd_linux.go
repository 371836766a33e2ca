//go:build linux

package gate

import (
	"context"

	"github.com/godbus/dbus/v5"

	"shieldd/internal/logging"
)

const (
	fprintdService   = "net.reactivated.Fprint"
	fprintdManager   = "/net/reactivated/Fprint/Manager"
	fprintdDeviceIfc = "net.reactivated.Fprint.Device"
)

// FprintdVerifier authenticates against the fprintd fingerprint daemon
// over the system bus. Any missing piece of the stack (bus, daemon,
// reader, enrollment) maps to OutcomeUnavailable so the gate can route
// to LimitedMode instead of burning retry budget.
type FprintdVerifier struct {
	log *logging.Logger
}

func newFprintdVerifier(log *logging.Logger) Verifier {
	return &FprintdVerifier{log: log.WithComponent("fprintd")}
}

// Verify claims the default fingerprint device and runs one verify
// cycle. The credential argument is unused.
func (v *FprintdVerifier) Verify(ctx context.Context, _ string) Outcome {
	conn, err := dbus.SystemBus()
	if err != nil {
		v.log.Warn("system bus unavailable", "error", err)
		return OutcomeUnavailable
	}

	manager := conn.Object(fprintdService, fprintdManager)

	var devicePath dbus.ObjectPath
	err = manager.CallWithContext(ctx,
		"net.reactivated.Fprint.Manager.GetDefaultDevice", 0).Store(&devicePath)
	if err != nil {
		v.log.Warn("no fingerprint device", "error", err)
		return OutcomeUnavailable
	}

	dev := conn.Object(fprintdService, devicePath)

	if call := dev.CallWithContext(ctx, fprintdDeviceIfc+".Claim", 0, ""); call.Err != nil {
		v.log.Warn("claim failed", "error", call.Err)
		return OutcomeUnavailable
	}
	defer dev.Call(fprintdDeviceIfc+".Release", 0)

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(devicePath),
		dbus.WithMatchInterface(fprintdDeviceIfc),
		dbus.WithMatchMember("VerifyStatus"),
	); err != nil {
		v.log.Warn("signal match failed", "error", err)
		return OutcomeUnavailable
	}
	defer conn.RemoveMatchSignal(
		dbus.WithMatchObjectPath(devicePath),
		dbus.WithMatchInterface(fprintdDeviceIfc),
		dbus.WithMatchMember("VerifyStatus"),
	)

	signals := make(chan *dbus.Signal, 8)
	conn.Signal(signals)
	defer conn.RemoveSignal(signals)

	if call := dev.CallWithContext(ctx, fprintdDeviceIfc+".VerifyStart", 0, "any"); call.Err != nil {
		v.log.Warn("verify start failed", "error", call.Err)
		return OutcomeUnavailable
	}
	defer dev.Call(fprintdDeviceIfc+".VerifyStop", 0)

	for {
		select {
		case <-ctx.Done():
			return OutcomeFailure

		case sig, ok := <-signals:
			if !ok {
				return OutcomeUnavailable
			}
			if sig.Path != devicePath || len(sig.Body) < 2 {
				continue
			}
			status, _ := sig.Body[0].(string)
			done, _ := sig.Body[1].(bool)

			switch status {
			case "verify-match":
				return OutcomeSuccess
			case "verify-no-match":
				return OutcomeFailure
			case "verify-disconnected", "verify-unknown-error":
				return OutcomeUnavailable
			default:
				// Retry-class statuses (swipe too short, finger not
				// centered) keep the cycle running unless the daemon
				// declared it finished.
				if done {
					return OutcomeFailure
				}
			}
		}
	}
}

func (v *FprintdVerifier) Describe() string {
	return "fprintd"
}
