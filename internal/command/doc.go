// Package command sends power commands to Tasmota devices and waits for
// their reply, turning the asynchronous cmnd/stat topic pair into a call:
//
//	resp, err := correlator.SendCommand(ctx, "sonoff_44", "main")
//	switch {
//	case errors.Is(err, command.ErrNoDevice):    // not registered
//	case errors.Is(err, command.ErrNoResponse):  // timed out
//	}
//
// SendCommand publishes TOGGLE; SendPower publishes an explicit ON or OFF.
package command
