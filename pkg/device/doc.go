// Package device models the devices a Buttplug server exposes.
//
// A Device is built from the server's DeviceInfo and sends its commands
// through a Sender, normally the client connection. Every device and every
// actuator keeps a next-allowed-send time so commands respect the
// inter-message gap the server reports:
//
//	dev.Scalar(ctx, wire.ActuatorVibrate, 0.5)      // all vibrators
//	dev.Scalars()[0].Set(ctx, 0.25)                 // one actuator
//
//	_, err := dev.ScalarBuilder().
//	    Add("Vibrate Actuator 0").Value(0.3).Finish().
//	    AddIndex(1).Value(0.8).Finish().
//	    Send(ctx)
//
// Builders record the first lookup failure and report it from Build and
// Send. Sensors cache the last reading and notify observers only when a
// component changes.
package device
