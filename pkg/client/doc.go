// Package client implements a Buttplug v3 client connection.
//
// A Conn dials the server, performs the RequestServerInfo handshake and then
// runs one read loop that reassembles frames, resolves replies to pending
// requests by message id and turns unsolicited events (id 0) into device
// table updates and notifications:
//
//	conn := client.New(client.Config{URL: "ws://127.0.0.1:12345", ClientName: "demo"})
//	conn.OnDeviceAdded(func(d *device.Device) { fmt.Println("attached", d) })
//	if err := conn.Connect(ctx); err != nil {
//	    return err
//	}
//	defer conn.Close()
//	_ = conn.StartScanning(ctx)
//
// Notifications are delivered in arrival order on a single notifier
// goroutine, so callbacks may issue requests on the same connection.
//
// A Conn is single-use. After Close, or after a fatal transport or
// keep-alive failure, create a new one.
package client
