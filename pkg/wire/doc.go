// Package wire defines the JSON wire format types for the Buttplug v3 protocol.
//
// Every transmission is a JSON array of single-key objects. The key is the
// message name and the value is the message body:
//
//	[{"RequestServerInfo": {"Id": 1, "ClientName": "...", "MessageVersion": 3}}]
//
// # Message Ids
//
// Requests carry a non-zero Id chosen by the client. Replies echo it.
// Id 0 is reserved for unsolicited server events (DeviceAdded,
// DeviceRemoved, SensorReading, ScanningFinished, Error).
//
// # Message Names
//
// The name of a message is its Go type name with the "Buttplug" prefix
// stripped (see NameOf). Callers can override the name explicitly when
// encoding.
//
// # Capabilities
//
// Actuator and sensor capabilities are bit-sets (ActuatorType, SensorType)
// that marshal to their protocol string names.
package wire
