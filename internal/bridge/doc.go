// Package bridge mirrors a Buttplug connection onto MQTT.
//
// Topics, relative to a configurable prefix:
//
//	<prefix>/status                       "online" or "offline", retained
//	<prefix>/devices/<index>              device descriptor, retained; empty on detach
//	<prefix>/devices/<index>/sensors/<n>  sensor reading on change
//	<prefix>/devices/<index>/scalar/set   command: {"actuator":"Vibrate","value":0.5}
//	<prefix>/devices/<index>/stop         command: any payload
package bridge
