// Package discovery finds Yeelight lamps on the LAN with SSDP.
//
// Lamps answer an M-SEARCH probe (ST: wifi_bulb) sent to the multicast
// group 239.255.255.250:1982 with a unicast "HTTP/1.1 200 OK" datagram, and
// announce themselves periodically with "NOTIFY * HTTP/1.1" on the group.
// Both carry the lamp state as headers:
//
//	NOTIFY * HTTP/1.1
//	Host: 239.255.255.250:1982
//	Cache-Control: max-age=3600
//	Location: yeelight://192.168.1.239:55443
//	NTS: ssdp:alive
//	Server: POSIX, UPnP/1.0 YGLC/1
//	id: 0x000000000015243f
//	model: color
//	fw_ver: 18
//	support: get_prop set_default set_power toggle set_bright ...
//	power: on
//	bright: 100
//
// The Listener parses each datagram, translates the lamp headers into a
// yeelight.StatePatch and hands it to a Sink (the device registry).
// Datagrams that are not announcements, or whose Location is not a
// yeelight:// URL, are dropped.
package discovery
