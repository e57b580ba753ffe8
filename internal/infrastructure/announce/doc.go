// Package announce advertises the controller's HTTP API over mDNS so
// clients on the LAN can find it without configuration, and looks up
// other controllers advertising the same service.
//
// The default service type is _yeelight-ctl._tcp in the local. domain.
package announce
