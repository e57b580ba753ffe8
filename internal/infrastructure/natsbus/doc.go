// Package natsbus connects the controller to a NATS server.
//
// The relay publishes lamp state on yeelight.lamp.<id>.state and takes
// commands on yeelight.lamp.<id>.command. Commands sent as NATS requests
// get the command result as the reply:
//
//	nats req yeelight.lamp.1385535.command '{"method":"toggle","args":[]}'
package natsbus
