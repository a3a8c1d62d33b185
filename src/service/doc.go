// Package service implements the HTTP control surface of a fleet.
//
// The API exposes:
//
//	GET /stats          stats of every agent, keyed by JID
//	GET /peers          presence records of the launcher
//	GET /peers/<jid>    presence records of one agent
//	GET /stopagents     stop every agent, keep the launcher
//	GET /stopallagents  stop every agent, then the launcher
//	GET /metrics        Prometheus metrics
package service
