// Package entity defines the operational records tracked by the lifecycle
// engine: quotes, shipments, pickup requests and delegated purchases, plus
// the tenant (client) that owns them.
package entity
