// Package authz decides which records an actor may see and what it may do
// to them. Tenant-scoped actors are confined to their own client; a tenant
// actor without a client sees nothing.
package authz
