// Package geoip defines the geolocation and IP-reputation collaborator
// consumed by risk scoring. The subsystem never performs lookups itself;
// deployments plug in a real provider behind the Resolver interface.
package geoip
