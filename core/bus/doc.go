// Package bus drives a set of named field devices on a shared sampling
// period. It polls every registered device once per period, caches the last
// value read, and isolates per-device failures so one faulty device never
// disturbs the others. The bus is protocol-agnostic; devices carry their own
// register access.
package bus
