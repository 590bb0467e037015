// Package grid arbitrates a shared, time-varying power budget among
// competing power claims. A Grid owns the admitted claim set and is the only
// component allowed to exercise a claim's flexibility (suspend, delay,
// reset). Admission decisions are made under a per-grid lock so no two
// capacity checks for the same grid interleave.
package grid
