// Package rate throttles form submissions with fixed-window Redis counters.
//
// A window starts at the first counted attempt: INCR, then EXPIRE when the
// counter is new. Keys are <prefix>:<action>:id:<identifier> and
// <prefix>:<action>:ip:<ip>.
package rate
