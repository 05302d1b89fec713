// Package clock provides the millisecond time source used by the
// membership protocol. Deadlines are absolute millisecond timestamps
// taken at creation and compared at sweep time, so the protocol only
// needs a "now" reading; tests drive it with a Manual clock.
package clock
