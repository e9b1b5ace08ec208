// Package signaling is the sender side of the offer/answer exchange with the
// receiver.
//
// Exactly one request carries the complete local offer (all ICE candidates
// included) and exactly one response carries the receiver's answer. There is
// no trickle ICE and no renegotiation.
package signaling
