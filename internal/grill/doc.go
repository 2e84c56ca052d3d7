// Package grill holds the latest known state of each grill and fans out
// change notifications.
//
// A grill pushes its whole state as one JSON message with the sub-documents
// status, details, limits, settings and features. Store.Apply replaces the
// cached Record wholesale; there is no field-level merge. Reads return
// copies, so observers can hold on to what they read.
//
// Registry keeps an ordered observer list per device. The session
// dispatcher calls Store.Apply and then Registry.Notify for each message,
// so an observer always sees the record that triggered it (or a newer one).
package grill
