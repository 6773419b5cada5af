// Package shadow keeps the last-known desired and reported state of each
// device and reconciles partial updates received over pub/sub.
//
// A shadow message carries a JSON document of the form
//
//	{"state": {"desired": {...}, "reported": {...}}}
//
// Either partition may be absent. Store.Apply merges each present partition
// key by key into the stored copy (the last arrival wins per key) and leaves
// absent partitions untouched. Desired values are never copied into the
// reported partition. When a merge changes at least one key, a ChangeEvent
// carrying the changed keys and a snapshot of the whole partition is
// dispatched to subscribers; a redelivered message changes nothing and
// therefore emits nothing.
//
// There are no version numbers in the documents, so two concurrent publishes
// to the same key are resolved by arrival order.
package shadow
