// Package ratelimit enforces per-key request budgets in front of the
// authentication gate.
//
// Two interchangeable algorithms are supported per route class: fixed
// window (cheap, allows a burst of up to 2x the limit across a window
// seam) and a log-based sliding window (seam-free, O(limit) memory per
// key). Counters live behind the Store interface with an in-process
// implementation for single-instance deployments and a Redis-backed one
// for fleets; policy code does not care which is plugged in. Counts are
// allowed to be approximate under concurrency: the budget is an abuse
// ceiling, not an accounting ledger.
package ratelimit
