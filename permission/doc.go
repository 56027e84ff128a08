// Package permission provides the typed permission-set value consumed by
// the authentication gate and by API key records.
//
// The gate does not define permissions; it carries sets produced by the
// host's account store (or attached to an API key at creation) and answers
// membership questions. Sets are serialized to a single text value only at
// the storage edge.
package permission
