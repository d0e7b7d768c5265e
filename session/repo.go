package session

// Store is the durable, single-slot persistence contract for the one current
// session record. Implementations must treat a corrupted record as absent
// (log and return nil) rather than fail, and Save must be an idempotent
// overwrite so that Save followed by Load round-trips.
type Store interface {
	Load() (*Session, error)
	Save(session *Session) error
	Clear() error
}
