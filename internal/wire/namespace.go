package wire

// Namespace is the wire representation of a MoQT TrackNamespace: a pair of
// opaque byte-strings (namespace, track_name). Equality is structural, so
// Namespace is safe to use as a map key once converted to the comparable
// NamespaceKey form.
type Namespace struct {
	Namespace []byte
	TrackName []byte
}

// NamespaceKey is a comparable, hashable projection of a Namespace suitable
// for use as a map key.
type NamespaceKey string

// Key returns the comparable form of n.
func (n Namespace) Key() NamespaceKey {
	// The key is the length-prefixed wire encoding, so two distinct
	// (namespace, name) pairs never share a key, whatever bytes they hold.
	return NamespaceKey(AppendNamespace(nil, n))
}

// AppendNamespace appends the wire encoding of n to buf:
// bytes(namespace) || bytes(track_name).
func AppendNamespace(buf []byte, n Namespace) []byte {
	buf = AppendBytes(buf, n.Namespace)
	buf = AppendBytes(buf, n.TrackName)
	return buf
}

func (r *reader) namespace() (Namespace, error) {
	ns, err := r.byteString()
	if err != nil {
		return Namespace{}, err
	}
	name, err := r.byteString()
	if err != nil {
		return Namespace{}, err
	}
	// Copy out of the shared buffer so the returned Namespace outlives it.
	return Namespace{
		Namespace: append([]byte(nil), ns...),
		TrackName: append([]byte(nil), name...),
	}, nil
}
