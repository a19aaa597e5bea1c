package sctp

// paramForwardTSNSupported advertises partial reliability support
// (RFC 3758 section 3.1).
type paramForwardTSNSupported struct {
	paramHeader
}

func (f *paramForwardTSNSupported) marshal() ([]byte, error) {
	f.typ = ptForwardTSNSupp
	f.raw = []byte{}
	return f.paramHeader.marshal()
}

func (f *paramForwardTSNSupported) unmarshal(raw []byte) (param, error) {
	if err := f.paramHeader.unmarshal(raw); err != nil {
		return nil, err
	}
	return f, nil
}
