package sctp

// paramSupportedExtensions enumerates the extra chunk types the sender
// understands (RFC 5061 section 4.2.7). RE-CONFIG and FORWARD-TSN are the
// ones this implementation negotiates.
type paramSupportedExtensions struct {
	paramHeader
	ChunkTypes []chunkType
}

func (s *paramSupportedExtensions) marshal() ([]byte, error) {
	s.typ = ptSupportedExt
	s.raw = make([]byte, len(s.ChunkTypes))
	for i, c := range s.ChunkTypes {
		s.raw[i] = byte(c)
	}

	return s.paramHeader.marshal()
}

func (s *paramSupportedExtensions) unmarshal(raw []byte) (param, error) {
	if err := s.paramHeader.unmarshal(raw); err != nil {
		return nil, err
	}

	for _, t := range s.raw {
		s.ChunkTypes = append(s.ChunkTypes, chunkType(t))
	}
	return s, nil
}
