package sctp

import (
	"bytes"
	"time"
)

const (
	// cookieSize is the length of the random state cookie handed out in
	// INIT-ACK.
	cookieSize = 32

	// validCookieLife is how long an issued cookie is honored in
	// COOKIE-ECHO (RFC 4960 section 5.1.3 suggests 60 seconds).
	validCookieLife = 60 * time.Second
)

// cookieHolder is one issued state cookie awaiting its COOKIE-ECHO.
type cookieHolder struct {
	cookie    []byte
	createdAt time.Time
}

// cookieStore remembers the cookies this endpoint issued in INIT-ACK so a
// later COOKIE-ECHO can be validated against them. An INIT retransmitted
// by the peer produces a fresh cookie each time; all of them stay valid
// until the association establishes, after which a single one survives.
type cookieStore struct {
	cookies []*cookieHolder
}

func newCookieStore() *cookieStore {
	return &cookieStore{}
}

// issue mints and remembers a new random cookie.
func (s *cookieStore) issue() (*paramStateCookie, error) {
	param, err := newRandomStateCookie()
	if err != nil {
		return nil, err
	}
	s.cookies = append(s.cookies, &cookieHolder{
		cookie:    param.cookie,
		createdAt: time.Now(),
	})
	return param, nil
}

// find returns the stored holder matching the echoed bytes, if any.
func (s *cookieStore) find(echoed []byte) *cookieHolder {
	for _, h := range s.cookies {
		if bytes.Equal(h.cookie, echoed) {
			return h
		}
	}
	return nil
}

// staleness returns by how much the holder has outlived validCookieLife;
// zero or negative means still fresh.
func (h *cookieHolder) staleness(now time.Time) time.Duration {
	return now.Sub(h.createdAt) - validCookieLife
}

// retain drops every stored cookie except the one given. Called when the
// association reaches Established.
func (s *cookieStore) retain(h *cookieHolder) {
	if h == nil {
		s.cookies = nil
		return
	}
	s.cookies = []*cookieHolder{h}
}

func (s *cookieStore) size() int {
	return len(s.cookies)
}
