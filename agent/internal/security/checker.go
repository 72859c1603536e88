package security

import (
	"crypto/tls"
	"math"
	"time"
)

// Certificate states reported in CertStatus.Status.
const (
	CertValid    = "valid"
	CertExpiring = "expiring"
	CertExpired  = "expired"
)

// expiringWithin is the window in which a still-valid certificate is
// reported as expiring.
const expiringWithin = 30 * 24 * time.Hour

// CertStatus describes the leaf certificate presented by a target.
type CertStatus struct {
	NotAfter time.Time
	Issuer   string
	Subject  string
	DaysLeft float64
	Status   string
}

// Inspect returns a CertStatus describing the leaf certificate of an
// established TLS connection, evaluated at now.
//
// Returns nil for plain-HTTP exchanges (cs == nil) or when the peer sent no
// certificate, since there is nothing to inspect.
func Inspect(cs *tls.ConnectionState, now time.Time) *CertStatus {
	if cs == nil || len(cs.PeerCertificates) == 0 {
		return nil
	}

	leaf := cs.PeerCertificates[0]
	left := leaf.NotAfter.Sub(now)

	st := &CertStatus{
		NotAfter: leaf.NotAfter.UTC(),
		Issuer:   leaf.Issuer.CommonName,
		Subject:  leaf.Subject.CommonName,
		DaysLeft: math.Floor(left.Hours()/24*100) / 100,
	}

	switch {
	case left <= 0:
		st.Status = CertExpired
	case left <= expiringWithin:
		st.Status = CertExpiring
	default:
		st.Status = CertValid
	}
	return st
}
