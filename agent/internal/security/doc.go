// Package security inspects the TLS certificate a target presents during a
// probe. The prober turns the result into the tls_cert_expiry_days
// measurement for https targets.
package security
