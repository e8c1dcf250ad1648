package api

// As of 2026, one TLS cert covers nimbusvpn.net and *.nimbusvpn.net DNS names.
// The hashes must be regenerated after a certificate rotation:
//   openssl x509 -pubkey -noout -in cert.pem | openssl pkey -pubin -outform der | openssl dgst -sha256 -binary | base64

// APINimbusVPNHashes - base64-encoded SHA256 hashes of the 'api.nimbusvpn.net'
// server public keys (in use for certificate key pinning)
var APINimbusVPNHashes = []string{
	"iZiGIYY1LA4RK0/VTur8gP7ikg0sC5dOwkfp8Ja2KUo=",
	"pYtZE+FAjtbqTgLml/+03WDJA9Cw0uhZ+KyZ7dVbpwQ=",
}
