// Package fingerprint derives a best-effort device identifier for trial-abuse
// detection.
//
// The value is a 32-character hex digest. When the browser supplies its own
// device hint in the X-Device-Fingerprint header (for example a visitor id
// computed by a client-side library), the digest is taken over that hint so
// it survives IP changes; otherwise it is computed from request signals: user
// agent, Accept headers, client IP and the set of browser-specific headers
// present.
//
// A fingerprint is not an identity. It is spoofable and can collide, and the
// metering code only uses it to carry trial consumption from one account to
// the next on the same device.
package fingerprint
