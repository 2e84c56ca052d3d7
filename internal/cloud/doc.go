// Package cloud talks to the grill vendor's identity provider and device
// cloud over HTTPS.
//
// It has three layers:
//
//   - API performs single exchanges: credentials for a token, a token for
//     a signed broker URL (the lease), the device listing, and command
//     submission.
//   - Auth holds the current token and lease and replaces them when they
//     come within the renew window of expiry.
//   - Client wraps authenticated calls so every one runs with a fresh token.
//
// Commands are short strings such as "11,225" (set temperature to 225).
// Use the constructors in commands.go rather than building them by hand.
//
// Errors wrap ErrAuth, ErrLease, ErrDeviceList or ErrCommand. Network
// failures and 5xx responses additionally match ErrTransport; callers use
// that to tell "try again later" apart from "the cloud refused".
package cloud
