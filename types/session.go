package types

// BrowserSession is a capability token for one live automation target. It is
// bound to a single browser identifier and is held exclusively by at most one
// executing test at a time; the session pool hands it out and takes it back.
type BrowserSession struct {
	// BrowserID is the logical browser configuration this session belongs to.
	BrowserID string
	// SessionID is the opaque identifier assigned at establishment.
	SessionID string
	// Caps holds the capabilities the remote end resolved for the session.
	Caps map[string]any
	// Opts holds the launch options the session was established with.
	Opts map[string]any
}
