// Package session runs one client connection attached to one thread.
//
// A session moves through Connecting, Authorizing, Subscribed and Closed.
// Authorization is checked against thread membership before the session
// joins the thread's broadcast group, and again before every mutating
// action. While subscribed, two goroutines share the connection: the read
// loop decodes inbound actions and dispatches them to the message service,
// and the write loop drains the group subscription to the client. Leaving
// the group, presence and typing state happens on every exit path.
package session
