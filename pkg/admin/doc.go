// Package admin exposes the operator actions on the device registry:
// approving, rejecting, unblocking and marking devices critical. Every
// action leaves both an audit row and a security alert.
package admin
