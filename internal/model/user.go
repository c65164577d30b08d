// Package model holds the persistence-facing domain records shared by the
// repositories, the session coordinator and the wire protocol.
package model

import "time"

// User is an identity record keyed by the external subject ID from the
// verified auth token. Created or refreshed on first authenticated
// connection; the server never handles credentials itself.
type User struct {
	ID          string
	DisplayName string
	Email       string
	LastIP      string
	CreatedAt   time.Time
	LastLoginAt time.Time
}
