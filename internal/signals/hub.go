package signals

// ConfigurationLoaded carries the names of the configuration sources applied
type ConfigurationLoaded struct {
	Sources []string
}

// IdentityLoaded is sent after a request identity has been resolved
type IdentityLoaded struct {
	Principal     string
	AccountID     int64
	Authenticated bool
	Needs         []string
}

// IdentityChanged is sent when a request switches identity (sign-in/out)
type IdentityChanged struct {
	Principal string
	AccountID int64
}

// Hub groups the application's signals
type Hub struct {
	ConfigurationLoaded *Signal[ConfigurationLoaded]
	IdentityLoaded      *Signal[IdentityLoaded]
	IdentityChanged     *Signal[IdentityChanged]
}

// NewHub creates a hub with every signal unconnected
func NewHub() *Hub {
	return &Hub{
		ConfigurationLoaded: New[ConfigurationLoaded]("configuration-loaded"),
		IdentityLoaded:      New[IdentityLoaded]("identity-loaded"),
		IdentityChanged:     New[IdentityChanged]("identity-changed"),
	}
}
