package buildserver

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/saltstack/jema/internal/identity"
)

var (
	ErrServerNotFound  = errors.New("build server not found")
	ErrServerExists    = errors.New("build server already registered")
	ErrInvalidAddress  = errors.New("build server address must be an absolute http(s) URL")
	ErrMissingUsername = errors.New("build server username is required")
	ErrMissingToken    = errors.New("build server access token is required")
)

// tokenVisible is how many characters stay readable at each end of a
// masked access token.
const tokenVisible = 3

// Server is a registered Jenkins build server
type Server struct {
	ID          int64     `json:"id" db:"id"`
	Address     string    `json:"address" db:"address"`
	Username    string    `json:"username" db:"username"`
	AccessToken string    `json:"access_token" db:"access_token"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// MarshalJSON renders the server with its access token masked
func (s Server) MarshalJSON() ([]byte, error) {
	type plain Server
	p := plain(s)
	p.AccessToken = identity.MaskToken(s.AccessToken, tokenVisible)
	return json.Marshal(p)
}

// Repository defines the interface for build server storage
type Repository interface {
	// Create inserts the server and sets its ID. Returns ErrServerExists
	// when the address is taken.
	Create(ctx context.Context, server *Server) error
	GetByID(ctx context.Context, id int64) (*Server, error)
	List(ctx context.Context) ([]*Server, error)
	Delete(ctx context.Context, id int64) error
}
