// Package gateway defines the contract of the remote backend the stores delegate to:
// document storage, queries and authentication.
package gateway

import (
	"context"
	"errors"

	"github.com/goccy/go-json"
)

const (
	CollectionUsers    = "users"
	CollectionChannels = "channels"
	CollectionMessages = "messages"
)

var (
	ErrNotFound           = errors.New("document not found")
	ErrAlreadyExists      = errors.New("document already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailInUse         = errors.New("email already in use")
	ErrWeakPassword       = errors.New("password should be at least 6 characters")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrNoUser             = errors.New("no user logged in")
	ErrInvalidActionCode  = errors.New("invalid or expired action code")
	ErrPopupClosed        = errors.New("popup closed by user")
)

// Document is a snapshot entry: the document id and its JSON payload
type Document struct {
	ID   string
	Data []byte
}

// DataTo decodes the payload into v
func (d Document) DataTo(v interface{}) error {
	return json.Unmarshal(d.Data, v)
}

// Fields is a partial document patch keyed by top-level field name
type Fields map[string]interface{}

// Documents is document CRUD and query over named collections
type Documents interface {
	// Create stores data under a server-generated id and returns it
	Create(ctx context.Context, collection string, data interface{}) (string, error)
	// Set stores data under the given id, replacing any existing document
	Set(ctx context.Context, collection, id string, data interface{}) error
	Get(ctx context.Context, collection, id string) (Document, error)
	// Update merges fields into an existing document
	Update(ctx context.Context, collection, id string, fields Fields) error
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, collection string, q Query) ([]Document, error)
}

// ArrayMutator is implemented by backends able to add or remove array elements
// in a single atomic operation on the remote document
type ArrayMutator interface {
	ArrayUnion(ctx context.Context, collection, id, field string, values ...string) error
	ArrayRemove(ctx context.Context, collection, id, field string, values ...string) error
}
