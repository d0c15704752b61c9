package repository

import "github.com/cryptalk/go-cryptalk-server/types"

const (
	// CouchDB database names
	PublicKeys    = "publickeys"    // user id -> published public key envelope
	Conversations = "conversations" // immutable conversation records with wrapped keys
	Messages      = "messages"      // append-only encrypted messages
	Nonce         = "nonce"         // single-use login challenges
)

type CouchDBSelector struct {
	dbs []Repository
}

func NewCouchDBSelector() *CouchDBSelector {
	return &CouchDBSelector{}
}

// adds a database to the database selector
func (c *CouchDBSelector) AddDB(db Repository) {
	c.dbs = append(c.dbs, db)
}

// returns the required database
func (c *CouchDBSelector) ChooseDB(dbName string) (Repository, error) {
	if len(c.dbs) == 0 {
		return nil, types.ErrNotFound
	}
	for i, r := range c.dbs {
		if r.GetDBName() == dbName {
			return c.dbs[i], nil
		}
	}
	return nil, types.ErrNotFound
}
