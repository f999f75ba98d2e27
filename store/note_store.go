package store

import (
	"context"
	"net/http"
	"time"

	couchdb "github.com/go-kivik/couchdb/v3"
	kivik "github.com/go-kivik/kivik/v3"
	log "github.com/sirupsen/logrus"

	se "fanwall.io/notes/errors"
	md "fanwall.io/notes/models"
)

// NoteStore provides mechanism to persist and query fan notes
type NoteStore interface {
	Insert(n *md.Note) *se.Err
	// CountSince counts notes submitted by hashedID at or after since. It is
	// the rate limiter's view over note history
	CountSince(hashedID string, since time.Time) (int, *se.Err)
	// List returns the approved notes of window [page*limit, page*limit+limit-1]
	// ordered by creation time descending, together with the total approved
	// count for client-side pagination
	List(limit, page int) ([]*md.Note, int, *se.Err)
	Close() *se.Err
}

const (
	// per-call deadline towards CouchDB
	couchRequestTimeout = 5 * time.Second
	// upper bound on documents scanned by counting queries
	countScanLimit = 100000
)

// CouchNoteStore implements NoteStore with CouchDB via kivik
type CouchNoteStore struct {
	client *kivik.Client
	db     *kivik.DB
}

type CouchConfig struct {
	Addr   string
	DBName string
	// Username/Passwd are optional for local single-node setups
	Username, Passwd string
	RT               http.RoundTripper
}

func NewCouchNoteStore(cfg *CouchConfig) (*CouchNoteStore, *se.Err) {
	client, err := kivik.New("couch", cfg.Addr)
	if err != nil {
		return nil, se.ErrServiceFailure("error creating CouchDB client").WithCause(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), couchRequestTimeout)
	defer cancel()
	// the couch driver takes a custom transport as an Authenticator
	if cfg.RT != nil {
		if err := client.Authenticate(ctx, couchdb.SetTransport(cfg.RT)); err != nil {
			return nil, se.ErrServiceFailure("error installing CouchDB transport").WithCause(err)
		}
	}
	if cfg.Username != "" {
		if err := client.Authenticate(ctx, couchdb.BasicAuth(cfg.Username, cfg.Passwd)); err != nil {
			return nil, se.ErrServiceFailure("error authenticating against CouchDB").WithCause(err)
		}
	}
	db := client.DB(ctx, cfg.DBName)
	if err := db.Err(); err != nil {
		return nil, se.ErrServiceFailure("error opening notes database").WithCause(err)
	}
	return &CouchNoteStore{client: client, db: db}, nil
}

// Ping verifies the backing CouchDB is reachable. Startup gates on it so the
// service never reports ready with an offline store.
func (s *CouchNoteStore) Ping(ctx context.Context) error {
	up, err := s.client.Ping(ctx)
	if err != nil {
		return err
	}
	if !up {
		return se.ErrServiceFailure("CouchDB is not up yet")
	}
	return nil
}

// EnsureIndexes creates the Mango indexes backing the count and list queries.
// Idempotent; CouchDB treats re-creation of an identical index as a no-op.
func (s *CouchNoteStore) EnsureIndexes(ctx context.Context) *se.Err {
	indexes := []struct {
		name   string
		fields []string
	}{
		{name: "notes-by-creation-time", fields: []string{"created_at"}},
		{name: "notes-by-submitter", fields: []string{"hashed_id", "created_at"}},
		{name: "notes-by-approval", fields: []string{"approved"}},
	}
	for _, idx := range indexes {
		if err := s.db.CreateIndex(ctx, "", idx.name, map[string]interface{}{
			"fields": idx.fields,
		}); err != nil {
			return se.ErrServiceFailure("error creating notes index " + idx.name).WithCause(err)
		}
	}
	return nil
}

func (s *CouchNoteStore) Insert(n *md.Note) *se.Err {
	clog := log.WithField("noteID", n.ID)
	ctx, cancel := context.WithTimeout(context.Background(), couchRequestTimeout)
	defer cancel()
	rev, err := s.db.Put(ctx, n.ID, n)
	if err != nil {
		clog.WithError(err).Error("error saving note to CouchDB")
		return se.ErrServiceFailure("error saving note").WithCause(err)
	}
	n.Rev = rev
	return nil
}

func (s *CouchNoteStore) CountSince(hashedID string, since time.Time) (int, *se.Err) {
	ctx, cancel := context.WithTimeout(context.Background(), couchRequestTimeout)
	defer cancel()
	rows, err := s.db.Find(ctx, map[string]interface{}{
		"selector": map[string]interface{}{
			"hashed_id": hashedID,
			"created_at": map[string]interface{}{
				"$gte": since.UTC().Format(time.RFC3339),
			},
		},
		"fields": []string{"_id"},
		"limit":  countScanLimit,
	})
	if err != nil {
		log.WithError(err).Error("error counting recent notes in CouchDB")
		return 0, se.ErrServiceFailure("error counting recent notes").WithCause(err)
	}
	defer rows.Close()
	cnt := 0
	for rows.Next() {
		cnt++
	}
	if err := rows.Err(); err != nil {
		log.WithError(err).Error("error iterating recent notes in CouchDB")
		return 0, se.ErrServiceFailure("error counting recent notes").WithCause(err)
	}
	return cnt, nil
}

func (s *CouchNoteStore) List(limit, page int) ([]*md.Note, int, *se.Err) {
	ctx, cancel := context.WithTimeout(context.Background(), couchRequestTimeout)
	defer cancel()
	// the $gt null clause lets Mango use the created_at index for the
	// descending sort
	rows, err := s.db.Find(ctx, map[string]interface{}{
		"selector": map[string]interface{}{
			"approved":   true,
			"created_at": map[string]interface{}{"$gt": nil},
		},
		"sort":  []map[string]string{{"created_at": "desc"}},
		"limit": limit,
		"skip":  page * limit,
	})
	if err != nil {
		log.WithError(err).Error("error listing notes in CouchDB")
		return nil, 0, se.ErrServiceFailure("error listing notes").WithCause(err)
	}
	defer rows.Close()
	notes := make([]*md.Note, 0, limit)
	for rows.Next() {
		n := &md.Note{}
		if err := rows.ScanDoc(n); err != nil {
			log.WithError(err).Error("error unmarshalling note from CouchDB")
			return nil, 0, se.ErrServiceFailure("error listing notes").WithCause(err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		log.WithError(err).Error("error iterating notes in CouchDB")
		return nil, 0, se.ErrServiceFailure("error listing notes").WithCause(err)
	}
	total, serr := s.countApproved(ctx)
	if serr != nil {
		return nil, 0, serr
	}
	return notes, total, nil
}

// countApproved returns the size of the full approved set, independent of the
// requested page
func (s *CouchNoteStore) countApproved(ctx context.Context) (int, *se.Err) {
	rows, err := s.db.Find(ctx, map[string]interface{}{
		"selector": map[string]interface{}{"approved": true},
		"fields":   []string{"_id"},
		"limit":    countScanLimit,
	})
	if err != nil {
		log.WithError(err).Error("error counting approved notes in CouchDB")
		return 0, se.ErrServiceFailure("error counting notes").WithCause(err)
	}
	defer rows.Close()
	cnt := 0
	for rows.Next() {
		cnt++
	}
	if err := rows.Err(); err != nil {
		log.WithError(err).Error("error iterating approved notes in CouchDB")
		return 0, se.ErrServiceFailure("error counting notes").WithCause(err)
	}
	return cnt, nil
}

func (s *CouchNoteStore) Close() *se.Err {
	if err := s.client.Close(context.Background()); err != nil {
		return se.ErrServiceFailure("error closing CouchDB client").WithCause(err)
	}
	return nil
}
