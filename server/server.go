// Package server is a thin REST adapter over the storage engine. Each
// handler opens a transaction, calls the engine, and maps typed engine
// errors to status codes. No repository semantics live here.
package server

import (
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // for pprof server
	"time"

	"github.com/facebookgo/httpdown"
	"github.com/jmoiron/sqlx"
	"github.com/julienschmidt/httprouter"

	"github.com/ndlib/repod/db"
	"github.com/ndlib/repod/filestore"
	"github.com/ndlib/repod/foxml"
	"github.com/ndlib/repod/idcache"
	"github.com/ndlib/repod/relations"
	"github.com/ndlib/repod/repo"
)

// RESTServer holds the configuration for a repod REST API server.
//
// Set the public fields and then call Run. Run will listen on the given
// port and handle requests until Stop is called. Do not change any
// fields after calling Run.
type RESTServer struct {
	// Port number to listen on. Defaults to 14000.
	PortNumber string
	PProfPort  string

	// DB is the open repository database. Run panics if DB is nil.
	DB *db.DB

	// FS stores datastream content. Run panics if FS is nil.
	FS *filestore.Store

	// IDs caches identifier lookups across requests. If nil a cache
	// with default capacity is created.
	IDs *idcache.Cache

	// Identity attributes writes made through this server.
	Identity repo.Identity

	// BaseURL prefixes internal content locations in FOXML exports,
	// e.g. "http://repod.example.edu:14000".
	BaseURL string

	rels   *relations.Engine
	server httpdown.Server // used to close our listening socket
}

// Run initializes the server and then blocks listening for and
// handling http requests.
func (s *RESTServer) Run() error {
	log.Println("==========")
	log.Printf("Starting repod server version %s", Version)

	if s.DB == nil {
		panic("No database given. DB is nil.")
	}
	if s.FS == nil {
		panic("No content store given. FS is nil.")
	}
	if s.IDs == nil {
		s.IDs = idcache.New(idcache.DefaultMaxEntries)
	}
	s.rels = relations.NewEngine(s.IDs)
	if s.PortNumber == "" {
		s.PortNumber = "14000"
	}

	// for pprof
	if s.PProfPort != "" {
		log.Println("Starting PProf on port", s.PProfPort)
		go func() {
			log.Println(http.ListenAndServe(":"+s.PProfPort, nil))
		}()
	}
	log.Println("Listening on", s.PortNumber)

	var err error
	h := httpdown.HTTP{}
	s.server, err = h.ListenAndServe(&http.Server{
		Addr:    ":" + s.PortNumber,
		Handler: s.addRoutes(),
	})
	if err != nil {
		log.Println(err)
		return err
	}
	return s.server.Wait()
}

// Stop shuts down the listening socket and waits for in-flight
// requests to drain.
func (s *RESTServer) Stop() error {
	return s.server.Stop()
}

func (s *RESTServer) addRoutes() http.Handler {
	if s.IDs == nil {
		s.IDs = idcache.New(idcache.DefaultMaxEntries)
	}
	if s.rels == nil {
		s.rels = relations.NewEngine(s.IDs)
	}
	var routes = []struct {
		method  string
		route   string
		handler httprouter.Handle
	}{
		{"POST", "/nextPID", s.NextPIDHandler},

		{"POST", "/objects", s.IngestHandler},
		{"GET", "/objects/:pid", s.ObjectHandler},
		{"PUT", "/objects/:pid", s.UpdateObjectHandler},
		{"DELETE", "/objects/:pid", s.DeleteObjectHandler},
		{"GET", "/objects/:pid/export", s.ExportHandler},
		{"GET", "/objects/:pid/versions", s.ObjectVersionsHandler},
		{"DELETE", "/objects/:pid/versions", s.DeleteObjectVersionsHandler},

		{"GET", "/objects/:pid/datastreams", s.ListDatastreamsHandler},
		{"POST", "/objects/:pid/datastreams/:dsid", s.CreateDatastreamHandler},
		{"GET", "/objects/:pid/datastreams/:dsid", s.DatastreamHandler},
		{"PUT", "/objects/:pid/datastreams/:dsid", s.UpdateDatastreamHandler},
		{"DELETE", "/objects/:pid/datastreams/:dsid", s.DeleteDatastreamHandler},
		{"GET", "/objects/:pid/datastreams/:dsid/content", s.ContentHandler},
		{"HEAD", "/objects/:pid/datastreams/:dsid/content", s.ContentHandler},
		{"GET", "/objects/:pid/datastreams/:dsid/history", s.DatastreamHistoryHandler},

		{"POST", "/upload", s.UploadHandler},

		{"GET", "/", WelcomeHandler},
	}

	r := httprouter.New()
	for _, route := range routes {
		r.Handle(route.method, route.route, logWrapper(route.handler))
	}
	return r
}

// WelcomeHandler identifies the server.
func WelcomeHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	fmt.Fprintf(w, "repod (%s)\n", Version)
}

// logWrapper takes a handler and returns a handler which does the same
// thing, after first logging the request URL.
func logWrapper(handler httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		log.Println(r.Method, r.URL)
		handler(w, r, ps)
	}
}

func (s *RESTServer) importer() *foxml.Importer {
	return &foxml.Importer{
		FS:       s.FS,
		IDs:      s.IDs,
		Rels:     s.rels,
		Identity: s.Identity,
	}
}

// openObject begins a transaction and loads the object named in the
// route. On failure the error response is written and the transaction
// rolled back; callers must not touch tx when ok is false.
func (s *RESTServer) openObject(w http.ResponseWriter, ps httprouter.Params) (*sqlx.Tx, *db.Object, bool) {
	pid, err := repo.ParsePID(ps.ByName("pid"))
	if err != nil {
		writeError(w, err)
		return nil, nil, false
	}
	tx, err := s.DB.Begin()
	if err != nil {
		writeError(w, err)
		return nil, nil, false
	}
	obj, err := db.GetObjectByPID(tx, pid)
	if err != nil {
		tx.Rollback()
		writeError(w, err)
		return nil, nil, false
	}
	return tx, obj, true
}

// abort rolls a write transaction back and drops the identifier cache,
// since ids upserted inside the transaction may never have committed.
func (s *RESTServer) abort(tx *sqlx.Tx) {
	tx.Rollback()
	s.IDs.Clear()
}

// commit finishes a write transaction, reporting a commit failure to
// the client and clearing the identifier cache on the way out.
func (s *RESTServer) commit(w http.ResponseWriter, tx *sqlx.Tx) bool {
	if err := tx.Commit(); err != nil {
		s.IDs.Clear()
		writeError(w, err)
		return false
	}
	return true
}

// timeParam parses an optional timestamp query parameter. A missing
// parameter returns nil.
func timeParam(r *http.Request, name string) (*time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	t, err := repo.ParseTime(v)
	if err != nil {
		return nil, repo.InvalidArgumentf("bad %s %q", name, v)
	}
	return &t, nil
}
