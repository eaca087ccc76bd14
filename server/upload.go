package server

import (
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"github.com/ndlib/repod/filestore"
)

// UploadHandler stages content for later ingest. The body is stashed
// under the uploaded scheme and the resulting resource URI returned;
// a datastream create or update can then adopt it by location. Staged
// content that nothing ever adopts ages out of the store through the
// garbage collector.
//
// POST /upload
func (s *RESTServer) UploadHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	mime := r.Header.Get("Content-Type")
	if mime == "" {
		mime = "application/octet-stream"
	}
	id, uri, err := s.FS.Stash(filestore.SchemeUploaded, r.Body, mime)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"id":  strconv.FormatInt(id, 10),
		"uri": uri,
	})
}
