package server

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"github.com/ndlib/repod/db"
	"github.com/ndlib/repod/foxml"
	"github.com/ndlib/repod/relations"
	"github.com/ndlib/repod/repo"
)

// ObjectInfo is the JSON profile of an object.
type ObjectInfo struct {
	PID       string `json:"pid"`
	State     string `json:"state"`
	Label     string `json:"label"`
	Owner     string `json:"owner"`
	Versioned bool   `json:"versioned"`
	Created   string `json:"created"`
	Modified  string `json:"modified"`
}

func objectInfo(pid repo.PID, obj *db.Object, owner string) ObjectInfo {
	return ObjectInfo{
		PID:       pid.String(),
		State:     obj.State.Name(),
		Label:     obj.Label,
		Owner:     owner,
		Versioned: obj.Versioned,
		Created:   repo.FormatTime(obj.Created),
		Modified:  repo.FormatTime(obj.Modified),
	}
}

// NextPIDHandler allocates persistent identifiers.
//
// POST /nextPID?namespace=ns&count=n
func (s *RESTServer) NextPIDHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	namespace := r.URL.Query().Get("namespace")
	if namespace == "" {
		writeError(w, repo.InvalidArgumentf("namespace is required"))
		return
	}
	count := 1
	if v := r.URL.Query().Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, repo.InvalidArgumentf("bad count %q", v))
			return
		}
		count = n
	}
	tx, err := s.DB.Begin()
	if err != nil {
		writeError(w, err)
		return
	}
	first, last, err := db.AllocatePIDs(tx, namespace, count)
	if err != nil {
		s.abort(tx)
		writeError(w, err)
		return
	}
	if !s.commit(w, tx) {
		return
	}
	pids := make([]string, 0, count)
	for i := first; i <= last; i++ {
		pids = append(pids, fmt.Sprintf("%s%s%d", namespace, repo.PIDSeparator, i))
	}
	writeJSON(w, http.StatusOK, map[string][]string{"pids": pids})
}

// IngestHandler creates an object from a FOXML document in the request
// body. With ?force=true an existing object under the same PID is
// purged and replaced.
//
// POST /objects?force=true
func (s *RESTServer) IngestHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	// the document is buffered so a forced reingest can reread it
	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	force := r.URL.Query().Get("force") == "true"
	tx, err := s.DB.Begin()
	if err != nil {
		writeError(w, err)
		return
	}
	results := s.importer().ImportBatch(tx, []io.ReadSeeker{bytes.NewReader(body)}, force)
	res := results[0]
	if res.Err != nil {
		s.abort(tx)
		writeError(w, res.Err)
		return
	}
	if !s.commit(w, tx) {
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"pid": res.PID.String()})
}

// ObjectHandler returns an object profile, optionally as it stood at
// an earlier time.
//
// GET /objects/:pid?asOfDateTime=...
func (s *RESTServer) ObjectHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	asOf, err := timeParam(r, "asOfDateTime")
	if err != nil {
		writeError(w, err)
		return
	}
	tx, obj, ok := s.openObject(w, ps)
	if !ok {
		return
	}
	defer tx.Rollback()
	if asOf != nil {
		obj, err = db.ObjectAsOf(tx, obj.ID, *asOf)
		if err != nil {
			writeError(w, err)
			return
		}
	}
	pid, err := db.ObjectPID(tx, obj.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	owner, err := db.UserName(tx, obj.OwnerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, objectInfo(pid, obj, owner))
}

// objectUpdate is the JSON body accepted by UpdateObjectHandler. nil
// fields are left alone.
type objectUpdate struct {
	State      *string `json:"state"`
	Label      *string `json:"label"`
	Owner      *string `json:"owner"`
	Versioned  *bool   `json:"versioned"`
	LogMessage *string `json:"logMessage"`
}

// UpdateObjectHandler modifies an object's properties. The
// lastModifiedDate query parameter, when present, makes the update
// conditional on the object not having changed since then.
//
// PUT /objects/:pid?lastModifiedDate=...
func (s *RESTServer) UpdateObjectHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	expected, err := timeParam(r, "lastModifiedDate")
	if err != nil {
		writeError(w, err)
		return
	}
	var upd objectUpdate
	if err := decodeJSON(r, &upd); err != nil {
		writeError(w, err)
		return
	}
	tx, obj, ok := s.openObject(w, ps)
	if !ok {
		return
	}
	if upd.State != nil {
		obj.State, err = repo.ParseState(*upd.State)
		if err != nil {
			s.abort(tx)
			writeError(w, err)
			return
		}
	}
	if upd.Label != nil {
		obj.Label = *upd.Label
	}
	if upd.Versioned != nil {
		obj.Versioned = *upd.Versioned
	}
	if upd.Owner != nil {
		obj.OwnerID, err = db.UpsertUser(tx, *upd.Owner, s.Identity.SourceID)
		if err != nil {
			s.abort(tx)
			writeError(w, err)
			return
		}
	}
	if upd.LogMessage != nil {
		logID, err := db.UpsertLog(tx, *upd.LogMessage)
		if err != nil {
			s.abort(tx)
			writeError(w, err)
			return
		}
		obj.LogID.Int64, obj.LogID.Valid = logID, true
	}
	if err := db.UpdateObject(tx, obj, expected); err != nil {
		s.abort(tx)
		writeError(w, err)
		return
	}
	if !s.commit(w, tx) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"modified": repo.FormatTime(obj.Modified)})
}

// DeleteObjectHandler purges an object, its datastreams, content
// references and relationships. An object that other objects still
// point at cannot be purged.
//
// DELETE /objects/:pid
func (s *RESTServer) DeleteObjectHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	tx, obj, ok := s.openObject(w, ps)
	if !ok {
		return
	}
	referenced, err := relations.IsReferenced(tx, obj.ID)
	if err != nil {
		s.abort(tx)
		writeError(w, err)
		return
	}
	if referenced {
		s.abort(tx)
		writeError(w, repo.Conflictf("object %s is referenced by other objects", ps.ByName("pid")))
		return
	}
	if err := relations.PurgeObject(tx, obj.ID); err != nil {
		s.abort(tx)
		writeError(w, err)
		return
	}
	if !s.commit(w, tx) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExportHandler streams an object as FOXML. ?context=archive inlines
// managed content as base64.
//
// GET /objects/:pid/export?context=archive
func (s *RESTServer) ExportHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	tx, obj, ok := s.openObject(w, ps)
	if !ok {
		return
	}
	defer tx.Rollback()
	opts := foxml.ExportOptions{
		Archival: r.URL.Query().Get("context") == "archive",
		BaseURL:  s.BaseURL,
	}
	// buffered so a mid-export failure can still produce an error
	// response instead of a truncated document
	var buf bytes.Buffer
	if err := foxml.Export(tx, s.FS, obj.ID, &buf, opts); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.Write(buf.Bytes())
}

// VersionInfo is one entry in a version history.
type VersionInfo struct {
	Committed string `json:"committed"`
	State     string `json:"state"`
	Label     string `json:"label"`
	Current   bool   `json:"current,omitempty"`
}

// ObjectVersionsHandler lists an object's committed versions, oldest
// first, the current one last.
//
// GET /objects/:pid/versions
func (s *RESTServer) ObjectVersionsHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	tx, obj, ok := s.openObject(w, ps)
	if !ok {
		return
	}
	defer tx.Rollback()
	olds, err := db.ListObjectVersions(tx, obj.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]VersionInfo, 0, len(olds)+1)
	for _, old := range olds {
		out = append(out, VersionInfo{
			Committed: repo.FormatTime(old.Committed),
			State:     old.State.Name(),
			Label:     old.Label,
		})
	}
	out = append(out, VersionInfo{
		Committed: repo.FormatTime(obj.Modified),
		State:     obj.State.Name(),
		Label:     obj.Label,
		Current:   true,
	})
	writeJSON(w, http.StatusOK, out)
}

// DeleteObjectVersionsHandler drops committed object versions in a
// time range. With no range the whole history is cleared.
//
// DELETE /objects/:pid/versions?startDT=...&endDT=...
func (s *RESTServer) DeleteObjectVersionsHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	start, err := timeParam(r, "startDT")
	if err != nil {
		writeError(w, err)
		return
	}
	end, err := timeParam(r, "endDT")
	if err != nil {
		writeError(w, err)
		return
	}
	tx, obj, ok := s.openObject(w, ps)
	if !ok {
		return
	}
	if err := db.DeleteObjectVersions(tx, obj.ID, start, end); err != nil {
		s.abort(tx)
		writeError(w, err)
		return
	}
	if !s.commit(w, tx) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
