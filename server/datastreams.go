package server

import (
	"database/sql"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/julienschmidt/httprouter"

	"github.com/ndlib/repod/db"
	"github.com/ndlib/repod/filestore"
	"github.com/ndlib/repod/repo"
)

// DatastreamInfo is the JSON profile of a datastream.
type DatastreamInfo struct {
	DSID         string         `json:"dsid"`
	Label        string         `json:"label"`
	State        string         `json:"state"`
	ControlGroup string         `json:"controlGroup"`
	Versioned    bool           `json:"versioned"`
	MimeType     string         `json:"mimeType,omitempty"`
	Size         int64          `json:"size,omitempty"`
	Location     string         `json:"location,omitempty"`
	LocationType string         `json:"locationType,omitempty"`
	Checksums    []ChecksumInfo `json:"checksums,omitempty"`
	Created      string         `json:"created"`
	Modified     string         `json:"modified"`
}

// ChecksumInfo is one stored digest.
type ChecksumInfo struct {
	Type   string `json:"type"`
	Digest string `json:"digest"`
}

// openDatastream is openObject plus the datastream named in the route.
func (s *RESTServer) openDatastream(w http.ResponseWriter, ps httprouter.Params) (*sqlx.Tx, *db.Object, *db.Datastream, bool) {
	tx, obj, ok := s.openObject(w, ps)
	if !ok {
		return nil, nil, nil, false
	}
	ds, err := db.GetDatastream(tx, obj.ID, ps.ByName("dsid"))
	if err != nil {
		tx.Rollback()
		writeError(w, err)
		return nil, nil, nil, false
	}
	return tx, obj, ds, true
}

func (s *RESTServer) datastreamInfo(tx *sqlx.Tx, pid repo.PID, ds *db.Datastream) (DatastreamInfo, error) {
	info := DatastreamInfo{
		DSID:         ds.DSID,
		Label:        ds.Label,
		State:        ds.State.Name(),
		ControlGroup: string(ds.ControlGroup),
		Versioned:    ds.Versioned,
		Created:      repo.FormatTime(ds.Created),
		Modified:     repo.FormatTime(ds.Modified),
	}
	if !ds.ResourceID.Valid {
		return info, nil
	}
	res, err := db.GetResource(tx, ds.ResourceID.Int64)
	if err != nil {
		return info, err
	}
	info.MimeType, err = db.MimeName(tx, res.MimeID)
	if err != nil {
		return info, err
	}
	switch ds.ControlGroup {
	case repo.GroupRedirect:
		info.Location = res.URI
		info.LocationType = "URL"
	default:
		info.Location = s.BaseURL + "/objects/" + pid.String() +
			"/datastreams/" + ds.DSID + "/content"
		info.LocationType = "INTERNAL_ID"
		info.Size, err = s.FS.Size(res.URI)
		if err != nil {
			return info, err
		}
	}
	sums, err := db.GetChecksums(tx, ds.ResourceID.Int64)
	if err != nil {
		return info, err
	}
	for _, sum := range sums {
		info.Checksums = append(info.Checksums, ChecksumInfo{Type: sum.Type, Digest: sum.Checksum})
	}
	return info, nil
}

// ListDatastreamsHandler lists an object's datastreams.
//
// GET /objects/:pid/datastreams
func (s *RESTServer) ListDatastreamsHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	tx, obj, ok := s.openObject(w, ps)
	if !ok {
		return
	}
	defer tx.Rollback()
	pid, err := db.ObjectPID(tx, obj.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	streams, err := db.ListDatastreams(tx, obj.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]DatastreamInfo, 0, len(streams))
	for i := range streams {
		info, err := s.datastreamInfo(tx, pid, &streams[i])
		if err != nil {
			writeError(w, err)
			return
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, out)
}

// landContent turns the request into a content resource for a
// datastream, either by stashing the request body, adopting a
// previously uploaded resource, or recording an external URL for a
// redirect datastream. It returns an invalid id when the request
// carries no content.
func (s *RESTServer) landContent(tx *sqlx.Tx, r *http.Request, group repo.ControlGroup, mime string) (sql.NullInt64, error) {
	var out sql.NullInt64
	location := r.URL.Query().Get("location")
	switch {
	case group == repo.GroupExternal:
		return out, repo.UnsupportedStorageClassf("externally referenced datastreams are not stored")
	case group == repo.GroupRedirect:
		if location == "" {
			return out, repo.InvalidArgumentf("redirect datastreams need a location")
		}
		mimeID, err := db.UpsertMime(tx, mime)
		if err != nil {
			return out, err
		}
		out.Int64, err = db.UpsertResource(tx, location, mimeID)
		if err != nil {
			return out, err
		}
		out.Valid = true
		return out, db.TouchResource(tx, out.Int64)
	case strings.HasPrefix(location, filestore.SchemeUploaded+"://"):
		id, err := db.ResourceID(tx, location)
		if err != nil {
			return out, err
		}
		if _, err := s.FS.Adopt(tx, id); err != nil {
			return out, err
		}
		out.Int64, out.Valid = id, true
		return out, nil
	case location != "":
		return out, repo.InvalidArgumentf("bad location %q", location)
	case r.ContentLength != 0:
		id, _, err := s.FS.StashTx(tx, filestore.SchemeDatastream, r.Body, mime)
		if err != nil {
			return out, err
		}
		out.Int64, out.Valid = id, true
		return out, nil
	}
	return out, nil
}

// verifyChecksum applies the checksumType/checksum query parameters to
// a freshly landed resource. Redirect datastreams have no local bytes
// to digest, so the parameters are rejected there.
func (s *RESTServer) verifyChecksum(tx *sqlx.Tx, r *http.Request, group repo.ControlGroup, resID sql.NullInt64) error {
	algorithm := r.URL.Query().Get("checksumType")
	expected := r.URL.Query().Get("checksum")
	if algorithm == "" && expected == "" {
		return nil
	}
	if !resID.Valid {
		return repo.InvalidArgumentf("checksum given but no content")
	}
	if group == repo.GroupRedirect {
		return repo.InvalidArgumentf("redirect datastreams carry no stored digest")
	}
	_, err := s.FS.UpdateChecksum(tx, resID.Int64, algorithm, expected)
	return err
}

// CreateDatastreamHandler adds a datastream to an object. Content
// comes from the request body, or from a previously uploaded resource
// named by ?location=uploaded://..., or for control group R the
// location is the external URL itself.
//
// POST /objects/:pid/datastreams/:dsid?controlGroup=M&mimeType=...&label=...&versionable=true&state=A&checksumType=...&checksum=...&logMessage=...
func (s *RESTServer) CreateDatastreamHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	q := r.URL.Query()
	group := repo.ControlGroup(q.Get("controlGroup"))
	if group == "" {
		group = repo.GroupManaged
	}
	var err error
	if group, err = repo.ParseControlGroup(string(group)); err != nil {
		writeError(w, err)
		return
	}
	mime := q.Get("mimeType")
	if mime == "" {
		mime = "application/octet-stream"
	}
	state := repo.StateActive
	if v := q.Get("state"); v != "" {
		if state, err = repo.ParseState(v); err != nil {
			writeError(w, err)
			return
		}
	}

	tx, obj, ok := s.openObject(w, ps)
	if !ok {
		return
	}
	resID, err := s.landContent(tx, r, group, mime)
	if err != nil {
		s.abort(tx)
		writeError(w, err)
		return
	}
	if err := s.verifyChecksum(tx, r, group, resID); err != nil {
		s.abort(tx)
		writeError(w, err)
		return
	}
	ds := &db.Datastream{
		ObjectID:     obj.ID,
		DSID:         ps.ByName("dsid"),
		Label:        q.Get("label"),
		ControlGroup: group,
		ResourceID:   resID,
		Versioned:    q.Get("versionable") != "false",
		State:        state,
	}
	if msg := q.Get("logMessage"); msg != "" {
		logID, err := db.UpsertLog(tx, msg)
		if err != nil {
			s.abort(tx)
			writeError(w, err)
			return
		}
		ds.LogID.Int64, ds.LogID.Valid = logID, true
	}
	if err := db.CreateDatastream(tx, ds); err != nil {
		s.abort(tx)
		writeError(w, err)
		return
	}
	if !s.commit(w, tx) {
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"dsid":     ds.DSID,
		"modified": repo.FormatTime(ds.Modified),
	})
}

// DatastreamHandler returns a datastream profile, optionally as it
// stood at an earlier time.
//
// GET /objects/:pid/datastreams/:dsid?asOfDateTime=...
func (s *RESTServer) DatastreamHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	asOf, err := timeParam(r, "asOfDateTime")
	if err != nil {
		writeError(w, err)
		return
	}
	tx, obj, ds, ok := s.openDatastream(w, ps)
	if !ok {
		return
	}
	defer tx.Rollback()
	if asOf != nil {
		ds, err = db.DatastreamAsOf(tx, obj.ID, ds.DSID, *asOf)
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
	info, err := s.datastreamInfo(tx, pid, ds)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// UpdateDatastreamHandler modifies a datastream. A request body or
// location parameter replaces the content; metadata changes ride in
// query parameters. The lastModifiedDate parameter makes the update
// conditional.
//
// PUT /objects/:pid/datastreams/:dsid?label=...&state=...&versionable=...&mimeType=...&lastModifiedDate=...
func (s *RESTServer) UpdateDatastreamHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	expected, err := timeParam(r, "lastModifiedDate")
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	tx, _, ds, ok := s.openDatastream(w, ps)
	if !ok {
		return
	}
	if v := q.Get("label"); v != "" {
		ds.Label = v
	}
	if v := q.Get("state"); v != "" {
		if ds.State, err = repo.ParseState(v); err != nil {
			s.abort(tx)
			writeError(w, err)
			return
		}
	}
	if v := q.Get("versionable"); v != "" {
		ds.Versioned = v != "false"
	}
	mime := q.Get("mimeType")
	if mime == "" {
		mime = "application/octet-stream"
	}
	resID, err := s.landContent(tx, r, ds.ControlGroup, mime)
	if err != nil {
		s.abort(tx)
		writeError(w, err)
		return
	}
	if resID.Valid {
		if err := s.verifyChecksum(tx, r, ds.ControlGroup, resID); err != nil {
			s.abort(tx)
			writeError(w, err)
			return
		}
		ds.ResourceID = resID
	}
	if msg := q.Get("logMessage"); msg != "" {
		logID, err := db.UpsertLog(tx, msg)
		if err != nil {
			s.abort(tx)
			writeError(w, err)
			return
		}
		ds.LogID.Int64, ds.LogID.Valid = logID, true
	}
	if err := db.UpdateDatastream(tx, ds, expected); err != nil {
		s.abort(tx)
		writeError(w, err)
		return
	}
	if !s.commit(w, tx) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"modified": repo.FormatTime(ds.Modified)})
}

// DeleteDatastreamHandler removes a datastream, or with a startDT/endDT
// range only the committed versions inside it.
//
// DELETE /objects/:pid/datastreams/:dsid?startDT=...&endDT=...
func (s *RESTServer) DeleteDatastreamHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
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
	tx, _, ds, ok := s.openDatastream(w, ps)
	if !ok {
		return
	}
	if err := db.DeleteDatastreamVersions(tx, ds.ID, start, end); err != nil {
		s.abort(tx)
		writeError(w, err)
		return
	}
	if !s.commit(w, tx) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ContentHandler streams datastream content. Redirect datastreams
// answer with a redirect to their external URL instead of a body.
//
// GET /objects/:pid/datastreams/:dsid/content?asOfDateTime=...
func (s *RESTServer) ContentHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	asOf, err := timeParam(r, "asOfDateTime")
	if err != nil {
		writeError(w, err)
		return
	}
	tx, obj, ds, ok := s.openDatastream(w, ps)
	if !ok {
		return
	}
	defer tx.Rollback()
	if asOf != nil {
		ds, err = db.DatastreamAsOf(tx, obj.ID, ds.DSID, *asOf)
		if err != nil {
			writeError(w, err)
			return
		}
	}
	if !ds.ResourceID.Valid {
		writeError(w, repo.NotFoundf("datastream %s has no content", ds.DSID))
		return
	}
	res, err := db.GetResource(tx, ds.ResourceID.Int64)
	if err != nil {
		writeError(w, err)
		return
	}
	if ds.ControlGroup == repo.GroupRedirect {
		http.Redirect(w, r, res.URI, http.StatusFound)
		return
	}
	mime, err := db.MimeName(tx, res.MimeID)
	if err != nil {
		writeError(w, err)
		return
	}
	f, err := s.FS.Open(res.URI)
	if err != nil {
		writeError(w, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	if r.Method == "HEAD" {
		return
	}
	io.Copy(w, f)
}

// DatastreamHistoryHandler lists a datastream's versions, oldest
// first, the current one last.
//
// GET /objects/:pid/datastreams/:dsid/history
func (s *RESTServer) DatastreamHistoryHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	tx, _, ds, ok := s.openDatastream(w, ps)
	if !ok {
		return
	}
	defer tx.Rollback()
	olds, err := db.ListDatastreamVersions(tx, ds.ID)
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
		Committed: repo.FormatTime(ds.Modified),
		State:     ds.State.Name(),
		Label:     ds.Label,
		Current:   true,
	})
	writeJSON(w, http.StatusOK, out)
}
