package foxml

import (
	"bytes"
	"database/sql"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/ndlib/repod/db"
	"github.com/ndlib/repod/filestore"
	"github.com/ndlib/repod/idcache"
	"github.com/ndlib/repod/relations"
	"github.com/ndlib/repod/repo"
)

// Importer rebuilds objects from FOXML documents.
type Importer struct {
	FS       *filestore.Store
	IDs      *idcache.Cache
	Rels     *relations.Engine
	Identity repo.Identity
	// Client fetches INTERNAL_ID content locations. nil means
	// http.DefaultClient.
	Client *http.Client
}

// dsData is a datastream element mid-parse.
type dsData struct {
	dsid         string
	state        repo.State
	controlGroup repo.ControlGroup
	versioned    bool
	versions     []versionData
}

// versionData is one datastreamVersion with its content already
// landed as a resource.
type versionData struct {
	label      string
	created    time.Time
	resourceID int64
	hasContent bool
	digests    [][2]string
	fragment   []byte
}

// Import reads one FOXML document and creates the object it
// describes. The PID is returned even on failure once it has been
// parsed, so callers can react to AlreadyExists. Errors leave the
// transaction dirty; roll back (and clear the identifier cache)
// rather than committing after one.
func (imp *Importer) Import(tx *sqlx.Tx, r io.Reader) (repo.PID, error) {
	dec := xml.NewDecoder(r)
	root, err := findRoot(dec)
	if err != nil {
		return repo.PID{}, err
	}
	pid, err := repo.ParsePID(attrValue(root, "", "PID"))
	if err != nil {
		return repo.PID{}, err
	}
	nsID, err := imp.IDs.ObjectNamespaceID(tx, pid.Namespace)
	if err != nil {
		return pid, err
	}
	if err := db.JumpPIDs(tx, nsID, pid.Local); err != nil {
		return pid, err
	}

	var obj *db.Object
	var streams []dsData
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return pid, repo.InvalidArgumentf("bad FOXML: %s", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "objectProperties":
			if obj != nil {
				return pid, repo.InvalidArgumentf("duplicate objectProperties")
			}
			obj, err = imp.createObject(tx, dec, pid, nsID)
			if err != nil {
				return pid, err
			}
		case "datastream":
			if obj == nil {
				return pid, repo.InvalidArgumentf("datastream before objectProperties")
			}
			ds, err := imp.parseDatastream(tx, dec, se)
			if err != nil {
				return pid, err
			}
			streams = append(streams, *ds)
		default:
			if err := dec.Skip(); err != nil {
				return pid, repo.InvalidArgumentf("bad FOXML: %s", err)
			}
		}
	}
	if obj == nil {
		return pid, repo.InvalidArgumentf("FOXML for %s has no objectProperties", pid)
	}

	index := make(map[string][]byte)
	dsIDs := make(map[string]int64)
	for i := range streams {
		id, fragment, err := imp.storeDatastream(tx, obj, &streams[i])
		if err != nil {
			return pid, err
		}
		dsIDs[streams[i].dsid] = id
		if fragment != nil {
			index[streams[i].dsid] = fragment
		}
	}
	if err := imp.indexMetadata(tx, obj, pid, index, dsIDs); err != nil {
		return pid, err
	}
	return pid, nil
}

func findRoot(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return xml.StartElement{}, repo.InvalidArgumentf("bad FOXML: %s", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if se.Name.Space != Namespace || se.Name.Local != "digitalObject" {
			return xml.StartElement{}, repo.InvalidArgumentf(
				"expected foxml:digitalObject, got %s", se.Name.Local)
		}
		return se, nil
	}
}

// createObject consumes objectProperties and inserts the object row.
func (imp *Importer) createObject(tx *sqlx.Tx, dec *xml.Decoder, pid repo.PID, nsID int64) (*db.Object, error) {
	props := make(map[string]string)
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return nil, repo.InvalidArgumentf("bad FOXML: %s", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if t.Name.Local == "property" {
				props[attrValue(t, "", "NAME")] = attrValue(t, "", "VALUE")
			}
		case xml.EndElement:
			depth--
		}
	}

	obj := &db.Object{
		NamespaceID: nsID,
		PIDLocal:    pid.Local,
		Label:       props[propLabel],
		OwnerID:     imp.Identity.UserID,
		Versioned:   true,
	}
	if v, ok := props[propState]; ok {
		st, err := repo.ParseState(v)
		if err != nil {
			return nil, err
		}
		obj.State = st
	}
	if v, ok := props[propOwner]; ok && v != "" {
		id, err := db.UpsertUser(tx, v, imp.Identity.SourceID)
		if err != nil {
			return nil, err
		}
		obj.OwnerID = id
	}
	if v, ok := props[propCreated]; ok {
		t, err := repo.ParseTime(v)
		if err != nil {
			return nil, err
		}
		obj.Created = t
	}
	if v, ok := props[propModified]; ok {
		t, err := repo.ParseTime(v)
		if err != nil {
			return nil, err
		}
		obj.Modified = t
	}
	if err := db.CreateObject(tx, obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// parseDatastream consumes a datastream element, landing each
// version's content as a resource.
func (imp *Importer) parseDatastream(tx *sqlx.Tx, dec *xml.Decoder, se xml.StartElement) (*dsData, error) {
	ds := &dsData{
		dsid:      attrValue(se, "", "ID"),
		state:     repo.StateActive,
		versioned: true,
	}
	if ds.dsid == "" {
		return nil, repo.InvalidArgumentf("datastream without ID")
	}
	if v := attrValue(se, "", "STATE"); v != "" {
		st, err := repo.ParseState(v)
		if err != nil {
			return nil, err
		}
		ds.state = st
	}
	group, err := repo.ParseControlGroup(attrValue(se, "", "CONTROL_GROUP"))
	if err != nil {
		return nil, err
	}
	if group == repo.GroupExternal {
		return nil, repo.UnsupportedStorageClassf(
			"datastream %s uses control group E", ds.dsid)
	}
	ds.controlGroup = group
	if v := attrValue(se, "", "VERSIONABLE"); v == "false" {
		ds.versioned = false
	}

	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, repo.InvalidArgumentf("bad FOXML: %s", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "datastreamVersion" {
				if err := dec.Skip(); err != nil {
					return nil, repo.InvalidArgumentf("bad FOXML: %s", err)
				}
				continue
			}
			v, err := imp.parseVersion(tx, dec, t, ds)
			if err != nil {
				return nil, err
			}
			ds.versions = append(ds.versions, *v)
		case xml.EndElement:
			if len(ds.versions) == 0 {
				return nil, repo.InvalidArgumentf("datastream %s has no versions", ds.dsid)
			}
			sort.SliceStable(ds.versions, func(i, j int) bool {
				return ds.versions[i].created.Before(ds.versions[j].created)
			})
			return ds, nil
		}
	}
}

func (imp *Importer) parseVersion(tx *sqlx.Tx, dec *xml.Decoder, se xml.StartElement, ds *dsData) (*versionData, error) {
	v := &versionData{
		label:   attrValue(se, "", "LABEL"),
		created: db.Now(),
	}
	if raw := attrValue(se, "", "CREATED"); raw != "" {
		t, err := repo.ParseTime(raw)
		if err != nil {
			return nil, err
		}
		v.created = t
	}
	mime := attrValue(se, "", "MIMETYPE")
	if mime == "" {
		mime = "application/octet-stream"
	}

	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, repo.InvalidArgumentf("bad FOXML: %s", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "contentDigest":
				v.digests = append(v.digests,
					[2]string{attrValue(t, "", "TYPE"), attrValue(t, "", "DIGEST")})
				if err := dec.Skip(); err != nil {
					return nil, repo.InvalidArgumentf("bad FOXML: %s", err)
				}
			case "xmlContent":
				if err := imp.landInlineXML(tx, dec, mime, v); err != nil {
					return nil, err
				}
			case "binaryContent":
				if err := imp.landBinary(tx, dec, mime, v); err != nil {
					return nil, err
				}
			case "contentLocation":
				if err := imp.landLocation(tx, t, ds, mime, v); err != nil {
					return nil, err
				}
				if err := dec.Skip(); err != nil {
					return nil, repo.InvalidArgumentf("bad FOXML: %s", err)
				}
			default:
				if err := dec.Skip(); err != nil {
					return nil, repo.InvalidArgumentf("bad FOXML: %s", err)
				}
			}
		case xml.EndElement:
			if err := imp.checkDigests(tx, ds, v); err != nil {
				return nil, err
			}
			return v, nil
		}
	}
}

// landInlineXML captures the wrapped fragment and stashes it.
func (imp *Importer) landInlineXML(tx *sqlx.Tx, dec *xml.Decoder, mime string, v *versionData) error {
	var frag []byte
	for {
		tok, err := dec.Token()
		if err != nil {
			return repo.InvalidArgumentf("bad FOXML: %s", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			frag, err = captureFragment(dec, t)
			if err != nil {
				return repo.InvalidArgumentf("bad inline XML: %s", err)
			}
		case xml.EndElement:
			if frag == nil {
				return repo.InvalidArgumentf("empty xmlContent")
			}
			id, _, err := imp.FS.StashTx(tx, filestore.SchemeDatastream, bytes.NewReader(frag), mime)
			if err != nil {
				return err
			}
			v.resourceID, v.hasContent, v.fragment = id, true, frag
			return nil
		}
	}
}

// landBinary decodes base64 content and stashes it. The text streams
// from the decoder straight into the store, so a large embedded
// payload never sits in memory whole.
func (imp *Importer) landBinary(tx *sqlx.Tx, dec *xml.Decoder, mime string, v *versionData) error {
	r := &charDataReader{dec: dec, depth: 1}
	id, _, err := imp.FS.StashTx(tx, filestore.SchemeDatastream,
		base64.NewDecoder(base64.StdEncoding, r), mime)
	if err != nil {
		return errors.Wrap(err, "binaryContent")
	}
	// the base64 decoder can stop at padding; eat what is left of
	// the element
	if err := r.drain(); err != nil {
		return err
	}
	v.resourceID, v.hasContent = id, true
	return nil
}

// charDataReader streams the character data of the current element,
// ending at its close tag. XML whitespace is dropped so the bytes can
// feed a base64 decoder directly.
type charDataReader struct {
	dec   *xml.Decoder
	depth int
	buf   []byte
	err   error
}

func (r *charDataReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		tok, err := r.dec.Token()
		if err != nil {
			r.err = repo.InvalidArgumentf("bad FOXML: %s", err)
			return 0, r.err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			r.err = repo.InvalidArgumentf("markup inside binaryContent")
			return 0, r.err
		case xml.EndElement:
			r.depth--
			if r.depth == 0 {
				r.err = io.EOF
				return 0, io.EOF
			}
		case xml.CharData:
			for _, b := range t {
				switch b {
				case ' ', '\t', '\n', '\r':
				default:
					r.buf = append(r.buf, b)
				}
			}
		}
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// drain consumes the rest of the element.
func (r *charDataReader) drain() error {
	var scratch [256]byte
	for {
		_, err := r.Read(scratch[:])
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// landLocation handles contentLocation. A URL location on a redirect
// datastream becomes a resource holding only the URL; every other
// location, URL or INTERNAL_ID, is fetched and its content stashed.
func (imp *Importer) landLocation(tx *sqlx.Tx, se xml.StartElement, ds *dsData, mime string, v *versionData) error {
	ref := attrValue(se, "", "REF")
	if ref == "" {
		return repo.InvalidArgumentf("contentLocation without REF")
	}
	typ := attrValue(se, "", "TYPE")
	if typ != locationURL && typ != locationInternal {
		return repo.InvalidArgumentf("unknown contentLocation type for %s", ds.dsid)
	}
	if typ == locationURL && ds.controlGroup == repo.GroupRedirect {
		mimeID, err := db.UpsertMime(tx, mime)
		if err != nil {
			return err
		}
		id, err := db.UpsertResource(tx, ref, mimeID)
		if err != nil {
			return err
		}
		v.resourceID, v.hasContent = id, true
		return nil
	}
	client := imp.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Get(ref)
	if err != nil {
		return errors.Wrap(err, "fetch contentLocation")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("fetch contentLocation %s: %s", ref, resp.Status)
	}
	id, _, err := imp.FS.StashTx(tx, filestore.SchemeDatastream, resp.Body, mime)
	if err != nil {
		return err
	}
	v.resourceID, v.hasContent = id, true
	return nil
}

// checkDigests verifies declared digests against the stored content
// and records them. Redirect datastreams are skipped: their resource
// is a URL, not stored bytes.
func (imp *Importer) checkDigests(tx *sqlx.Tx, ds *dsData, v *versionData) error {
	if !v.hasContent || ds.controlGroup == repo.GroupRedirect {
		return nil
	}
	for _, d := range v.digests {
		if _, err := imp.FS.UpdateChecksum(tx, v.resourceID, d[0], d[1]); err != nil {
			return err
		}
	}
	return nil
}

// storeDatastream turns a parsed datastream into rows: the newest
// version becomes the current row, older versions become history.
// Returns the datastream row id and, for inline content, the newest
// fragment.
func (imp *Importer) storeDatastream(tx *sqlx.Tx, obj *db.Object, ds *dsData) (int64, []byte, error) {
	newest := ds.versions[len(ds.versions)-1]
	row := &db.Datastream{
		ObjectID:     obj.ID,
		DSID:         ds.dsid,
		Label:        newest.label,
		ControlGroup: ds.controlGroup,
		Versioned:    ds.versioned,
		State:        ds.state,
		Created:      ds.versions[0].created,
		Modified:     newest.created,
	}
	if newest.hasContent {
		row.ResourceID = sql.NullInt64{Int64: newest.resourceID, Valid: true}
	}
	if err := db.CreateDatastream(tx, row); err != nil {
		return 0, nil, err
	}
	for _, old := range ds.versions[:len(ds.versions)-1] {
		o := &db.OldDatastream{
			DatastreamID: row.ID,
			State:        ds.state,
			Label:        old.label,
			Committed:    old.created,
		}
		if old.hasContent {
			o.ResourceID = sql.NullInt64{Int64: old.resourceID, Valid: true}
		}
		if err := db.CreateOldDatastream(tx, o); err != nil {
			return 0, nil, err
		}
	}
	return row.ID, newest.fragment, nil
}

// indexMetadata rebuilds the relationship index from the DC, RELS-EXT
// and RELS-INT fragments, synthesizing a default DC when the document
// carried none. RELS-INT goes last so it can reference any datastream.
func (imp *Importer) indexMetadata(tx *sqlx.Tx, obj *db.Object, pid repo.PID, index map[string][]byte, dsIDs map[string]int64) error {
	if _, ok := dsIDs[DSIDDC]; !ok {
		frag := defaultDC(pid, obj.Label)
		id, _, err := imp.FS.StashTx(tx, filestore.SchemeDatastream, bytes.NewReader(frag), "application/xml")
		if err != nil {
			return err
		}
		row := &db.Datastream{
			ObjectID:     obj.ID,
			DSID:         DSIDDC,
			Label:        "Dublin Core Record",
			ControlGroup: repo.GroupInline,
			ResourceID:   sql.NullInt64{Int64: id, Valid: true},
			Versioned:    true,
			Created:      obj.Created,
			Modified:     obj.Created,
		}
		if err := db.CreateDatastream(tx, row); err != nil {
			return err
		}
		index[DSIDDC] = frag
		dsIDs[DSIDDC] = row.ID
	}

	if frag, ok := index[DSIDDC]; ok {
		if err := relations.DeleteDC(tx, obj.ID); err != nil {
			return err
		}
		triples, err := parseDC(frag)
		if err != nil {
			return err
		}
		for _, tr := range triples {
			o, err := imp.Rels.Resolve(tx, imp.Identity, relations.ObjectRelations,
				tr.Namespace, tr.Predicate, tr.Text, tr.Resource)
			if err != nil {
				return err
			}
			if err := imp.Rels.WriteObject(tx, obj.ID, tr.Namespace, tr.Predicate, o); err != nil {
				return err
			}
		}
	}

	if frag, ok := index[DSIDRELSExt]; ok {
		if err := relations.DeleteRELSEXT(tx, obj.ID); err != nil {
			return err
		}
		triples, err := parseRDF(frag)
		if err != nil {
			return err
		}
		for _, tr := range triples {
			o, err := imp.Rels.Resolve(tx, imp.Identity, relations.ObjectRelations,
				tr.Namespace, tr.Predicate, tr.Text, tr.Resource)
			if err != nil {
				return err
			}
			if err := imp.Rels.WriteObject(tx, obj.ID, tr.Namespace, tr.Predicate, o); err != nil {
				return err
			}
		}
	}

	if frag, ok := index[DSIDRELSInt]; ok {
		triples, err := parseRDF(frag)
		if err != nil {
			return err
		}
		for _, tr := range triples {
			aboutPID, dsid, ok := relations.ParseFedoraURI(tr.About)
			if !ok || dsid == "" {
				return repo.InvalidArgumentf("RELS-INT statement about %q", tr.About)
			}
			if aboutPID != pid {
				return repo.InvalidArgumentf(
					"RELS-INT statement about foreign object %s", aboutPID)
			}
			subject, ok := dsIDs[dsid]
			if !ok {
				return repo.ReferencedEntityNotFoundf(
					"datastream %s/%s does not exist", pid, dsid)
			}
			o, err := imp.Rels.Resolve(tx, imp.Identity, relations.DatastreamRelations,
				tr.Namespace, tr.Predicate, tr.Text, tr.Resource)
			if err != nil {
				return err
			}
			if err := imp.Rels.WriteDatastream(tx, subject, tr.Namespace, tr.Predicate, o); err != nil {
				return err
			}
		}
	}
	return nil
}

// A BatchResult reports the outcome of one document in a batch.
type BatchResult struct {
	PID repo.PID
	Err error
}

// ImportBatch ingests several documents in one transaction, each under
// its own savepoint so a bad document does not poison the rest. With
// force set, an AlreadyExists collision purges the existing object and
// ingests the document in its place.
func (imp *Importer) ImportBatch(tx *sqlx.Tx, sources []io.ReadSeeker, force bool) []BatchResult {
	results := make([]BatchResult, len(sources))
	for i, src := range sources {
		sp := fmt.Sprintf("ingest_%d", i)
		if _, err := tx.Exec("SAVEPOINT " + sp); err != nil {
			results[i] = BatchResult{Err: err}
			continue
		}
		pid, err := imp.Import(tx, src)
		if repo.IsAlreadyExists(err) && force {
			if _, rerr := tx.Exec("ROLLBACK TO SAVEPOINT " + sp); rerr != nil {
				results[i] = BatchResult{PID: pid, Err: rerr}
				continue
			}
			imp.IDs.Clear()
			err = imp.reingest(tx, pid, src)
		}
		if err != nil {
			results[i] = BatchResult{PID: pid, Err: err}
			if _, rerr := tx.Exec("ROLLBACK TO SAVEPOINT " + sp); rerr != nil {
				results[i].Err = rerr
			}
			imp.IDs.Clear()
			continue
		}
		results[i] = BatchResult{PID: pid}
		if _, err := tx.Exec("RELEASE SAVEPOINT " + sp); err != nil {
			results[i].Err = err
		}
	}
	return results
}

func (imp *Importer) reingest(tx *sqlx.Tx, pid repo.PID, src io.ReadSeeker) error {
	old, err := db.GetObjectByPID(tx, pid)
	if err != nil {
		return err
	}
	if err := relations.PurgeObject(tx, old.ID); err != nil {
		return err
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err = imp.Import(tx, src)
	return err
}
