// Package relations indexes the RDF triples carried by RELS-EXT,
// RELS-INT and DC datastreams into queryable tables. Well-known
// predicates get specialized two-column tables; everything else goes
// to a general table holding literals and unresolved URIs. The
// datastream content itself is stored like any other content; these
// tables are an index over it and are rebuilt whenever the carrying
// datastream is reingested.
package relations

import (
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/ndlib/repod/db"
	"github.com/ndlib/repod/idcache"
	"github.com/ndlib/repod/repo"
)

// Engine resolves and writes relationship triples. It is safe for
// concurrent use; all state lives in the identifier cache.
type Engine struct {
	IDs *idcache.Cache
}

func NewEngine(ids *idcache.Cache) *Engine {
	return &Engine{IDs: ids}
}

// ParseFedoraURI splits an info:fedora/ URI into PID and optional
// DSID. ok is false for any other URI shape.
func ParseFedoraURI(uri string) (pid repo.PID, dsid string, ok bool) {
	const prefix = "info:fedora/"
	if !strings.HasPrefix(uri, prefix) {
		return repo.PID{}, "", false
	}
	rest := uri[len(prefix):]
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest, dsid = rest[:i], rest[i+1:]
	}
	pid, err := repo.ParsePID(rest)
	if err != nil {
		return repo.PID{}, "", false
	}
	return pid, dsid, true
}

// FedoraURI renders the canonical URI of an object or, with a
// non-empty dsid, one of its datastreams.
func FedoraURI(pid repo.PID, dsid string) string {
	uri := "info:fedora/" + pid.String()
	if dsid != "" {
		uri += "/" + dsid
	}
	return uri
}

// Resolve turns the object side of a triple into an RDFObject. text is
// the element's text content and resource its rdf:resource attribute;
// at most one is expected. Resolution depends on the predicate: access
// control predicates intern users and roles under the caller's source,
// predicates with object-linked tables require an existing object or
// datastream, and unmapped predicates pass through as URI or Literal.
func (e *Engine) Resolve(tx *sqlx.Tx, identity repo.Identity, relmap RelationSet, namespace, predicate, text, resource string) (RDFObject, error) {
	tgt, mapped := relmap.lookup(namespace, predicate)
	if !mapped {
		switch {
		case resource != "":
			return RDFObject{Kind: URI, Raw: resource}, nil
		case text != "":
			return RDFObject{Kind: Literal, Raw: text}, nil
		}
		return RDFObject{}, repo.InvalidArgumentf(
			"relationship %s needs text content or a resource reference", predicate)
	}
	switch tgt.kind {
	case Literal:
		if text == "" {
			return RDFObject{}, repo.InvalidArgumentf("relationship %s needs a literal value", predicate)
		}
		return RDFObject{Kind: Literal, Raw: text}, nil
	case UserLink:
		if text == "" {
			return RDFObject{}, repo.InvalidArgumentf("relationship %s needs a user name", predicate)
		}
		id, err := db.UpsertUser(tx, text, identity.SourceID)
		return RDFObject{Kind: UserLink, ID: id}, err
	case RoleLink:
		if text == "" {
			return RDFObject{}, repo.InvalidArgumentf("relationship %s needs a role name", predicate)
		}
		id, err := db.UpsertRole(tx, text, identity.SourceID)
		return RDFObject{Kind: RoleLink, ID: id}, err
	}
	// object-linked: the reference must already exist
	pid, dsid, ok := ParseFedoraURI(resource)
	if !ok {
		return RDFObject{}, repo.InvalidArgumentf(
			"relationship %s needs an info:fedora object reference, got %q", predicate, resource)
	}
	obj, err := db.GetObjectByPID(tx, pid)
	if repo.IsNotFound(err) {
		return RDFObject{}, repo.ReferencedEntityNotFoundf("object %s does not exist", pid)
	}
	if err != nil {
		return RDFObject{}, err
	}
	if dsid != "" {
		ds, err := db.GetDatastream(tx, obj.ID, dsid)
		if repo.IsNotFound(err) {
			return RDFObject{}, repo.ReferencedEntityNotFoundf(
				"datastream %s/%s does not exist", pid, dsid)
		}
		if err != nil {
			return RDFObject{}, err
		}
		return RDFObject{Kind: DatastreamLink, ID: ds.ID}, nil
	}
	return RDFObject{Kind: ObjectLink, ID: obj.ID}, nil
}

// A RelationSet selects which specialized-table map applies.
type RelationSet int

const (
	ObjectRelations RelationSet = iota
	DatastreamRelations
)

func (s RelationSet) lookup(namespace, predicate string) (target, bool) {
	var m map[relKey]target
	if s == ObjectRelations {
		m = objectRelationMap
	} else {
		m = datastreamRelationMap
	}
	tgt, ok := m[relKey{namespace, predicate}]
	return tgt, ok
}

// WriteObject indexes a triple whose subject is a repository object.
func (e *Engine) WriteObject(tx *sqlx.Tx, subjectID int64, namespace, predicate string, obj RDFObject) error {
	if tgt, ok := objectRelationMap[relKey{namespace, predicate}]; ok {
		return writeStandard(tx, tgt, predicate, subjectID, obj)
	}
	if namespace == NamespaceIslandoraRelsExt && strings.HasPrefix(predicate, PredIsSequenceNumberOf) {
		return e.writeSequenceNumber(tx, subjectID, predicate, obj)
	}
	return e.writeGeneral(tx, "object_relationships", subjectID, namespace, predicate, obj)
}

// WriteDatastream indexes a triple whose subject is a datastream.
func (e *Engine) WriteDatastream(tx *sqlx.Tx, subjectID int64, namespace, predicate string, obj RDFObject) error {
	if tgt, ok := datastreamRelationMap[relKey{namespace, predicate}]; ok {
		return writeStandard(tx, tgt, predicate, subjectID, obj)
	}
	return e.writeGeneral(tx, "datastream_relationships", subjectID, namespace, predicate, obj)
}

func writeStandard(tx *sqlx.Tx, tgt target, predicate string, subjectID int64, obj RDFObject) error {
	var value interface{}
	if tgt.kind == Literal {
		if obj.Kind != Literal {
			return repo.InvalidArgumentf("relationship %s needs a literal value", predicate)
		}
		value = obj.Raw
	} else {
		if obj.Kind != tgt.kind {
			return repo.InvalidArgumentf("relationship %s resolved to the wrong kind", predicate)
		}
		value = obj.ID
	}
	_, err := tx.Exec(`INSERT INTO `+tgt.table+` (rdf_subject, rdf_object) VALUES (?, ?)`,
		subjectID, value)
	return err
}

// writeSequenceNumber handles the isSequenceNumberOf<pid> family: the
// paged object's PID is encoded in the predicate name itself, with its
// colon flattened to an underscore.
func (e *Engine) writeSequenceNumber(tx *sqlx.Tx, subjectID int64, predicate string, obj RDFObject) error {
	if obj.Kind != Literal {
		return repo.InvalidArgumentf("relationship %s needs a literal sequence number", predicate)
	}
	flattened := predicate[len(PredIsSequenceNumberOf):]
	i := strings.LastIndexByte(flattened, '_')
	if i < 0 {
		return repo.InvalidArgumentf("relationship %s does not encode a PID", predicate)
	}
	pid, err := repo.ParsePID(flattened[:i] + ":" + flattened[i+1:])
	if err != nil {
		return repo.InvalidArgumentf("relationship %s does not encode a PID", predicate)
	}
	paged, err := db.GetObjectByPID(tx, pid)
	if repo.IsNotFound(err) {
		return repo.ReferencedEntityNotFoundf("object %s does not exist", pid)
	}
	if err != nil {
		return err
	}
	_, err = tx.Exec(`INSERT INTO is_sequence_number_of (rdf_subject, rdf_object, sequence_number)
		VALUES (?, ?, ?)`, subjectID, paged.ID, obj.Raw)
	return err
}

func (e *Engine) writeGeneral(tx *sqlx.Tx, table string, subjectID int64, namespace, predicate string, obj RDFObject) error {
	if obj.Kind.linked() {
		return repo.InvalidArgumentf(
			"relationship %s resolved to a linked entity but has no specialized table", predicate)
	}
	predicateID, err := e.IDs.PredicateID(tx, namespace, predicate)
	if err != nil {
		return err
	}
	rdfType := "L"
	if obj.Kind == URI {
		rdfType = "U"
	}
	_, err = tx.Exec(`INSERT INTO `+table+` (predicate_id, rdf_subject, rdf_object, rdf_type)
		VALUES (?, ?, ?, ?)`, predicateID, subjectID, obj.Raw, rdfType)
	return err
}
