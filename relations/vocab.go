package relations

// RDF namespaces understood by the relationship engine.
const (
	NamespaceIslandoraRelsExt = "http://islandora.ca/ontology/relsext#"
	NamespaceIslandoraRelsInt = "http://islandora.ca/ontology/relsint#"
	NamespaceFedoraRelsExt    = "info:fedora/fedora-system:def/relations-external#"
	NamespaceFedoraModel      = "info:fedora/fedora-system:def/model#"
	NamespaceFedoraView       = "info:fedora/fedora-system:def/view#"
	NamespaceDC               = "http://purl.org/dc/elements/1.1/"
	NamespaceOAIDC            = "http://www.openarchives.org/OAI/2.0/oai_dc/"
	NamespaceRDF              = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
)

// Predicates with specialized storage or special handling.
const (
	PredIsMemberOf            = "isMemberOf"
	PredIsMemberOfCollection  = "isMemberOfCollection"
	PredIsConstituentOf       = "isConstituentOf"
	PredHasModel              = "hasModel"
	PredIsPageOf              = "isPageOf"
	PredIsPageNumber          = "isPageNumber"
	PredIsSection             = "isSection"
	PredIsSequenceNumber      = "isSequenceNumber"
	PredIsSequenceNumberOf    = "isSequenceNumberOf"
	PredIsViewableByUser      = "isViewableByUser"
	PredIsManageableByUser    = "isManageableByUser"
	PredIsViewableByRole      = "isViewableByRole"
	PredIsManageableByRole    = "isManageableByRole"
)

// Kind says what the object side of a triple resolved to.
type Kind int

const (
	// Literal is an inline text value.
	Literal Kind = iota
	// URI is a resource reference we do not link.
	URI
	// ObjectLink is the database id of a repository object.
	ObjectLink
	// DatastreamLink is the database id of a datastream.
	DatastreamLink
	// UserLink is the database id of a user.
	UserLink
	// RoleLink is the database id of a role.
	RoleLink
)

func (k Kind) linked() bool { return k >= ObjectLink }

// An RDFObject is the resolved object side of a triple. Raw holds the
// text for Literal and URI kinds; ID holds the row id for linked
// kinds.
type RDFObject struct {
	Kind Kind
	Raw  string
	ID   int64
}

type relKey struct {
	namespace string
	predicate string
}

// target names the specialized table for a predicate and the kind its
// rdf_object column stores.
type target struct {
	table string
	kind  Kind
}

// objectRelationMap routes well-known object predicates to their
// specialized tables. Everything else lands in object_relationships.
var objectRelationMap = map[relKey]target{
	{NamespaceFedoraRelsExt, PredIsMemberOf}:           {"is_member_of", ObjectLink},
	{NamespaceFedoraRelsExt, PredIsMemberOfCollection}: {"is_member_of_collection", ObjectLink},
	{NamespaceFedoraRelsExt, PredIsConstituentOf}:      {"is_constituent_of", ObjectLink},
	{NamespaceFedoraModel, PredHasModel}:               {"has_model", ObjectLink},
	{NamespaceIslandoraRelsExt, PredIsPageOf}:          {"is_page_of", ObjectLink},
	{NamespaceIslandoraRelsExt, PredIsPageNumber}:      {"is_page_number", Literal},
	{NamespaceIslandoraRelsExt, PredIsSection}:         {"is_section", Literal},
	{NamespaceIslandoraRelsExt, PredIsSequenceNumber}:  {"is_sequence_number", Literal},
	{NamespaceIslandoraRelsExt, PredIsViewableByUser}:  {"is_viewable_by_user", UserLink},
	{NamespaceIslandoraRelsExt, PredIsManageableByUser}: {"is_manageable_by_user", UserLink},
	{NamespaceIslandoraRelsExt, PredIsViewableByRole}:   {"is_viewable_by_role", RoleLink},
	{NamespaceIslandoraRelsExt, PredIsManageableByRole}: {"is_manageable_by_role", RoleLink},
}

// datastreamRelationMap routes well-known datastream predicates.
var datastreamRelationMap = map[relKey]target{
	{NamespaceIslandoraRelsInt, PredIsViewableByUser}:   {"ds_is_viewable_by_user", UserLink},
	{NamespaceIslandoraRelsInt, PredIsManageableByUser}: {"ds_is_manageable_by_user", UserLink},
	{NamespaceIslandoraRelsInt, PredIsViewableByRole}:   {"ds_is_viewable_by_role", RoleLink},
	{NamespaceIslandoraRelsInt, PredIsManageableByRole}: {"ds_is_manageable_by_role", RoleLink},
}

// inboundObjectTables are the specialized tables whose rdf_object
// column can point at a repository object.
var inboundObjectTables = []string{
	"is_member_of",
	"is_member_of_collection",
	"is_constituent_of",
	"has_model",
	"is_page_of",
	"is_sequence_number_of",
}
