package relations

import (
	"github.com/jmoiron/sqlx"

	"github.com/ndlib/repod/db"
)

// Vocabulary lists the well-known predicates, keyed by namespace.
// Install seeds them all so metadata indexing rarely has to create a
// predicate row on the fly.
var Vocabulary = map[string][]string{
	NamespaceIslandoraRelsExt: {
		"dateIssued",
		"deferDerivatives",
		"generate_ocr",
		"has_language",
		PredIsPageOf,
		PredIsPageNumber,
		PredIsSection,
		PredIsSequenceNumber,
		PredIsManageableByRole,
		PredIsManageableByUser,
		PredIsViewableByRole,
		PredIsViewableByUser,
		"height",
		"width",
	},
	NamespaceIslandoraRelsInt: {
		PredIsManageableByRole,
		PredIsManageableByUser,
		PredIsViewableByRole,
		PredIsViewableByUser,
	},
	NamespaceFedoraRelsExt: {
		PredIsMemberOfCollection,
		PredIsConstituentOf,
		PredIsMemberOf,
	},
	NamespaceFedoraModel: {
		"state",
		"label",
		"ownerId",
		"createdDate",
		PredHasModel,
	},
	NamespaceFedoraView: {
		"lastModifiedDate",
	},
	NamespaceDC: {
		"contributor",
		"coverage",
		"creator",
		"date",
		"description",
		"format",
		"identifier",
		"language",
		"publisher",
		"relation",
		"rights",
		"source",
		"subject",
		"title",
		"type",
	},
}

// InstallVocabulary upserts every namespace and predicate in
// Vocabulary. It is safe to run on every startup.
func InstallVocabulary(tx *sqlx.Tx) error {
	for ns, preds := range Vocabulary {
		nsID, err := db.UpsertRDFNamespace(tx, ns)
		if err != nil {
			return err
		}
		for _, p := range preds {
			if _, err := db.UpsertPredicate(tx, nsID, p); err != nil {
				return err
			}
		}
	}
	return nil
}
