package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/ndlib/repod/db"
	"github.com/ndlib/repod/filestore"
	"github.com/ndlib/repod/foxml"
	"github.com/ndlib/repod/idcache"
	"github.com/ndlib/repod/relations"
	"github.com/ndlib/repod/repo"
)

// Namespaces and objects every installation carries. Islandora
// expects the fedora-system objects to exist and to have DC records.
var (
	baseNamespaces = []string{"islandora", "fedora-system"}
	baseObjects    = []string{
		"fedora-system:ContentModel-3.0",
		"fedora-system:FedoraObject-3.0",
		"fedora-system:ServiceDefinition-3.0",
		"fedora-system:ServiceDeployment-3.0",
	}
)

// installBaseData seeds the RDF vocabulary, the base PID namespaces,
// the server's own source and user, and the base objects. It runs on
// every startup; everything it writes is an upsert or tolerated as
// already present.
func installBaseData(d *db.DB, fs *filestore.Store, source, username string) (repo.Identity, error) {
	tx, err := d.Begin()
	if err != nil {
		return repo.Identity{}, err
	}
	defer tx.Rollback()

	if err := relations.InstallVocabulary(tx); err != nil {
		return repo.Identity{}, err
	}

	sourceID, err := db.UpsertSource(tx, source)
	if err != nil {
		return repo.Identity{}, err
	}
	userID, err := db.UpsertUser(tx, username, sourceID)
	if err != nil {
		return repo.Identity{}, err
	}
	identity := repo.Identity{SourceID: sourceID, UserID: userID}

	for _, ns := range baseNamespaces {
		if _, err := db.UpsertNamespace(tx, ns); err != nil {
			return repo.Identity{}, err
		}
	}

	// base objects ride in as minimal FOXML so they pick up default
	// DC records and indexing like any other ingest
	ids := idcache.New(idcache.DefaultMaxEntries)
	imp := &foxml.Importer{
		FS:       fs,
		IDs:      ids,
		Rels:     relations.NewEngine(ids),
		Identity: identity,
	}
	docs := make([]io.ReadSeeker, len(baseObjects))
	for i, pid := range baseObjects {
		docs[i] = strings.NewReader(baseObjectFOXML(pid))
	}
	for _, res := range imp.ImportBatch(tx, docs, false) {
		if res.Err != nil && !repo.IsAlreadyExists(res.Err) {
			return repo.Identity{}, res.Err
		}
	}
	return identity, tx.Commit()
}

func baseObjectFOXML(pid string) string {
	label := pid[strings.Index(pid, ":")+1:]
	return fmt.Sprintf(`<foxml:digitalObject VERSION="1.1" PID=%q xmlns:foxml=%q>
  <foxml:objectProperties>
    <foxml:property NAME="info:fedora/fedora-system:def/model#label" VALUE=%q/>
  </foxml:objectProperties>
</foxml:digitalObject>`, pid, foxml.Namespace, label)
}
