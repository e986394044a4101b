package driver

// IndexQueries are run once at startup by BuildIndices.
var IndexQueries = []string{
	"CREATE INDEX ON :Entity(id);",
	"CREATE INDEX ON :Entity(domain);",
	"CREATE INDEX ON :EntitySet(id);",
	"CREATE INDEX ON :EntitySet(domain);",
}

const (
	// ClearDomainQuery removes the previous projection of a domain so merged-away entities
	// disappear.
	ClearDomainQuery = `
		MATCH (n {domain: $domain})
		WHERE n:Entity OR n:EntitySet
		DETACH DELETE n
	`

	SaveEntitySetNodesQuery = `
		UNWIND $rows AS row
		MERGE (s:EntitySet {id: row.id})
		SET s.domain = $domain,
			s.name = row.name,
			s.timestamp = row.timestamp,
			s.entity_count = row.entity_count,
			s.schema_version = row.schema_version
		RETURN count(s) AS saved
	`

	SaveEntityNodesQuery = `
		UNWIND $rows AS row
		MERGE (n:Entity {id: row.id})
		SET n.domain = $domain,
			n.name = row.name,
			n.category = row.category,
			n.confidence = row.confidence,
			n.type = row.type,
			n.status = row.status,
			n.merged_from = row.merged_from,
			n.consolidated_count = row.consolidated_count
		WITH n, row
		MATCH (s:EntitySet {id: row.set_id})
		MERGE (s)-[:CONTAINS]->(n)
		RETURN count(n) AS saved
	`

	// SaveRelationshipsQuery links any two projected nodes of the domain. Edges whose endpoints
	// were not projected are dropped by the MATCH.
	SaveRelationshipsQuery = `
		UNWIND $rows AS row
		MATCH (a {id: row.source, domain: $domain})
		MATCH (b {id: row.target, domain: $domain})
		MERGE (a)-[r:RELATES {type: row.type}]->(b)
		SET r.confidence = row.confidence,
			r.source = row.provenance
		RETURN count(r) AS saved
	`

	CountDomainQuery = `
		OPTIONAL MATCH (e:Entity {domain: $domain})
		WITH count(e) AS entities
		OPTIONAL MATCH (:Entity {domain: $domain})-[r:RELATES]->()
		RETURN entities, count(r) AS relationships
	`
)
