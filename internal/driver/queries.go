package driver

// IndexQueries index the key of every label the pipeline writes.
var IndexQueries = []string{
	"CREATE INDEX ON :Thought(key);",
	"CREATE INDEX ON :Entity(key);",
	"CREATE INDEX ON :Entity(type);",
	"CREATE INDEX ON :Entity(norm_name);",
	"CREATE INDEX ON :Category(key);",
	"CREATE INDEX ON :ActionItem(key);",
	"CREATE INDEX ON :Task(key);",
	"CREATE INDEX ON :Task(norm_title);",
	"CREATE INDEX ON :PersonProfile(key);",
	"CREATE INDEX ON :ProjectProfile(key);",
	"CREATE INDEX ON :User(key);",
}

// Templates take labels and relationship types through fmt verbs; callers
// must validate identifiers before formatting since Cypher cannot parameterize them.
const (
	// label
	UpsertNodeQuery = `
		MERGE (n:%s {key: $key})
		SET n += $fields
		RETURN n.key AS key
	`

	// from label, to label, edge type
	UpsertEdgeQuery = `
		MATCH (a:%s {key: $from})
		MATCH (b:%s {key: $to})
		MERGE (a)-[r:%s]->(b)
		SET r += $fields
		RETURN type(r) AS type
	`

	// label
	GetNodeQuery = `
		MATCH (n:%s {key: $key})
		RETURN n
	`

	// label
	CountQuery = `
		MATCH (n:%s)
		RETURN count(n) AS c
	`

	// from label, relationship filter (":A|B " or empty), max hops, to label
	DistanceQuery = `
		MATCH p = (a:%s {key: $from})-[%s*BFS ..%d]-(b:%s {key: $to})
		RETURN size(relationships(p)) AS hops
		LIMIT 1
	`
)
