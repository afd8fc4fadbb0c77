package graph

import (
	"context"
	"fmt"

	"github.com/lumenforge/contentbase/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// CypherResult is the minimal result-cursor surface the store needs, kept
// narrow so tests can supply an in-memory fake instead of a live driver.
type CypherResult interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
}

// CypherRunner executes a Cypher statement against a session or transaction.
type CypherRunner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error)
}

// CypherSession is a CypherRunner plus the lifecycle/transaction methods
// GraphStore needs from a Neo4j session.
type CypherSession interface {
	CypherRunner
	Close(ctx context.Context) error
	ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error)
}

// sessionOpener opens a new CypherSession. The live implementation wraps
// neo4j.DriverWithContext; tests supply a fake.
type sessionOpener interface {
	OpenSession(ctx context.Context) CypherSession
}

// driverOpener adapts neo4j.DriverWithContext to sessionOpener.
type driverOpener struct {
	driver neo4j.DriverWithContext
}

func (o *driverOpener) OpenSession(ctx context.Context) CypherSession {
	return &liveSession{sess: o.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

// liveSession adapts neo4j.SessionWithContext to CypherSession.
type liveSession struct {
	sess neo4j.SessionWithContext
}

func (s *liveSession) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	return s.sess.Run(ctx, cypher, params)
}

func (s *liveSession) Close(ctx context.Context) error { return s.sess.Close(ctx) }

func (s *liveSession) ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error) {
	return s.sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return work(&txAdapter{tx: tx})
	})
}

type txAdapter struct {
	tx neo4j.ManagedTransaction
}

func (t *txAdapter) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	return t.tx.Run(ctx, cypher, params)
}

// GraphStore is the Content DB: the sole owner of all Neo4j operations
// over content nodes and their contains/with relations.
type GraphStore struct {
	opener sessionOpener
	nodes  *repo.Neo4jRepo[Node, string]
}

// New creates a GraphStore backed by a live Neo4j driver.
func New(driver neo4j.DriverWithContext) *GraphStore {
	var nodes *repo.Neo4jRepo[Node, string]
	if driver != nil {
		nodes = newNodeRepo(driver)
	}
	return &GraphStore{opener: &driverOpener{driver: driver}, nodes: nodes}
}

// NewWithOpener creates a GraphStore over a custom sessionOpener, used in tests.
func NewWithOpener(opener sessionOpener) *GraphStore {
	return &GraphStore{opener: opener}
}

// GetNode returns a content node by ID.
func (g *GraphStore) GetNode(ctx context.Context, id string) (Node, error) {
	return g.nodes.Get(ctx, id)
}

// SaveNode creates or updates a content node.
func (g *GraphStore) SaveNode(ctx context.Context, n Node) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MERGE (n:ContentNode {id: $id}) SET n += $props`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"id":    n.ID,
		"props": nodeToMap(n),
	})
	return err
}

// Link creates an edge of the given kind between two nodes.
func (g *GraphStore) Link(ctx context.Context, e Edge) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf(
		`MATCH (a:ContentNode {id: $from}), (b:ContentNode {id: $to})
		 MERGE (a)-[r:%s {id: $id}]->(b)`,
		sanitizeRelType(string(e.Type)),
	)
	_, err := sess.Run(ctx, cypher, map[string]any{
		"from": e.From,
		"to":   e.To,
		"id":   e.ID,
	})
	return err
}

// Children returns the nodes a group node contains.
func (g *GraphStore) Children(ctx context.Context, groupID string) ([]Node, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (g:ContentNode {id: $id})-[:CONTAINS]->(n:ContentNode) RETURN n`
	result, err := sess.Run(ctx, cypher, map[string]any{"id": groupID})
	if err != nil {
		return nil, err
	}
	return collectNodes(ctx, result)
}

// Backtrace walks "contains" edges upward from a leaf node to find the
// file-level group node that owns it.
func (g *GraphStore) Backtrace(ctx context.Context, leafID string) (Node, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (root:ContentNode)-[:CONTAINS*1..]->(leaf:ContentNode {id: $id})
		WHERE NOT ()-[:CONTAINS]->(root)
		RETURN root AS n LIMIT 1`
	result, err := sess.Run(ctx, cypher, map[string]any{"id": leafID})
	if err != nil {
		return Node{}, err
	}
	if !result.Next(ctx) {
		return Node{}, fmt.Errorf("backtrace: no root found for %s", leafID)
	}
	node, _, err := neo4j.GetRecordValue[dbtype.Node](result.Record(), "n")
	if err != nil {
		return Node{}, err
	}
	return nodeFromProps(node.Props), nil
}

// UpsertGroup atomically replaces a group node's children: existing
// children (and their outgoing edges) are purged, then the group and its
// new children are (re)written, all within one transaction. This
// implements the implicit-purge-before-insert semantics for re-derived
// content nodes.
func (g *GraphStore) UpsertGroup(ctx context.Context, group Node, children []Node) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx CypherRunner) (any, error) {
		purge := `MATCH (g:ContentNode {id: $id})-[:CONTAINS]->(c:ContentNode)
			DETACH DELETE c`
		if _, err := tx.Run(ctx, purge, map[string]any{"id": group.ID}); err != nil {
			return nil, err
		}

		merge := `MERGE (n:ContentNode {id: $id}) SET n += $props`
		if _, err := tx.Run(ctx, merge, map[string]any{"id": group.ID, "props": nodeToMap(group)}); err != nil {
			return nil, err
		}

		for _, c := range children {
			if _, err := tx.Run(ctx, merge, map[string]any{"id": c.ID, "props": nodeToMap(c)}); err != nil {
				return nil, err
			}
			link := `MATCH (g:ContentNode {id: $gid}), (c:ContentNode {id: $cid})
				MERGE (g)-[:CONTAINS]->(c)`
			if _, err := tx.Run(ctx, link, map[string]any{"gid": group.ID, "cid": c.ID}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// PurgeFile deletes, in a single transaction, every content node whose
// file_identifier property equals fileIdentifier (groups, leaves and the
// payload node alike), together with all of their edges. It matches on
// the property rather than walking "contains" edges from the root.
func (g *GraphStore) PurgeFile(ctx context.Context, fileIdentifier string) error {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx CypherRunner) (any, error) {
		cypher := `MATCH (n:ContentNode {file_identifier: $fid}) DETACH DELETE n`
		_, err := tx.Run(ctx, cypher, map[string]any{"fid": fileIdentifier})
		return nil, err
	})
	return err
}

// NodeCounts returns node counts grouped by kind property.
func (g *GraphStore) NodeCounts(ctx context.Context) (map[string]int64, error) {
	sess := g.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (n:ContentNode) RETURN n.kind AS kind, count(*) AS count`
	result, err := sess.Run(ctx, cypher, nil)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64)
	for result.Next(ctx) {
		rec := result.Record()
		kind, _ := rec.Get("kind")
		cnt, _ := rec.Get("count")
		k, _ := kind.(string)
		c, _ := cnt.(int64)
		if k != "" {
			counts[k] = c
		}
	}
	return counts, nil
}

func collectNodes(ctx context.Context, result CypherResult) ([]Node, error) {
	var items []Node
	for result.Next(ctx) {
		node, _, err := neo4j.GetRecordValue[dbtype.Node](result.Record(), "n")
		if err != nil {
			return nil, err
		}
		items = append(items, nodeFromProps(node.Props))
	}
	return items, nil
}

// sanitizeRelType ensures the relationship type is a valid Cypher identifier.
func sanitizeRelType(t string) string {
	safe := make([]byte, 0, len(t))
	for i := range t {
		c := t[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			safe = append(safe, c)
		}
	}
	if len(safe) == 0 {
		return "RELATED_TO"
	}
	for i := range safe {
		if safe[i] >= 'a' && safe[i] <= 'z' {
			safe[i] -= 32
		}
	}
	return string(safe)
}
