package graph

import (
	"github.com/lumenforge/contentbase/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// newNodeRepo creates a Neo4j-backed repository for leaf/group content nodes.
func newNodeRepo(driver neo4j.DriverWithContext) *repo.Neo4jRepo[Node, string] {
	return repo.NewNeo4jRepo[Node, string](
		driver,
		"ContentNode",
		nodeToMap,
		nodeFromRecord,
	)
}

func nodeToMap(n Node) map[string]any {
	m := map[string]any{
		"id":              n.ID,
		"file_identifier": n.FileIdentifier,
		"kind":            string(n.Kind),
		"task_type":       n.TaskType,
		"text":            n.Text,
	}
	if n.StartTimestamp != nil {
		m["start_timestamp"] = *n.StartTimestamp
	}
	if n.EndTimestamp != nil {
		m["end_timestamp"] = *n.EndTimestamp
	}
	for k, v := range n.Properties {
		m["prop_"+k] = v
	}
	return m
}

func nodeFromRecord(rec *neo4j.Record) (Node, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return Node{}, err
	}
	return nodeFromProps(node.Props), nil
}

func nodeFromProps(props map[string]any) Node {
	n := Node{
		ID:             strProp(props, "id"),
		FileIdentifier: strProp(props, "file_identifier"),
		Kind:           NodeKind(strProp(props, "kind")),
		TaskType:       strProp(props, "task_type"),
		Text:           strProp(props, "text"),
		Properties:     make(map[string]string),
	}
	if v, ok := props["start_timestamp"]; ok {
		if i, ok := v.(int64); ok {
			n.StartTimestamp = &i
		}
	}
	if v, ok := props["end_timestamp"]; ok {
		if i, ok := v.(int64); ok {
			n.EndTimestamp = &i
		}
	}
	for k, v := range props {
		if len(k) > 5 && k[:5] == "prop_" {
			if s, ok := v.(string); ok {
				n.Properties[k[5:]] = s
			}
		}
	}
	return n
}

func strProp(props map[string]any, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
