// Package importer loads entity graph documents into transactions.
//
// A document lists entities and bags. Entity values are keyed by schema key
// id; entity-class keys take references:
//
//	entities:
//	  - type: jira.Project
//	    ref: proj
//	    values: {key: PROJ, name: Project}
//	  - type: jira.Issue
//	    values:
//	      id: "42"
//	      project: {ref: proj}
//	      labels:
//	        - {values: {id: bug, project: {ref: proj}}}
//	      reporter: {item: 17}
//	bags:
//	  - type: jira.Issue
//	    where: {project: {ref: proj}}
//	    change: {status: closed}
//
// A reference is one of {ref: alias}, {item: id}, {object: id} or an inline
// entity {type?, values, find?}. Inline entities take their type from the
// key's target when type is omitted. References may point at entities
// declared later in the document.
//
// JSON documents use the same shape.
package importer

// Document is one import file. It loads into one transaction.
type Document struct {
	Entities []Entity  `yaml:"entities" json:"entities"`
	Bags     []BagSpec `yaml:"bags,omitempty" json:"bags,omitempty"`
}

// Entity declares one place.
type Entity struct {
	// Type is the schema type id. Ignored for identified objects.
	Type string `yaml:"type,omitempty" json:"type,omitempty"`

	// Ref names the entity for references elsewhere in the document.
	Ref string `yaml:"ref,omitempty" json:"ref,omitempty"`

	// Item binds the entity to a known store item.
	Item int64 `yaml:"item,omitempty" json:"item,omitempty"`

	// Object makes the entity the globally identified object with this id.
	Object string `yaml:"object,omitempty" json:"object,omitempty"`

	// Find only looks the entity up among places already in the
	// transaction; it never adds one.
	Find bool `yaml:"find,omitempty" json:"find,omitempty"`

	Values map[string]any `yaml:"values,omitempty" json:"values,omitempty"`
}

// BagSpec declares a bag over every stored item of Type matching Where.
type BagSpec struct {
	Type    string         `yaml:"type" json:"type"`
	Where   map[string]any `yaml:"where,omitempty" json:"where,omitempty"`
	Exclude []string       `yaml:"exclude,omitempty" json:"exclude,omitempty"`
	Change  map[string]any `yaml:"change,omitempty" json:"change,omitempty"`
	Delete  bool           `yaml:"delete,omitempty" json:"delete,omitempty"`
}
