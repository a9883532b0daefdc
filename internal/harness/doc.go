// Package harness runs import scenarios against a fresh item store.
//
// A scenario names a schema and a list of steps. Each step imports one
// document in its own transaction and may state what the commit should
// report. After the last step, assertions check the items left in the store.
//
// # Scenario Format
//
//	name: project_upsert
//	description: "Second import finds the project it created"
//	schema: shop.cue
//	steps:
//	  - name: initial
//	    document:
//	      entities:
//	        - type: shop.Product
//	          values: {sku: A-1, name: Anvil}
//	    expect: {created: 1, materialized: 1}
//	  - name: rename
//	    file: rename.yaml
//	    expect: {found: 1}
//	assertions:
//	  - type: item_count
//	    item_type: shop.Product
//	    count: 1
//	  - type: item_values
//	    item_type: shop.Product
//	    where: {sku: A-1}
//	    expect: {name: Anvil Pro}
//
// Paths are relative to the scenario file.
//
// # Assertion Types
//
//   - item_count: exactly count alive items of item_type match where
//   - item_values: exactly one item matches, and it holds expect (subset match)
//   - item_absent: no item matches
//
// Where and expect name schema keys; other names are used as raw store
// attributes (for example sys.type). References compare by descriptor
// for materialized items and by "#id" otherwise.
//
// # Deterministic Testing
//
// Transaction ids come from testutil.TxIDs and every scenario gets its own
// store, so the same scenario always produces the same snapshot. Snapshots
// are compared against golden files with goldie.
package harness
