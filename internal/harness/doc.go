// Package harness runs YAML scenarios against a real universe.
//
// # Scenario Format
//
//	name: cascade_remove
//	description: "Removing a container removes its items"
//	schema: ../schemas/warehouse.cue   # relative to the scenario file
//	token: warehouse                   # token prefix, default "test-token"
//	steps:
//	  - name: stock
//	    push:
//	      - table: containers
//	        rows: [{id: 1, label: a}]
//	  - name: restock
//	    edit:
//	      - {table: items, row: 1, set: {qty: 5}}
//	  - name: clear
//	    remove:
//	      - {table: containers, rows: [0]}
//	    expect_error: ""               # error code the step must fail with
//	assertions:
//	  - {type: table_len, table: items, count: 1}
//	  - {type: cell, table: items, row: 0, column: qty, value: 5}
//	  - {type: no_dangling, table: items, column: location}
//	  - {type: fact_count, kind: removed, table: items, count: 1}
//
// Each step is one kernel invocation. Within a step pushes run first,
// then edits, then removals; removals take effect when the step ends, as
// for any kernel. Row ids are the ids current when the step starts.
//
// # Assertion Types
//
//   - table_len: the table has exactly count rows
//   - cell: row of column holds value
//   - no_dangling: every reference in the ref column names a live row
//   - fact_count: exactly count facts of kind were produced on table
//     (and column, for edited facts)
//
// # Deterministic Testing
//
// Every scenario gets a fresh universe with a fresh logical clock and
// sequential tokens (testutil.SequentialTokens), so the same scenario
// always produces the same trace. RunWithGolden compares that trace
// against testdata/golden/<name>.golden.
package harness
