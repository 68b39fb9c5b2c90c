// Package schema declares the shape of a universe in CUE.
//
// A schema lists tables and their columns:
//
//	table: containers: columns: {
//		id:    {type: "int"}
//		label: "string"
//	}
//	table: items: columns: {
//		id:       {type: "int"}
//		qty:      {type: "int", tracked: true}
//		location: {type: "ref", ref: "containers", on_remove: "cascade"}
//	}
//
// A column is either a bare type name or a struct with type and the
// optional ref, on_remove and tracked fields. Supported types:
//
//	int     int64
//	float   float64
//	string  string
//	bool    bool
//	ref     ir.RowID (a row of the table named by ref)
//
// Compile turns a CUE value into a Schema, Validate checks it, and Apply
// declares it on an engine.Universe, installing one linkage.ForeignKey
// per ref column. AnalyzeCycles reports reference cycles, which make
// cascading removals revisit tables.
package schema
