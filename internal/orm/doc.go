// Package orm maps Go structs onto SQLite tables.
//
// A model type declares its columns once, as an ordered Schema of Field
// descriptors. Each descriptor is a pair of name and field accessor, plus
// the SQL type and constraints:
//
//	type Target struct {
//	    ID   int64
//	    Name string
//	}
//
//	var targetSchema = orm.MustSchema("targets",
//	    orm.Field("id", func(t *Target) *int64 { return &t.ID }, orm.PrimaryKey()),
//	    orm.Field("name", func(t *Target) *string { return &t.Name }, orm.NotNull()),
//	)
//
//	targets := orm.NewTable(conn, targetSchema)
//	err := targets.CreateTable(ctx, true)
//	err = targets.Insert(ctx, Target{ID: 1, Name: "Vega"})
//	rows, err := targets.Query(ctx, "id = ?", -1, 0, 1)
//
// Conditions are raw SQL. Values should be passed as "?" arguments rather
// than formatted into the condition text.
package orm
