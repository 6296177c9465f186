package postgres

import "github.com/ekaya-inc/ekaya-bi/pkg/adapters/datasource"

func init() {
	datasource.Register(datasource.Registration{
		Info: datasource.AdapterInfo{
			Type:        "postgres",
			DisplayName: "PostgreSQL",
			Description: "Connect to PostgreSQL 12+, Aurora PostgreSQL, Supabase",
		},
		Open: Open,
	})
}
