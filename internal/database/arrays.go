package database

import "github.com/lib/pq"

// pqArray adapts a Go string slice to the driver.Valuer lib/pq expects for
// binding against a Postgres text[] parameter (used with ANY($n)).
func pqArray(ids []string) interface{} {
	return pq.Array(ids)
}
