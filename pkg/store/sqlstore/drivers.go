package sqlstore

// Blank-import every dialect's database/sql driver so callers only need to
// import sqlstore and pass a DSN + dialect name to sql.Open — mirrors how
// the teacher's go.mod carries all three drivers for v2/task.SQLTaskStore.
import (
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)
