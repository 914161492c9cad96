package customcol

import (
	"fmt"
	"strings"
)

// Identifiers cannot be bound as parameters. Every name below is built from
// the numeric column id alone, so nothing user supplied reaches the DDL.

func tableName(id int) string     { return fmt.Sprintf("custom_column_%d", id) }
func linkTableName(id int) string { return fmt.Sprintf("books_custom_column_%d_link", id) }

func raiseIfMissing(cond, message string) string {
	return fmt.Sprintf(`SELECT CASE WHEN (%s) IS NULL THEN RAISE(ABORT, '%s') END;`, cond, message)
}

// createStatements returns the DDL for a new column's backing objects
func createStatements(id int, dt Datatype, isMultiple bool) []string {
	if _, ok := dt.(Composite); ok {
		return nil
	}
	table := tableName(id)
	collate := ""
	if dt.SQLType() == "TEXT" {
		collate = " COLLATE NOCASE"
	}
	bookCheck := raiseIfMissing("SELECT id FROM books WHERE id=NEW.book", "Foreign key violation: book not in books")

	if !dt.Normalized() {
		return []string{
			fmt.Sprintf(`CREATE TABLE %s (
  id    INTEGER PRIMARY KEY AUTOINCREMENT,
  book  INTEGER,
  value %s NOT NULL%s,
  UNIQUE(book)
)`, table, dt.SQLType(), collate),
			fmt.Sprintf(`CREATE INDEX %s_idx ON %s (book)`, table, table),
			fmt.Sprintf(`CREATE TRIGGER fkc_insert_%s BEFORE INSERT ON %s BEGIN %s END`, table, table, bookCheck),
			fmt.Sprintf(`CREATE TRIGGER fkc_update_%s BEFORE UPDATE OF book ON %s BEGIN %s END`, table, table, bookCheck),
		}
	}

	link := linkTableName(id)
	extra := ""
	if _, ok := dt.(Series); ok {
		extra = ",\n  extra REAL"
	}
	unique := "UNIQUE(book)"
	if isMultiple {
		unique = "UNIQUE(book, value)"
	}
	valueCheck := raiseIfMissing(
		fmt.Sprintf("SELECT id FROM %s WHERE id=NEW.value", table),
		fmt.Sprintf("Foreign key violation: value not in %s", table))

	return []string{
		fmt.Sprintf(`CREATE TABLE %s (
  id    INTEGER PRIMARY KEY AUTOINCREMENT,
  value %s NOT NULL%s,
  link  TEXT NOT NULL DEFAULT '',
  UNIQUE(value)
)`, table, dt.SQLType(), collate),
		fmt.Sprintf(`CREATE INDEX %s_idx ON %s (value%s)`, table, table, collate),
		fmt.Sprintf(`CREATE TABLE %s (
  id    INTEGER PRIMARY KEY AUTOINCREMENT,
  book  INTEGER NOT NULL,
  value INTEGER NOT NULL%s,
  %s
)`, link, extra, unique),
		fmt.Sprintf(`CREATE INDEX %s_aidx ON %s (value)`, link, link),
		fmt.Sprintf(`CREATE INDEX %s_bidx ON %s (book)`, link, link),
		fmt.Sprintf(`CREATE TRIGGER fkc_insert_%s_a BEFORE INSERT ON %s BEGIN %s END`, link, link, bookCheck),
		fmt.Sprintf(`CREATE TRIGGER fkc_insert_%s_b BEFORE INSERT ON %s BEGIN %s END`, link, link, valueCheck),
		fmt.Sprintf(`CREATE TRIGGER fkc_update_%s_a BEFORE UPDATE OF book ON %s BEGIN %s END`, link, link, bookCheck),
		fmt.Sprintf(`CREATE TRIGGER fkc_update_%s_b BEFORE UPDATE OF value ON %s BEGIN %s END`, link, link, valueCheck),
		fmt.Sprintf(`CREATE TRIGGER fkc_delete_%s AFTER DELETE ON %s BEGIN DELETE FROM %s WHERE value=OLD.id; END`,
			link, table, link),
		tagBrowserView(id, false),
		tagBrowserView(id, true),
	}
}

// tagBrowserView counts books per value and averages their ratings. The
// filtered variant only counts books passing books_list_filter.
func tagBrowserView(id int, filtered bool) string {
	table, link := tableName(id), linkTableName(id)
	name := "tag_browser_" + table
	countFilter, ratingFilter := "", ""
	if filtered {
		name = "tag_browser_filtered_" + table
		countFilter = " AND books_list_filter(book)"
		ratingFilter = " AND books_list_filter(bl.book)"
	}
	return fmt.Sprintf(`CREATE VIEW %[1]s AS SELECT
  id,
  value,
  (SELECT COUNT(%[3]s.id) FROM %[3]s WHERE value=%[2]s.id%[4]s) count,
  (SELECT AVG(r.rating) FROM %[3]s, books_ratings_link AS bl, ratings AS r
     WHERE %[3]s.value=%[2]s.id AND bl.book=%[3]s.book AND r.id=bl.rating AND r.rating <> 0%[5]s) avg_rating,
  value AS sort
FROM %[2]s`, name, table, link, countFilter, ratingFilter)
}

// dropStatements removes every backing object of a column. Safe to run on
// partially created columns.
func dropStatements(id int) []string {
	table, link := tableName(id), linkTableName(id)
	return []string{
		"DROP VIEW IF EXISTS tag_browser_" + table,
		"DROP VIEW IF EXISTS tag_browser_filtered_" + table,
		"DROP TRIGGER IF EXISTS fkc_insert_" + table,
		"DROP TRIGGER IF EXISTS fkc_update_" + table,
		"DROP TRIGGER IF EXISTS fkc_insert_" + link + "_a",
		"DROP TRIGGER IF EXISTS fkc_insert_" + link + "_b",
		"DROP TRIGGER IF EXISTS fkc_update_" + link + "_a",
		"DROP TRIGGER IF EXISTS fkc_update_" + link + "_b",
		"DROP TRIGGER IF EXISTS fkc_delete_" + link,
		"DROP TABLE IF EXISTS " + link,
		"DROP TABLE IF EXISTS " + table,
	}
}

// deleteTriggerSQL cascades book deletion into every custom column. It is a
// TEMP trigger, so it lives only as long as the connection.
func deleteTriggerSQL(cols []*Column) string {
	var body []string
	for _, c := range cols {
		switch {
		case c.Datatype.Name() == "composite":
		case c.Normalized:
			body = append(body, fmt.Sprintf("DELETE FROM %s WHERE book=OLD.id;", linkTableName(c.ID)))
		default:
			body = append(body, fmt.Sprintf("DELETE FROM %s WHERE book=OLD.id;", tableName(c.ID)))
		}
	}
	if len(body) == 0 {
		return ""
	}
	return "CREATE TEMP TRIGGER custom_books_delete_trg AFTER DELETE ON books BEGIN\n  " +
		strings.Join(body, "\n  ") + "\nEND"
}
