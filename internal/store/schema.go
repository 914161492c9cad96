package store

// Schema v1 - the library catalogue
const schemaV1 = `
CREATE TABLE authors (
  id   INTEGER PRIMARY KEY,
  name TEXT NOT NULL COLLATE NOCASE,
  sort TEXT COLLATE NOCASE,
  link TEXT NOT NULL DEFAULT '',
  UNIQUE(name)
);

CREATE TABLE books (
  id            INTEGER PRIMARY KEY AUTOINCREMENT,
  title         TEXT NOT NULL DEFAULT 'Unknown' COLLATE NOCASE,
  sort          TEXT COLLATE NOCASE,
  timestamp     TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
  pubdate       TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
  series_index  REAL NOT NULL DEFAULT 1.0,
  author_sort   TEXT COLLATE NOCASE,
  path          TEXT NOT NULL DEFAULT '',
  flags         INTEGER NOT NULL DEFAULT 1,
  uuid          TEXT,
  has_cover     BOOL DEFAULT 0,
  last_modified TIMESTAMP NOT NULL DEFAULT '2000-01-01 00:00:00+00:00'
);

CREATE TABLE books_authors_link (
  id     INTEGER PRIMARY KEY,
  book   INTEGER NOT NULL,
  author INTEGER NOT NULL,
  UNIQUE(book, author)
);

CREATE TABLE tags (
  id   INTEGER PRIMARY KEY,
  name TEXT NOT NULL COLLATE NOCASE,
  UNIQUE (name)
);

CREATE TABLE books_tags_link (
  id   INTEGER PRIMARY KEY,
  book INTEGER NOT NULL,
  tag  INTEGER NOT NULL,
  UNIQUE(book, tag)
);

CREATE TABLE series (
  id   INTEGER PRIMARY KEY,
  name TEXT NOT NULL COLLATE NOCASE,
  sort TEXT COLLATE NOCASE,
  UNIQUE (name)
);

CREATE TABLE books_series_link (
  id     INTEGER PRIMARY KEY,
  book   INTEGER NOT NULL,
  series INTEGER NOT NULL,
  UNIQUE(book)
);

CREATE TABLE publishers (
  id   INTEGER PRIMARY KEY,
  name TEXT NOT NULL COLLATE NOCASE,
  sort TEXT COLLATE NOCASE,
  UNIQUE(name)
);

CREATE TABLE books_publishers_link (
  id        INTEGER PRIMARY KEY,
  book      INTEGER NOT NULL,
  publisher INTEGER NOT NULL,
  UNIQUE(book)
);

CREATE TABLE languages (
  id        INTEGER PRIMARY KEY,
  lang_code TEXT NOT NULL COLLATE NOCASE,
  UNIQUE(lang_code)
);

CREATE TABLE books_languages_link (
  id         INTEGER PRIMARY KEY,
  book       INTEGER NOT NULL,
  lang_code  INTEGER NOT NULL,
  item_order INTEGER NOT NULL DEFAULT 0,
  UNIQUE(book, lang_code)
);

CREATE TABLE ratings (
  id     INTEGER PRIMARY KEY,
  rating INTEGER CHECK(rating > -1 AND rating < 11),
  UNIQUE (rating)
);

CREATE TABLE books_ratings_link (
  id     INTEGER PRIMARY KEY,
  book   INTEGER NOT NULL,
  rating INTEGER NOT NULL,
  UNIQUE(book)
);

CREATE TABLE identifiers (
  id   INTEGER PRIMARY KEY,
  book INTEGER NOT NULL,
  type TEXT NOT NULL DEFAULT 'isbn' COLLATE NOCASE,
  val  TEXT NOT NULL COLLATE NOCASE,
  UNIQUE(book, type)
);

CREATE TABLE data (
  id                INTEGER PRIMARY KEY,
  book              INTEGER NOT NULL,
  format            TEXT NOT NULL COLLATE NOCASE,
  uncompressed_size INTEGER NOT NULL,
  name              TEXT NOT NULL,
  UNIQUE(book, format)
);

CREATE TABLE comments (
  id   INTEGER PRIMARY KEY,
  book INTEGER NOT NULL,
  text TEXT NOT NULL COLLATE NOCASE,
  UNIQUE(book)
);

CREATE TABLE custom_columns (
  id              INTEGER PRIMARY KEY AUTOINCREMENT,
  label           TEXT NOT NULL,
  name            TEXT NOT NULL,
  datatype        TEXT NOT NULL,
  mark_for_delete BOOL DEFAULT 0 NOT NULL,
  editable        BOOL DEFAULT 1 NOT NULL,
  display         TEXT DEFAULT '{}' NOT NULL,
  is_multiple     BOOL DEFAULT 0 NOT NULL,
  normalized      BOOL NOT NULL,
  UNIQUE(label)
);

CREATE TABLE preferences (
  id  INTEGER PRIMARY KEY,
  key TEXT NOT NULL,
  val TEXT NOT NULL,
  UNIQUE(key)
);

CREATE TABLE library_id (
  id   INTEGER PRIMARY KEY,
  uuid TEXT NOT NULL,
  UNIQUE(uuid)
);

CREATE TABLE conversion_options (
  id     INTEGER PRIMARY KEY,
  format TEXT NOT NULL COLLATE NOCASE,
  book   INTEGER,
  data   BLOB NOT NULL,
  UNIQUE(format, book)
);

CREATE TABLE books_plugin_data (
  id   INTEGER PRIMARY KEY,
  book INTEGER NOT NULL,
  name TEXT NOT NULL,
  val  TEXT NOT NULL,
  UNIQUE(book, name)
);

CREATE INDEX authors_idx ON books (author_sort COLLATE NOCASE);
CREATE INDEX books_idx ON books (sort COLLATE NOCASE);
CREATE INDEX books_authors_link_aidx ON books_authors_link (author);
CREATE INDEX books_authors_link_bidx ON books_authors_link (book);
CREATE INDEX books_tags_link_aidx ON books_tags_link (tag);
CREATE INDEX books_tags_link_bidx ON books_tags_link (book);
CREATE INDEX books_series_link_aidx ON books_series_link (series);
CREATE INDEX books_series_link_bidx ON books_series_link (book);
CREATE INDEX books_publishers_link_aidx ON books_publishers_link (publisher);
CREATE INDEX books_publishers_link_bidx ON books_publishers_link (book);
CREATE INDEX books_languages_link_aidx ON books_languages_link (lang_code);
CREATE INDEX books_languages_link_bidx ON books_languages_link (book);
CREATE INDEX books_ratings_link_aidx ON books_ratings_link (rating);
CREATE INDEX books_ratings_link_bidx ON books_ratings_link (book);
CREATE INDEX comments_idx ON comments (book);
CREATE INDEX data_idx ON data (book);
CREATE INDEX formats_idx ON data (format);
CREATE INDEX identifiers_idx ON identifiers (book);
CREATE INDEX tags_idx ON tags (name COLLATE NOCASE);
CREATE INDEX series_idx ON series (name COLLATE NOCASE);
CREATE INDEX publishers_idx ON publishers (name COLLATE NOCASE);
CREATE INDEX custom_columns_idx ON custom_columns (label);
CREATE INDEX conversion_options_idx_a ON conversion_options (format COLLATE NOCASE);
CREATE INDEX conversion_options_idx_b ON conversion_options (book);

CREATE TRIGGER books_delete_trg
  AFTER DELETE ON books
  BEGIN
    DELETE FROM books_authors_link WHERE book=OLD.id;
    DELETE FROM books_publishers_link WHERE book=OLD.id;
    DELETE FROM books_ratings_link WHERE book=OLD.id;
    DELETE FROM books_series_link WHERE book=OLD.id;
    DELETE FROM books_tags_link WHERE book=OLD.id;
    DELETE FROM books_languages_link WHERE book=OLD.id;
    DELETE FROM data WHERE book=OLD.id;
    DELETE FROM comments WHERE book=OLD.id;
    DELETE FROM conversion_options WHERE book=OLD.id;
    DELETE FROM books_plugin_data WHERE book=OLD.id;
    DELETE FROM identifiers WHERE book=OLD.id;
  END;

CREATE TRIGGER books_insert_trg
  AFTER INSERT ON books
  BEGIN
    UPDATE books SET sort=title_sort(NEW.title), uuid=COALESCE(NEW.uuid, uuid4())
      WHERE id=NEW.id;
  END;

CREATE TRIGGER books_update_trg
  AFTER UPDATE OF title ON books
  BEGIN
    UPDATE books SET sort=title_sort(NEW.title)
      WHERE id=NEW.id AND OLD.title <> NEW.title;
  END;

CREATE TRIGGER fkc_comments_insert
  BEFORE INSERT ON comments
  BEGIN
    SELECT CASE
      WHEN (SELECT id FROM books WHERE id=NEW.book) IS NULL
      THEN RAISE(ABORT, 'Foreign key violation: book not in books')
    END;
  END;

CREATE TRIGGER fkc_comments_update
  BEFORE UPDATE OF book ON comments
  BEGIN
    SELECT CASE
      WHEN (SELECT id FROM books WHERE id=NEW.book) IS NULL
      THEN RAISE(ABORT, 'Foreign key violation: book not in books')
    END;
  END;

CREATE TRIGGER fkc_data_insert
  BEFORE INSERT ON data
  BEGIN
    SELECT CASE
      WHEN (SELECT id FROM books WHERE id=NEW.book) IS NULL
      THEN RAISE(ABORT, 'Foreign key violation: book not in books')
    END;
  END;

CREATE TRIGGER fkc_data_update
  BEFORE UPDATE OF book ON data
  BEGIN
    SELECT CASE
      WHEN (SELECT id FROM books WHERE id=NEW.book) IS NULL
      THEN RAISE(ABORT, 'Foreign key violation: book not in books')
    END;
  END;

CREATE TRIGGER fkc_identifiers_insert
  BEFORE INSERT ON identifiers
  BEGIN
    SELECT CASE
      WHEN (SELECT id FROM books WHERE id=NEW.book) IS NULL
      THEN RAISE(ABORT, 'Foreign key violation: book not in books')
    END;
  END;
`

// linkTable describes one normalised many-to-one/many-to-many link
type linkTable struct {
	link, column, target string
}

var builtinLinks = []linkTable{
	{"books_authors_link", "author", "authors"},
	{"books_tags_link", "tag", "tags"},
	{"books_series_link", "series", "series"},
	{"books_publishers_link", "publisher", "publishers"},
	{"books_languages_link", "lang_code", "languages"},
	{"books_ratings_link", "rating", "ratings"},
}

// fkcTriggers returns the foreign-key triggers guarding a link table in both
// directions. Names come from the fixed builtinLinks list only.
func fkcTriggers(lt linkTable) string {
	return `
CREATE TRIGGER fkc_insert_` + lt.link + `
  BEFORE INSERT ON ` + lt.link + `
  BEGIN
    SELECT CASE
      WHEN (SELECT id FROM books WHERE id=NEW.book) IS NULL
      THEN RAISE(ABORT, 'Foreign key violation: book not in books')
      WHEN (SELECT id FROM ` + lt.target + ` WHERE id=NEW.` + lt.column + `) IS NULL
      THEN RAISE(ABORT, 'Foreign key violation: ` + lt.column + ` not in ` + lt.target + `')
    END;
  END;

CREATE TRIGGER fkc_update_` + lt.link + `_a
  BEFORE UPDATE OF book ON ` + lt.link + `
  BEGIN
    SELECT CASE
      WHEN (SELECT id FROM books WHERE id=NEW.book) IS NULL
      THEN RAISE(ABORT, 'Foreign key violation: book not in books')
    END;
  END;

CREATE TRIGGER fkc_update_` + lt.link + `_b
  BEFORE UPDATE OF ` + lt.column + ` ON ` + lt.link + `
  BEGIN
    SELECT CASE
      WHEN (SELECT id FROM ` + lt.target + ` WHERE id=NEW.` + lt.column + `) IS NULL
      THEN RAISE(ABORT, 'Foreign key violation: ` + lt.column + ` not in ` + lt.target + `')
    END;
  END;

CREATE TRIGGER fkc_delete_on_` + lt.target + `
  BEFORE DELETE ON ` + lt.target + `
  BEGIN
    SELECT CASE
      WHEN (SELECT COUNT(id) FROM ` + lt.link + ` WHERE ` + lt.column + `=OLD.id) > 0
      THEN RAISE(ABORT, 'Foreign key violation: ` + lt.target + ` is still referenced')
    END;
  END;
`
}

// Author sort triggers, dropped and re-created on every open
const (
	dropAuthorTriggers = `
DROP TRIGGER IF EXISTS author_insert_trg;
DROP TRIGGER IF EXISTS author_update_trg;
`
	createAuthorTriggers = `
CREATE TRIGGER author_insert_trg
  AFTER INSERT ON authors
  BEGIN
    UPDATE authors SET sort=author_to_author_sort(NEW.name) WHERE id=NEW.id;
  END;

CREATE TRIGGER author_update_trg
  AFTER UPDATE ON authors
  BEGIN
    UPDATE authors SET sort=author_to_author_sort(NEW.name) WHERE id=NEW.id;
  END;
`
	fixNullAuthorSort = `UPDATE authors SET sort=author_to_author_sort(name) WHERE sort IS NULL`
)

// Schema v2 - queue of books whose metadata backup is stale
const schemaV2 = `
CREATE TABLE metadata_dirtied (
  id   INTEGER PRIMARY KEY,
  book INTEGER NOT NULL,
  UNIQUE(book)
);

DROP TRIGGER IF EXISTS books_delete_trg;
CREATE TRIGGER books_delete_trg
  AFTER DELETE ON books
  BEGIN
    DELETE FROM books_authors_link WHERE book=OLD.id;
    DELETE FROM books_publishers_link WHERE book=OLD.id;
    DELETE FROM books_ratings_link WHERE book=OLD.id;
    DELETE FROM books_series_link WHERE book=OLD.id;
    DELETE FROM books_tags_link WHERE book=OLD.id;
    DELETE FROM books_languages_link WHERE book=OLD.id;
    DELETE FROM data WHERE book=OLD.id;
    DELETE FROM comments WHERE book=OLD.id;
    DELETE FROM conversion_options WHERE book=OLD.id;
    DELETE FROM books_plugin_data WHERE book=OLD.id;
    DELETE FROM identifiers WHERE book=OLD.id;
    DELETE FROM metadata_dirtied WHERE book=OLD.id;
  END;
`

// Schema v3 - reading positions synced from readers
const schemaV3 = `
CREATE TABLE last_read_positions (
  id       INTEGER PRIMARY KEY,
  book     INTEGER NOT NULL,
  format   TEXT NOT NULL COLLATE NOCASE,
  user     TEXT NOT NULL,
  device   TEXT NOT NULL,
  cfi      TEXT NOT NULL,
  epoch    REAL NOT NULL,
  pos_frac REAL NOT NULL DEFAULT 0,
  UNIQUE(user, device, book, format)
);

CREATE INDEX lrp_idx ON last_read_positions (book);

DROP TRIGGER IF EXISTS books_delete_trg;
CREATE TRIGGER books_delete_trg
  AFTER DELETE ON books
  BEGIN
    DELETE FROM books_authors_link WHERE book=OLD.id;
    DELETE FROM books_publishers_link WHERE book=OLD.id;
    DELETE FROM books_ratings_link WHERE book=OLD.id;
    DELETE FROM books_series_link WHERE book=OLD.id;
    DELETE FROM books_tags_link WHERE book=OLD.id;
    DELETE FROM books_languages_link WHERE book=OLD.id;
    DELETE FROM data WHERE book=OLD.id;
    DELETE FROM comments WHERE book=OLD.id;
    DELETE FROM conversion_options WHERE book=OLD.id;
    DELETE FROM books_plugin_data WHERE book=OLD.id;
    DELETE FROM identifiers WHERE book=OLD.id;
    DELETE FROM metadata_dirtied WHERE book=OLD.id;
    DELETE FROM last_read_positions WHERE book=OLD.id;
  END;
`

// Schema v4 - links on the remaining normalised tables
const schemaV4 = `
ALTER TABLE tags ADD COLUMN link TEXT NOT NULL DEFAULT '';
ALTER TABLE series ADD COLUMN link TEXT NOT NULL DEFAULT '';
ALTER TABLE publishers ADD COLUMN link TEXT NOT NULL DEFAULT '';
ALTER TABLE languages ADD COLUMN link TEXT NOT NULL DEFAULT '';
`
